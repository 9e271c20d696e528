// Package quote принимает ответ поставщика на RFQ: проверяет ссылку,
// сопоставляет цены с позициями, загружает вложения, считает итоги и
// сохраняет одну запись на пару (RFQ, поставщик).
package quote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"rfqdesk/db"
	"rfqdesk/internal/apperr"
	"rfqdesk/internal/config"
	"rfqdesk/internal/filestore"
	"rfqdesk/internal/lock"
	"rfqdesk/internal/notify"
	"rfqdesk/internal/projection"
	"rfqdesk/internal/token"
	"rfqdesk/models"

	"github.com/google/uuid"
)

var (
	ErrVendorNotFound       = apperr.New(apperr.KindNotFound, "vendor_not_found", "vendor not found")
	ErrRFQNotFound          = apperr.New(apperr.KindNotFound, "rfq_not_found", "rfq not found")
	ErrReplyNotFound        = apperr.New(apperr.KindNotFound, "reply_not_found", "no reply submitted yet")
	ErrBadItemReplies       = apperr.New(apperr.KindValidation, "bad_item_replies", "invalid itemReplies")
	ErrUnknownItem          = apperr.New(apperr.KindValidation, "unknown_item", "item is not assigned to this vendor")
	ErrSubmissionInProgress = apperr.New(apperr.KindConflict, "submission_in_progress", "another submission is in progress")
	ErrReplyExists          = apperr.New(apperr.KindConflict, "reply_exists", "reply already submitted")
	ErrReplyAwarded         = apperr.New(apperr.KindConflict, "reply_awarded", "reply already holds an award and cannot be replaced")
)

// Store часть хранилища, нужная для приёма ответов
type Store interface {
	GetRFQ(ctx context.Context, id string) (*models.RFQ, error)
	GetVendorByEmail(ctx context.Context, email string) (*models.Vendor, error)
	GetVendorReply(ctx context.Context, rfqID, vendorEmail string) (*models.VendorReply, error)
	CreateVendorReply(ctx context.Context, r *models.VendorReply) error
	UpsertVendorReply(ctx context.Context, r *models.VendorReply) (bool, error)
	AdvanceRFQStatus(ctx context.Context, id string, from, to models.RFQStatus) (bool, error)
}

type Notifier interface {
	Enqueue(msg notify.Message) bool
}

type Options struct {
	ReplyPolicy string
	LockTTL     time.Duration
}

type Service struct {
	store    Store
	files    filestore.Store
	notifier Notifier
	locker   lock.Locker
	verifier *token.Verifier
	opts     Options
}

func NewService(store Store, files filestore.Store, notifier Notifier, locker lock.Locker, verifier *token.Verifier, opts Options) *Service {
	if opts.ReplyPolicy == "" {
		opts.ReplyPolicy = config.ReplyOverwrite
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if files == nil {
		files = filestore.Disabled{}
	}
	return &Service{
		store:    store,
		files:    files,
		notifier: notifier,
		locker:   locker,
		verifier: verifier,
		opts:     opts,
	}
}

// ItemReply цена поставщика по одной позиции, как она приходит из формы
type ItemReply struct {
	ItemID   string        `json:"itemId"`
	Price    models.Number `json:"price"`
	LeadTime models.Number `json:"leadTime"`
	Notes    string        `json:"notes"`
}

// Submission разобранная форма ответа
type Submission struct {
	RFQID           string
	Token           string
	ItemReplies     string // JSON-массив ItemReply
	DeliveryCharges string
	Discount        string
	Notes           string
	// Files вложения по ключу поля без префикса files_:
	// id позиции или (по-старому) её номер в списке поставщика
	Files map[string][]filestore.File
}

type Result struct {
	ReplyID          string
	Vendor           string
	ItemsProcessed   int
	FilesUploaded    int
	FolderLink       string
	ConfirmationSent bool
	Created          bool
}

// ParseItemReplies разбирает itemReplies. У каждой записи должен быть
// свой itemId, повторы запрещены.
func ParseItemReplies(raw string) ([]ItemReply, error) {
	var replies []ItemReply
	if err := json.Unmarshal([]byte(raw), &replies); err != nil {
		return nil, apperr.Wrap(ErrBadItemReplies, err)
	}
	seen := make(map[string]bool, len(replies))
	for i := range replies {
		id := strings.TrimSpace(replies[i].ItemID)
		if id == "" {
			return nil, apperr.Wrap(ErrBadItemReplies, fmt.Errorf("entry %d has no itemId", i))
		}
		if seen[id] {
			return nil, apperr.Wrap(ErrBadItemReplies, fmt.Errorf("duplicate itemId %q", id))
		}
		seen[id] = true
		replies[i].ItemID = id
	}
	return replies, nil
}

// Items позиции RFQ, которые видит поставщик по своей ссылке
func (s *Service) Items(ctx context.Context, rfqID, raw string) (*models.Vendor, []models.VendorItem, error) {
	vendor, rfq, err := s.resolve(ctx, rfqID, raw)
	if err != nil {
		return nil, nil, err
	}
	items, err := projection.ProjectRaw(rfq.ItemsJSON, vendor.Name)
	if err != nil {
		return nil, nil, err
	}
	return vendor, items, nil
}

// Reply текущий ответ поставщика, чтобы заполнить форму при повторной отправке
func (s *Service) Reply(ctx context.Context, rfqID, raw string) (*models.VendorReply, error) {
	vendor, _, err := s.resolve(ctx, rfqID, raw)
	if err != nil {
		return nil, err
	}
	reply, err := s.store.GetVendorReply(ctx, rfqID, vendor.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReplyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vendor reply: %w", err)
	}
	return reply, nil
}

// Submit принимает ответ поставщика. Ошибки проверки прерывают запрос до
// любых изменений; сбои загрузки файлов и отправки письма только логируются.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	vendor, rfq, err := s.resolve(ctx, sub.RFQID, sub.Token)
	if err != nil {
		return nil, err
	}

	replies, err := ParseItemReplies(sub.ItemReplies)
	if err != nil {
		return nil, err
	}

	items, err := projection.ParseItems(rfq.ItemsJSON)
	if err != nil {
		return nil, err
	}
	visible := projection.Project(items, vendor.Name)
	byID := make(map[string]ItemReply, len(replies))
	for _, r := range replies {
		byID[r.ItemID] = r
	}
	known := make(map[string]bool, len(visible))
	for _, it := range visible {
		known[it.ID] = true
	}
	for _, r := range replies {
		if !known[r.ItemID] {
			return nil, apperr.Wrap(ErrUnknownItem, fmt.Errorf("item %q", r.ItemID))
		}
	}

	// строки в порядке позиций RFQ
	lines := make([]models.QuoteLine, 0, len(replies))
	for _, it := range visible {
		r, ok := byID[it.ID]
		if !ok {
			continue
		}
		lines = append(lines, models.QuoteLine{
			ItemID:   it.ID,
			ItemName: it.Name,
			Size:     it.Size,
			Unit:     it.Unit,
			Quantity: string(it.Quantity),
			Price:    string(r.Price),
			LeadTime: string(r.LeadTime),
			Notes:    r.Notes,
			Status:   models.ReplyStatusOpen,
		})
	}

	email := strings.ToLower(strings.TrimSpace(vendor.Email))
	release, ok, err := s.locker.TryLock(ctx, sub.RFQID+"|"+email, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire submission lock: %w", err)
	}
	if !ok {
		return nil, ErrSubmissionInProgress
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("failed to release submission lock", "rfq_id", sub.RFQID, "vendor", vendor.Name, "error", err)
		}
	}()

	// отказ до загрузки файлов; условия в SQL остаются на случай гонки с другим процессом
	if err := s.checkReplaceable(ctx, sub.RFQID, email); err != nil {
		return nil, err
	}

	folderLink, uploaded := s.uploadFiles(ctx, sub, vendor, visible, lines)

	totals := ComputeTotals(lines, ParseAmount(sub.DeliveryCharges), ParseAmount(sub.Discount))
	reply := &models.VendorReply{
		ID:          uuid.NewString(),
		RFQID:       sub.RFQID,
		VendorName:  vendor.Name,
		VendorEmail: email,
		VendorPhone: vendor.Phone,
		Lines:       lines,
		Subtotal:    totals.Subtotal,
		Discount:    totals.Discount,
		Delivery:    totals.Delivery,
		Total:       totals.Total,
		Notes:       sub.Notes,
		FolderLink:  folderLink,
	}

	created, err := s.persist(ctx, reply)
	if err != nil {
		return nil, err
	}
	slog.Info("vendor reply saved",
		"rfq_id", sub.RFQID,
		"vendor", vendor.Name,
		"reply_id", reply.ID,
		"items", len(lines),
		"files", uploaded,
		"created", created,
	)

	if rfq.Status == models.RFQSent {
		if _, err := s.store.AdvanceRFQStatus(ctx, rfq.ID, models.RFQSent, models.RFQReplied); err != nil {
			slog.Warn("failed to advance rfq status", "rfq_id", rfq.ID, "error", err)
		}
	}

	sent := s.notifier.Enqueue(notify.ReplyConfirmation(
		sub.RFQID, vendor.Email, vendor.Name, reply.Total, len(lines), folderLink,
	))

	return &Result{
		ReplyID:          reply.ID,
		Vendor:           vendor.Name,
		ItemsProcessed:   len(lines),
		FilesUploaded:    uploaded,
		FolderLink:       folderLink,
		ConfirmationSent: sent,
		Created:          created,
	}, nil
}

func (s *Service) resolve(ctx context.Context, rfqID, raw string) (*models.Vendor, *models.RFQ, error) {
	claims, err := s.verifier.Authorize(raw, rfqID, token.AudienceVendor)
	if err != nil {
		return nil, nil, err
	}
	vendor, err := s.store.GetVendorByEmail(ctx, claims.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrVendorNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get vendor: %w", err)
	}
	rfq, err := s.store.GetRFQ(ctx, rfqID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrRFQNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get rfq: %w", err)
	}
	return vendor, rfq, nil
}

// checkReplaceable можно ли сохранить новый ответ поставщика при текущей политике
func (s *Service) checkReplaceable(ctx context.Context, rfqID, email string) error {
	existing, err := s.store.GetVendorReply(ctx, rfqID, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get vendor reply: %w", err)
	}
	if s.opts.ReplyPolicy == config.ReplyReject {
		return ErrReplyExists
	}
	if existing.Status == models.ReplyStatusAwarded || existing.HasAward() {
		return ErrReplyAwarded
	}
	return nil
}

func (s *Service) persist(ctx context.Context, reply *models.VendorReply) (bool, error) {
	if s.opts.ReplyPolicy == config.ReplyReject {
		err := s.store.CreateVendorReply(ctx, reply)
		if errors.Is(err, db.ErrReplyExists) {
			return false, ErrReplyExists
		}
		if err != nil {
			return false, fmt.Errorf("create vendor reply: %w", err)
		}
		return true, nil
	}

	created, err := s.store.UpsertVendorReply(ctx, reply)
	if errors.Is(err, db.ErrReplyLocked) {
		return false, ErrReplyAwarded
	}
	if err != nil {
		return false, fmt.Errorf("save vendor reply: %w", err)
	}
	return created, nil
}

// uploadFiles раскладывает вложения по строкам ответа. Любой сбой хранилища
// пишется в лог, а ответ сохраняется без этих файлов.
func (s *Service) uploadFiles(ctx context.Context, sub Submission, vendor *models.Vendor, visible []models.VendorItem, lines []models.QuoteLine) (string, int) {
	if len(sub.Files) == 0 {
		return "", 0
	}

	lineIdx := make(map[string]int, len(lines))
	for i, l := range lines {
		lineIdx[l.ItemID] = i
	}

	var folder *filestore.Folder
	uploaded := 0
	for key, files := range sub.Files {
		if len(files) == 0 {
			continue
		}
		itemID, ok := resolveFileKey(key, visible)
		if !ok {
			slog.Warn("files for unknown item skipped", "rfq_id", sub.RFQID, "vendor", vendor.Name, "field", key)
			continue
		}
		i, ok := lineIdx[itemID]
		if !ok {
			slog.Warn("files for unpriced item skipped", "rfq_id", sub.RFQID, "vendor", vendor.Name, "item_id", itemID)
			continue
		}

		if folder == nil {
			f, err := s.files.CreateFolder(ctx, sub.RFQID+"/"+vendor.Name)
			if err != nil {
				slog.Error("failed to create reply folder", "rfq_id", sub.RFQID, "vendor", vendor.Name, "error", err)
				return "", uploaded
			}
			folder = &f
		}

		links, err := s.files.Upload(ctx, folder.ID, files)
		if err != nil {
			slog.Error("file upload failed",
				"rfq_id", sub.RFQID,
				"vendor", vendor.Name,
				"item_id", itemID,
				"uploaded", len(links),
				"error", err,
			)
		}
		lines[i].Files = append(lines[i].Files, links...)
		uploaded += len(links)
	}

	if folder == nil {
		return "", uploaded
	}
	return folder.Link, uploaded
}

// resolveFileKey ключ поля это id позиции, иначе номер в списке поставщика
func resolveFileKey(key string, visible []models.VendorItem) (string, bool) {
	for _, it := range visible {
		if it.ID == key {
			return it.ID, true
		}
	}
	idx, err := strconv.Atoi(key)
	if err != nil || idx < 0 || idx >= len(visible) {
		return "", false
	}
	return visible[idx].ID, true
}
