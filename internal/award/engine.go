// Package award отмечает выбранного поставщика по позиции RFQ и рассылает
// уведомления заказчику и победителю.
package award

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rfqdesk/db"
	"rfqdesk/internal/apperr"
	"rfqdesk/internal/config"
	"rfqdesk/internal/notify"
	"rfqdesk/internal/token"
	"rfqdesk/models"
)

var (
	ErrNoItemsUpdated = apperr.New(apperr.KindNotFound, "no_items_updated", "no items updated")
	ErrBadRequest     = apperr.New(apperr.KindValidation, "bad_award_request", "item_name and vendor_name are required")
)

type Store interface {
	GetVendorByName(ctx context.Context, name string) (*models.Vendor, error)
	ListVendorReplies(ctx context.Context, rfqID string) ([]models.VendorReply, error)
	AwardItem(ctx context.Context, rfqID, itemName, vendorName string, exclusive bool) (*db.AwardResult, error)
	AdvanceRFQStatus(ctx context.Context, id string, from, to models.RFQStatus) (bool, error)
}

type Notifier interface {
	Enqueue(msg notify.Message) bool
}

type Engine struct {
	store     Store
	notifier  Notifier
	verifier  *token.Verifier
	exclusive bool
}

// NewEngine policy: config.AwardAllowMultiple или config.AwardExclusive
func NewEngine(store Store, notifier Notifier, verifier *token.Verifier, policy string) *Engine {
	return &Engine{
		store:     store,
		notifier:  notifier,
		verifier:  verifier,
		exclusive: policy == config.AwardExclusive,
	}
}

type Result struct {
	Updated           int
	Revoked           []string
	RequesterNotified bool
	VendorNotified    bool
}

// Replies все ответы поставщиков на RFQ для экрана выбора победителя
func (e *Engine) Replies(ctx context.Context, rfqID, raw string) ([]models.VendorReply, error) {
	if _, err := e.verifier.Authorize(raw, rfqID, token.AudienceRequester); err != nil {
		return nil, err
	}
	replies, err := e.store.ListVendorReplies(ctx, rfqID)
	if err != nil {
		return nil, fmt.Errorf("list vendor replies: %w", err)
	}
	return replies, nil
}

// Award отмечает позицию itemName выигранной поставщиком vendorName.
// Повторный вызов ничего не меняет и возвращает то же число ответов.
func (e *Engine) Award(ctx context.Context, rfqID, raw, itemName, vendorName string) (*Result, error) {
	claims, err := e.verifier.Authorize(raw, rfqID, token.AudienceRequester)
	if err != nil {
		return nil, err
	}
	itemName = strings.TrimSpace(itemName)
	vendorName = strings.TrimSpace(vendorName)
	if itemName == "" || vendorName == "" {
		return nil, ErrBadRequest
	}

	out, err := e.store.AwardItem(ctx, rfqID, itemName, vendorName, e.exclusive)
	if err != nil {
		return nil, fmt.Errorf("award item: %w", err)
	}
	if out.Updated == 0 {
		return nil, ErrNoItemsUpdated
	}
	slog.Info("item awarded",
		"rfq_id", rfqID,
		"item", itemName,
		"vendor", vendorName,
		"updated", out.Updated,
		"revoked", out.Revoked,
	)

	if _, err := e.store.AdvanceRFQStatus(ctx, rfqID, models.RFQReplied, models.RFQDecided); err != nil {
		slog.Warn("failed to advance rfq status", "rfq_id", rfqID, "error", err)
	}

	res := &Result{Updated: out.Updated, Revoked: out.Revoked}
	res.RequesterNotified = e.notifier.Enqueue(notify.AwardRequester(rfqID, claims.Email, itemName, vendorName, out.Updated))

	if to := e.vendorEmail(ctx, vendorName, out.Replies); to != "" {
		res.VendorNotified = e.notifier.Enqueue(notify.AwardVendor(rfqID, to, itemName, vendorName))
	} else {
		slog.Warn("no email for awarded vendor, notice skipped", "rfq_id", rfqID, "vendor", vendorName)
	}
	return res, nil
}

// vendorEmail адрес из справочника, иначе адрес из самого ответа
func (e *Engine) vendorEmail(ctx context.Context, vendorName string, replies []models.VendorReply) string {
	v, err := e.store.GetVendorByName(ctx, vendorName)
	switch {
	case err == nil && strings.TrimSpace(v.Email) != "":
		return v.Email
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		slog.Warn("vendor lookup failed", "vendor", vendorName, "error", err)
	}
	for _, r := range replies {
		if strings.TrimSpace(r.VendorEmail) != "" {
			return r.VendorEmail
		}
	}
	return ""
}
