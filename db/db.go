package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rfqdesk/models"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrReplyExists ответ поставщика на этот RFQ уже есть (политика reject)
	ErrReplyExists = errors.New("vendor reply already exists")
	// ErrReplyLocked ответ уже содержит выигранные позиции и не перезаписывается
	ErrReplyLocked = errors.New("vendor reply holds an award")
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RFQ (Запрос котировок)

func (s *Storage) GetRFQ(ctx context.Context, id string) (*models.RFQ, error) {
	r := &models.RFQ{}
	query := `
        SELECT id, created_at, requester_name, requester_email, requester_phone,
               items, vendors, status, updated_at
        FROM rfq WHERE id=$1`
	if err := s.db.GetContext(ctx, r, query, id); err != nil {
		return nil, err
	}
	return r, nil
}

// AdvanceRFQStatus переводит RFQ из from в to, только если он сейчас в from
func (s *Storage) AdvanceRFQStatus(ctx context.Context, id string, from, to models.RFQStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("invalid rfq status transition %s -> %s", from, to)
	}
	query := `UPDATE rfq SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	res, err := s.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Vendor (Поставщик)

func (s *Storage) GetVendorByEmail(ctx context.Context, email string) (*models.Vendor, error) {
	v := &models.Vendor{}
	query := `SELECT id, name, email, phone, notes, created_at FROM vendor WHERE lower(email) = lower($1)`
	if err := s.db.GetContext(ctx, v, query, strings.TrimSpace(email)); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Storage) GetVendorByName(ctx context.Context, name string) (*models.Vendor, error) {
	v := &models.Vendor{}
	query := `SELECT id, name, email, phone, notes, created_at FROM vendor WHERE name = $1`
	if err := s.db.GetContext(ctx, v, query, name); err != nil {
		return nil, err
	}
	return v, nil
}

// VendorReply (Ответ поставщика)

const replyColumns = `id, rfq_id, vendor_name, vendor_email, vendor_phone, items, subtotal, discount,
        delivery_charges, total, notes, folder_link, status, submitted_at, updated_at`

// CreateVendorReply вставляет ответ; для повторного ответа поставщика ErrReplyExists
func (s *Storage) CreateVendorReply(ctx context.Context, r *models.VendorReply) error {
	query := `
        INSERT INTO vendor_reply
            (id, rfq_id, vendor_name, vendor_email, vendor_phone, items,
             subtotal, discount, delivery_charges, total, notes, folder_link, status)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '')
        ON CONFLICT (rfq_id, vendor_email) DO NOTHING
        RETURNING id, status, submitted_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query, replyArgs(r)...).
		Scan(&r.ID, &r.Status, &r.SubmittedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrReplyExists
	}
	return err
}

// UpsertVendorReply вставляет ответ или перезаписывает прежний ответ того же
// поставщика, сохраняя его id. Ответ с выигранными позициями не трогается.
func (s *Storage) UpsertVendorReply(ctx context.Context, r *models.VendorReply) (created bool, err error) {
	query := `
        INSERT INTO vendor_reply
            (id, rfq_id, vendor_name, vendor_email, vendor_phone, items,
             subtotal, discount, delivery_charges, total, notes, folder_link, status)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '')
        ON CONFLICT (rfq_id, vendor_email) DO UPDATE SET
            vendor_name      = EXCLUDED.vendor_name,
            vendor_phone     = EXCLUDED.vendor_phone,
            items            = EXCLUDED.items,
            subtotal         = EXCLUDED.subtotal,
            discount         = EXCLUDED.discount,
            delivery_charges = EXCLUDED.delivery_charges,
            total            = EXCLUDED.total,
            notes            = EXCLUDED.notes,
            folder_link      = EXCLUDED.folder_link,
            status           = '',
            submitted_at     = NOW(),
            updated_at       = NOW()
        WHERE vendor_reply.status <> 'awarded'
        RETURNING id, status, submitted_at, updated_at, (xmax = 0) AS inserted`
	err = s.db.QueryRowxContext(ctx, query, replyArgs(r)...).
		Scan(&r.ID, &r.Status, &r.SubmittedAt, &r.UpdatedAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrReplyLocked
	}
	return created, err
}

func replyArgs(r *models.VendorReply) []interface{} {
	return []interface{}{
		r.ID, r.RFQID, r.VendorName, strings.ToLower(strings.TrimSpace(r.VendorEmail)), r.VendorPhone, r.Lines,
		r.Subtotal, r.Discount, r.Delivery, r.Total, r.Notes, r.FolderLink,
	}
}

func (s *Storage) GetVendorReply(ctx context.Context, rfqID, vendorEmail string) (*models.VendorReply, error) {
	r := &models.VendorReply{}
	query := `SELECT ` + replyColumns + ` FROM vendor_reply WHERE rfq_id=$1 AND vendor_email=$2`
	err := s.db.GetContext(ctx, r, query, rfqID, strings.ToLower(strings.TrimSpace(vendorEmail)))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Storage) ListVendorReplies(ctx context.Context, rfqID string) ([]models.VendorReply, error) {
	query := `SELECT ` + replyColumns + ` FROM vendor_reply WHERE rfq_id=$1 ORDER BY submitted_at ASC`
	replies := []models.VendorReply{}
	if err := s.db.SelectContext(ctx, &replies, query, rfqID); err != nil {
		return nil, err
	}
	return replies, nil
}

// AwardResult итог выбора победителя по позиции
type AwardResult struct {
	Updated int                  // ответы победителя с этой позицией
	Replies []models.VendorReply // эти ответы после обновления
	Revoked []string             // поставщики, у которых победа снята (exclusive)
}

// AwardItem помечает позицию itemName выигранной в ответах поставщика vendorName.
// Все ответы RFQ блокируются на время транзакции, так что параллельные
// выборы по одному RFQ выполняются по очереди. При exclusive победа других
// поставщиков по этой позиции снимается в той же транзакции.
func (s *Storage) AwardItem(ctx context.Context, rfqID, itemName, vendorName string, exclusive bool) (*AwardResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	replies := []models.VendorReply{}
	query := `SELECT ` + replyColumns + ` FROM vendor_reply WHERE rfq_id=$1 ORDER BY submitted_at ASC FOR UPDATE`
	if err := tx.SelectContext(ctx, &replies, query, rfqID); err != nil {
		return nil, err
	}

	applied := models.ApplyAward(replies, itemName, vendorName, exclusive)
	update := `UPDATE vendor_reply SET items=$1, status=$2, updated_at=NOW() WHERE id=$3`
	for _, i := range applied.Changed {
		r := replies[i]
		if _, err := tx.ExecContext(ctx, update, r.Lines, r.Status, r.ID); err != nil {
			return nil, err
		}
	}

	out := &AwardResult{Updated: len(applied.Matched), Revoked: applied.Revoked}
	for _, i := range applied.Matched {
		out.Replies = append(out.Replies, replies[i])
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}
