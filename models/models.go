package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RFQStatus статус запроса котировок
type RFQStatus string

const (
	RFQDraft   RFQStatus = "draft"   // создан, ещё не разослан
	RFQSent    RFQStatus = "sent"    // ссылки отправлены поставщикам
	RFQReplied RFQStatus = "replied" // есть хотя бы один ответ
	RFQDecided RFQStatus = "decided" // есть хотя бы одна позиция с победителем
	RFQClosed  RFQStatus = "closed"  // закрыт
)

var rfqTransitions = map[RFQStatus]RFQStatus{
	RFQDraft:   RFQSent,
	RFQSent:    RFQReplied,
	RFQReplied: RFQDecided,
	RFQDecided: RFQClosed,
}

func ValidRFQStatus(s RFQStatus) bool {
	switch s {
	case RFQDraft, RFQSent, RFQReplied, RFQDecided, RFQClosed:
		return true
	default:
		return false
	}
}

// CanTransition разрешает только переход на следующий шаг
func (s RFQStatus) CanTransition(to RFQStatus) bool {
	next, ok := rfqTransitions[s]
	return ok && next == to
}

// Статусы строки ответа поставщика
const (
	ReplyStatusOpen    = ""
	ReplyStatusAwarded = "awarded"
)

// Number число, которое во входных данных бывает и строкой, и числом.
// Хранится как строка, разбирается лениво: мусор превращается в 0.
type Number string

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("number: %w", err)
	}
	*n = Number(num.String())
	return nil
}

// Float возвращает значение или 0, если строка не число
func (n Number) Float() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
	if err != nil {
		return 0
	}
	return f
}

// RFQ запрос котировок
type RFQ struct {
	ID             string    `db:"id" json:"rfqId"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	RequesterName  string    `db:"requester_name" json:"requesterName"`
	RequesterEmail string    `db:"requester_email" json:"requesterEmail"`
	RequesterPhone string    `db:"requester_phone" json:"requesterPhone"`
	ItemsJSON      string    `db:"items" json:"-"`
	VendorsJSON    string    `db:"vendors" json:"-"`
	Status         RFQStatus `db:"status" json:"status"`
	UpdatedAt      time.Time `db:"updated_at" json:"-"`
}

// RequestedItem позиция RFQ, хранится сериализованной внутри RFQ
type RequestedItem struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Size            string   `json:"size"`
	Unit            string   `json:"unit"`
	Quantity        Number   `json:"quantity"`
	Vendors         string   `json:"vendors"` // приглашённые через запятую
	SelectedVendors []string `json:"selectedVendors"`
}

// VendorItem позиция в том виде, в каком её видит поставщик
type VendorItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     string `json:"size"`
	Unit     string `json:"unit"`
	Quantity Number `json:"quantity"`
}

// Vendor поставщик. Имя и email уникальны на уровне схемы.
type Vendor struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone"`
	Notes     string    `db:"notes" json:"notes"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// QuoteLine цена поставщика по одной позиции
type QuoteLine struct {
	ItemID    string   `json:"itemId"`
	ItemName  string   `json:"itemName"`
	Size      string   `json:"size"`
	Unit      string   `json:"unit"`
	Quantity  string   `json:"quantity"`
	Price     string   `json:"price"`
	LeadTime  string   `json:"leadTime"`
	Notes     string   `json:"notes"`
	LineTotal string   `json:"lineTotal"`
	Files     []string `json:"files,omitempty"`
	Status    string   `json:"status"`
}

// QuoteLines хранится в jsonb-колонке
type QuoteLines []QuoteLine

func (q QuoteLines) Value() (driver.Value, error) {
	if q == nil {
		return "[]", nil
	}
	b, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (q *QuoteLines) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*q = QuoteLines{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("quote lines: unsupported column type")
	}
	return json.Unmarshal(data, q)
}

// VendorReply сводный ответ поставщика, одна строка на пару (rfq, email поставщика)
type VendorReply struct {
	ID          string     `db:"id" json:"replyId"`
	RFQID       string     `db:"rfq_id" json:"rfqId"`
	VendorName  string     `db:"vendor_name" json:"vendorName"`
	VendorEmail string     `db:"vendor_email" json:"vendorEmail"`
	VendorPhone string     `db:"vendor_phone" json:"vendorPhone"`
	Lines       QuoteLines `db:"items" json:"items"`
	Subtotal    string     `db:"subtotal" json:"subtotal"`
	Discount    string     `db:"discount" json:"discount"`
	Delivery    string     `db:"delivery_charges" json:"deliveryCharges"`
	Total       string     `db:"total" json:"total"`
	Notes       string     `db:"notes" json:"notes"`
	FolderLink  string     `db:"folder_link" json:"replyFolderLink"`
	Status      string     `db:"status" json:"status"`
	SubmittedAt time.Time  `db:"submitted_at" json:"submittedAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// HasAward есть ли в ответе выигранные позиции
func (r *VendorReply) HasAward() bool {
	for _, l := range r.Lines {
		if l.Status == ReplyStatusAwarded {
			return true
		}
	}
	return false
}

// AwardOutcome что изменил ApplyAward; индексы указывают в переданный срез
type AwardOutcome struct {
	Matched []int    // ответы vendorName, где есть позиция
	Changed []int    // ответы, строки которых изменились
	Revoked []string // поставщики, у которых победа снята (exclusive)
}

// ApplyAward помечает позицию itemName выигранной в ответах vendorName.
// При exclusive снимает победу по этой позиции у остальных поставщиков.
// Статус изменённых ответов пересчитывается по их строкам. Повторный
// выбор того же победителя ничего не меняет.
func ApplyAward(replies []VendorReply, itemName, vendorName string, exclusive bool) AwardOutcome {
	var out AwardOutcome
	for i := range replies {
		r := &replies[i]
		matched, changed := false, false
		for j := range r.Lines {
			line := &r.Lines[j]
			if line.ItemName != itemName {
				continue
			}
			switch {
			case r.VendorName == vendorName:
				matched = true
				if line.Status != ReplyStatusAwarded {
					line.Status = ReplyStatusAwarded
					changed = true
				}
			case exclusive && line.Status == ReplyStatusAwarded:
				line.Status = ReplyStatusOpen
				changed = true
				out.Revoked = append(out.Revoked, r.VendorName)
			}
		}

		if changed {
			r.Status = ReplyStatusOpen
			if r.HasAward() {
				r.Status = ReplyStatusAwarded
			}
			out.Changed = append(out.Changed, i)
		}
		if matched {
			out.Matched = append(out.Matched, i)
		}
	}
	return out
}
