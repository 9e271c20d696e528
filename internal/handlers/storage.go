package handlers

import (
	"context"

	"rfqdesk/internal/award"
	"rfqdesk/internal/quote"
)

// StorageInterface всё, что сервису нужно от хранилища
type StorageInterface interface {
	quote.Store
	award.Store

	Ping(ctx context.Context) error
}
