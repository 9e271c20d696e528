package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"rfqdesk/internal/apperr"
	"rfqdesk/internal/award"
	"rfqdesk/internal/quote"
)

// Handler обслуживает ссылки поставщиков и заказчиков
type Handler struct {
	Store  StorageInterface
	Quotes *quote.Service
	Awards *award.Engine

	// MaxUploadBytes ограничение размера multipart-формы ответа
	MaxUploadBytes int64
	// Checks дополнительные проверки для /health, например Redis
	Checks map[string]func(ctx context.Context) error
}

// NewHandler создает новый Handler
func NewHandler(store StorageInterface, quotes *quote.Service, awards *award.Engine) *Handler {
	return &Handler{
		Store:          store,
		Quotes:         quotes,
		Awards:         awards,
		MaxUploadBytes: 32 << 20,
	}
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HealthHandler проверяет Postgres и остальные зависимости
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{"postgres": "ok"}
	if err := h.Store.Ping(ctx); err != nil {
		slog.Error("health check failed", "dependency", "postgres", "error", err)
		result["postgres"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	for name, check := range h.Checks {
		result[name] = "ok"
		if err := check(ctx); err != nil {
			slog.Error("health check failed", "dependency", name, "error", err)
			result[name] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError пишет {error} или, для эндпоинтов с полем success, {success:false, error}
func writeError(w http.ResponseWriter, r *http.Request, err error, withSuccess bool) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	body := map[string]interface{}{"error": apperr.PublicMessage(err)}
	if withSuccess {
		body["success"] = false
	}
	writeJSON(w, status, body)
}
