package handlers

import "github.com/go-chi/chi/v5"

// Routes регистрирует маршруты под /api и те же пути от корня,
// потому что уже разосланные ссылки ведут на корень
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ping", h.PingHandler)
	r.Get("/health", h.HealthHandler)

	links := func(r chi.Router) {
		// поставщик
		r.Get("/vendor/items/{rfqId}/{token}", h.GetVendorItemsHandler)
		r.Get("/vendor/reply/{rfqId}/{token}", h.GetVendorReplyHandler)
		r.Post("/vendor/reply/{rfqId}/{token}", h.SubmitVendorReplyHandler)
		// заказчик
		r.Get("/awards/items/{rfqId}/{token}", h.GetAwardItemsHandler)
		r.Post("/awards/item/{rfqId}/{token}", h.AwardItemHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		links(r)
	})
	links(r)
}
