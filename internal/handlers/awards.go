package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type awardRequest struct {
	ItemName   string `json:"item_name"`
	VendorName string `json:"vendor_name"`
}

// GetAwardItemsHandler GET /awards/items/{rfqId}/{token}
func (h *Handler) GetAwardItemsHandler(w http.ResponseWriter, r *http.Request) {
	replies, err := h.Awards.Replies(r.Context(), chi.URLParam(r, "rfqId"), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    replies,
	})
}

// AwardItemHandler POST /awards/item/{rfqId}/{token}
func (h *Handler) AwardItemHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "Failed to read request body"})
		return
	}
	defer r.Body.Close()

	var req awardRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "Invalid JSON format"})
		return
	}

	res, err := h.Awards.Award(r.Context(), chi.URLParam(r, "rfqId"), chi.URLParam(r, "token"), req.ItemName, req.VendorName)
	if err != nil {
		writeError(w, r, err, true)
		return
	}

	out := map[string]interface{}{
		"success":           true,
		"updated":           res.Updated,
		"requesterNotified": res.RequesterNotified,
		"vendorNotified":    res.VendorNotified,
	}
	if len(res.Revoked) > 0 {
		out["revoked"] = res.Revoked
	}
	writeJSON(w, http.StatusOK, out)
}
