package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"rfqdesk/internal/apperr"
	"rfqdesk/internal/filestore"
	"rfqdesk/internal/quote"

	"github.com/go-chi/chi/v5"
)

const filesFieldPrefix = "files_"

var errBadForm = apperr.New(apperr.KindValidation, "bad_form", "invalid form data")

// GetVendorItemsHandler GET /vendor/items/{rfqId}/{token}
func (h *Handler) GetVendorItemsHandler(w http.ResponseWriter, r *http.Request) {
	rfqID := chi.URLParam(r, "rfqId")
	tok := chi.URLParam(r, "token")

	vendor, items, err := h.Quotes.Items(r.Context(), rfqID, tok)
	if err != nil {
		writeError(w, r, err, true)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"vendor":  vendor.Name,
		"items":   items,
	})
}

// SubmitVendorReplyHandler POST /vendor/reply/{rfqId}/{token}
func (h *Handler) SubmitVendorReplyHandler(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	defer r.Body.Close()

	if err := r.ParseMultipartForm(8 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{"error": "request body too large"})
			return
		}
		writeError(w, r, apperr.Wrap(errBadForm, err), false)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	sub := quote.Submission{
		RFQID:           chi.URLParam(r, "rfqId"),
		Token:           chi.URLParam(r, "token"),
		ItemReplies:     r.FormValue("itemReplies"),
		DeliveryCharges: r.FormValue("deliveryCharges"),
		Discount:        r.FormValue("discount"),
		Notes:           r.FormValue("summaryNotes"),
		Files:           collectFiles(r.MultipartForm),
	}

	res, err := h.Quotes.Submit(r.Context(), sub)
	if err != nil {
		writeError(w, r, err, false)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":               "Reply submitted successfully",
		"vendor":                res.Vendor,
		"replyId":               res.ReplyID,
		"itemsProcessed":        res.ItemsProcessed,
		"filesUploaded":         res.FilesUploaded,
		"replyFolderLink":       res.FolderLink,
		"confirmationEmailSent": res.ConfirmationSent,
	})
}

// GetVendorReplyHandler GET /vendor/reply/{rfqId}/{token}: ранее отправленный ответ
func (h *Handler) GetVendorReplyHandler(w http.ResponseWriter, r *http.Request) {
	reply, err := h.Quotes.Reply(r.Context(), chi.URLParam(r, "rfqId"), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    reply,
	})
}

// collectFiles группирует вложения по полям files_<ключ>
func collectFiles(form *multipart.Form) map[string][]filestore.File {
	if form == nil {
		return nil
	}
	out := make(map[string][]filestore.File)
	for field, headers := range form.File {
		if !strings.HasPrefix(field, filesFieldPrefix) {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(field, filesFieldPrefix), "[]")
		for _, fh := range headers {
			out[key] = append(out[key], filestore.File{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Open: func() (io.ReadCloser, error) {
					return fh.Open()
				},
			})
		}
	}
	return out
}
