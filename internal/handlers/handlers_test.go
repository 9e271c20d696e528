package handlers_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rfqdesk/db"
	"rfqdesk/internal/award"
	"rfqdesk/internal/config"
	"rfqdesk/internal/filestore"
	"rfqdesk/internal/handlers"
	"rfqdesk/internal/handlers/testutils"
	"rfqdesk/internal/lock"
	"rfqdesk/internal/notify"
	"rfqdesk/internal/quote"
	"rfqdesk/internal/token"
	"rfqdesk/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const secret = "handler-secret"

const rfqItems = `[
	{"id":"i1","name":"Stud","size":"2x4","unit":"pcs","quantity":10,"vendors":"Acme","selectedVendors":["Acme"]},
	{"id":"i2","name":"Plate","unit":"pcs","quantity":2,"vendors":"Acme","selectedVendors":["Acme"]}
]`

// MockStorage реализует StorageInterface
type MockStorage struct {
	mu        sync.Mutex
	pingErr   error
	itemsJSON string
	replies   map[string]*models.VendorReply
	AwardFunc func(ctx context.Context, rfqID, itemName, vendorName string, exclusive bool) (*db.AwardResult, error)
}

func newMockStorage() *MockStorage {
	return &MockStorage{itemsJSON: rfqItems, replies: map[string]*models.VendorReply{}}
}

func (m *MockStorage) Ping(ctx context.Context) error { return m.pingErr }

func (m *MockStorage) GetRFQ(ctx context.Context, id string) (*models.RFQ, error) {
	if id != "RFQ-1" {
		return nil, sql.ErrNoRows
	}
	return &models.RFQ{ID: id, Status: models.RFQSent, ItemsJSON: m.itemsJSON}, nil
}

func (m *MockStorage) GetVendorByEmail(ctx context.Context, email string) (*models.Vendor, error) {
	if strings.ToLower(email) != "sales@acme.test" {
		return nil, sql.ErrNoRows
	}
	return &models.Vendor{ID: 1, Name: "Acme", Email: "sales@acme.test"}, nil
}

func (m *MockStorage) GetVendorByName(ctx context.Context, name string) (*models.Vendor, error) {
	if name != "Acme" {
		return nil, sql.ErrNoRows
	}
	return &models.Vendor{ID: 1, Name: "Acme", Email: "sales@acme.test"}, nil
}

func (m *MockStorage) GetVendorReply(ctx context.Context, rfqID, vendorEmail string) (*models.VendorReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.replies[rfqID+"|"+vendorEmail]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r, nil
}

func (m *MockStorage) CreateVendorReply(ctx context.Context, r *models.VendorReply) error {
	_, err := m.UpsertVendorReply(ctx, r)
	return err
}

func (m *MockStorage) UpsertVendorReply(ctx context.Context, r *models.VendorReply) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := r.RFQID + "|" + r.VendorEmail
	_, exists := m.replies[k]
	cp := *r
	m.replies[k] = &cp
	return !exists, nil
}

func (m *MockStorage) ListVendorReplies(ctx context.Context, rfqID string) ([]models.VendorReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.VendorReply{}
	for _, r := range m.replies {
		if r.RFQID == rfqID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MockStorage) AwardItem(ctx context.Context, rfqID, itemName, vendorName string, exclusive bool) (*db.AwardResult, error) {
	if m.AwardFunc != nil {
		return m.AwardFunc(ctx, rfqID, itemName, vendorName, exclusive)
	}
	if itemName == "Stud" && vendorName == "Acme" {
		return &db.AwardResult{Updated: 1, Replies: []models.VendorReply{{VendorEmail: "sales@acme.test"}}}, nil
	}
	return &db.AwardResult{}, nil
}

func (m *MockStorage) AdvanceRFQStatus(ctx context.Context, id string, from, to models.RFQStatus) (bool, error) {
	return true, nil
}

type mockFiles struct{}

func (mockFiles) CreateFolder(ctx context.Context, name string) (filestore.Folder, error) {
	return filestore.Folder{ID: "f1", Link: "https://drive.test/f1"}, nil
}

func (mockFiles) Upload(ctx context.Context, folderID string, files []filestore.File) ([]string, error) {
	links := make([]string, 0, len(files))
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return links, err
		}
		rc.Close()
		links = append(links, "https://drive.test/"+f.Name)
	}
	return links, nil
}

type mockNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *mockNotifier) Enqueue(msg notify.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return true
}

func newHandler(store *MockStorage) *handlers.Handler {
	verifier := token.NewVerifier(secret)
	n := &mockNotifier{}
	quotes := quote.NewService(store, mockFiles{}, n, lock.NewLocalLocker(), verifier,
		quote.Options{ReplyPolicy: config.ReplyOverwrite})
	awards := award.NewEngine(store, n, verifier, config.AwardAllowMultiple)
	return handlers.NewHandler(store, quotes, awards)
}

func issue(t *testing.T, email, rfqID, audience string) string {
	t.Helper()
	tok, err := token.Issue(secret, email, rfqID, audience, time.Hour)
	require.NoError(t, err)
	return tok
}

func decode(t *testing.T, res *http.Response) map[string]interface{} {
	t.Helper()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestPingHandler(t *testing.T) {
	handler := newHandler(newMockStorage())

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	w := httptest.NewRecorder()
	handler.PingHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestHealthHandler(t *testing.T) {
	store := newMockStorage()
	handler := newHandler(store)
	handler.Checks = map[string]func(ctx context.Context) error{
		"redis": func(ctx context.Context) error { return nil },
	}

	w := httptest.NewRecorder()
	handler.HealthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	store.pingErr = errors.New("connection refused")
	w = httptest.NewRecorder()
	handler.HealthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), `"postgres":"unavailable"`)
	require.Contains(t, w.Body.String(), `"redis":"ok"`)
	require.NotContains(t, w.Body.String(), "connection refused")
}

func TestGetVendorItemsHandler(t *testing.T) {
	handler := newHandler(newMockStorage())
	tok := issue(t, "sales@acme.test", "RFQ-1", token.AudienceVendor)

	req := httptest.NewRequest(http.MethodGet, "/vendor/items/RFQ-1/"+tok, nil)
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.GetVendorItemsHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decode(t, res)
	require.Equal(t, true, body["success"])
	items := body["items"].([]interface{})
	require.Len(t, items, 2)
	first := items[0].(map[string]interface{})
	require.Equal(t, "Stud", first["name"])
	require.NotContains(t, first, "vendors")
	require.NotContains(t, first, "selectedVendors")
}

func TestGetVendorItemsHandlerErrors(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		status int
	}{
		{"garbage token", "not-a-token", http.StatusUnauthorized},
		{"other rfq", issue(t, "sales@acme.test", "RFQ-2", token.AudienceVendor), http.StatusForbidden},
		{"unknown vendor", issue(t, "who@example.com", "RFQ-1", token.AudienceVendor), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newHandler(newMockStorage())
			req := httptest.NewRequest(http.MethodGet, "/vendor/items/RFQ-1/x", nil)
			req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tc.token})
			w := httptest.NewRecorder()

			handler.GetVendorItemsHandler(w, req)

			res := w.Result()
			defer res.Body.Close()
			require.Equal(t, tc.status, res.StatusCode)
			body := decode(t, res)
			require.Equal(t, false, body["success"])
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestGetVendorItemsHandlerCorruptItems(t *testing.T) {
	store := newMockStorage()
	store.itemsJSON = `[{"id":`
	handler := newHandler(store)
	tok := issue(t, "sales@acme.test", "RFQ-1", token.AudienceVendor)

	req := httptest.NewRequest(http.MethodGet, "/vendor/items/RFQ-1/x", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.GetVendorItemsHandler(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "unexpected end")
}

func TestSubmitVendorReplyHandler(t *testing.T) {
	store := newMockStorage()
	handler := newHandler(store)
	tok := issue(t, "sales@acme.test", "RFQ-1", token.AudienceVendor)

	body, contentType, err := testutils.MultipartBody(map[string]string{
		"itemReplies":     `[{"itemId":"i1","price":"2.50","leadTime":"5"},{"itemId":"i2","price":"5"}]`,
		"deliveryCharges": "5",
		"discount":        "40",
		"summaryNotes":    "delivery next week",
	}, testutils.FormFile{Field: "files_i1", Name: "drawing.pdf", Contents: "%PDF"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/vendor/reply/RFQ-1/x", body)
	req.Header.Set("Content-Type", contentType)
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.SubmitVendorReplyHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	out := decode(t, res)
	require.Equal(t, "Acme", out["vendor"])
	require.NotEmpty(t, out["replyId"])
	require.Equal(t, float64(2), out["itemsProcessed"])
	require.Equal(t, float64(1), out["filesUploaded"])
	require.Equal(t, "https://drive.test/f1", out["replyFolderLink"])
	require.Equal(t, true, out["confirmationEmailSent"])

	saved := store.replies["RFQ-1|sales@acme.test"]
	require.NotNil(t, saved)
	require.Equal(t, "0.00", saved.Total)
	require.Equal(t, "delivery next week", saved.Notes)
	require.Equal(t, []string{"https://drive.test/drawing.pdf"}, saved.Lines[0].Files)
}

func TestSubmitVendorReplyHandlerBadItemReplies(t *testing.T) {
	store := newMockStorage()
	handler := newHandler(store)
	tok := issue(t, "sales@acme.test", "RFQ-1", token.AudienceVendor)

	body, contentType, err := testutils.MultipartBody(map[string]string{"itemReplies": "{not json"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/vendor/reply/RFQ-1/x", body)
	req.Header.Set("Content-Type", contentType)
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.SubmitVendorReplyHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Contains(t, decode(t, res)["error"], "itemReplies")
	require.Empty(t, store.replies)
}

func TestGetVendorReplyHandlerNotFound(t *testing.T) {
	handler := newHandler(newMockStorage())
	tok := issue(t, "sales@acme.test", "RFQ-1", token.AudienceVendor)

	req := httptest.NewRequest(http.MethodGet, "/vendor/reply/RFQ-1/x", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.GetVendorReplyHandler(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAwardItemsHandler(t *testing.T) {
	store := newMockStorage()
	store.replies["RFQ-1|sales@acme.test"] = &models.VendorReply{ID: "r1", RFQID: "RFQ-1", VendorName: "Acme", Total: "35.00"}
	handler := newHandler(store)
	tok := issue(t, "buyer@example.com", "RFQ-1", token.AudienceRequester)

	req := httptest.NewRequest(http.MethodGet, "/awards/items/RFQ-1/x", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.GetAwardItemsHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	out := decode(t, res)
	require.Equal(t, true, out["success"])
	require.Len(t, out["data"], 1)
}

func TestAwardItemHandler(t *testing.T) {
	handler := newHandler(newMockStorage())
	tok := issue(t, "buyer@example.com", "RFQ-1", token.AudienceRequester)

	req := httptest.NewRequest(http.MethodPost, "/awards/item/RFQ-1/x",
		strings.NewReader(`{"item_name":"Stud","vendor_name":"Acme"}`))
	req.Header.Set("Content-Type", "application/json")
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.AwardItemHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	out := decode(t, res)
	require.Equal(t, true, out["success"])
	require.Equal(t, float64(1), out["updated"])
}

func TestAwardItemHandlerNoItemsUpdated(t *testing.T) {
	handler := newHandler(newMockStorage())
	tok := issue(t, "buyer@example.com", "RFQ-1", token.AudienceRequester)

	req := httptest.NewRequest(http.MethodPost, "/awards/item/RFQ-1/x",
		strings.NewReader(`{"item_name":"Bolt","vendor_name":"Acme"}`))
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.AwardItemHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	out := decode(t, res)
	require.Equal(t, false, out["success"])
	require.Equal(t, "no items updated", out["error"])
}

func TestAwardItemHandlerBadBody(t *testing.T) {
	handler := newHandler(newMockStorage())
	tok := issue(t, "buyer@example.com", "RFQ-1", token.AudienceRequester)

	req := httptest.NewRequest(http.MethodPost, "/awards/item/RFQ-1/x", strings.NewReader(`item_name=Stud`))
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.AwardItemHandler(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAwardItemHandlerRfqMismatch(t *testing.T) {
	store := newMockStorage()
	store.AwardFunc = func(ctx context.Context, rfqID, itemName, vendorName string, exclusive bool) (*db.AwardResult, error) {
		t.Fatal("store must not be touched")
		return nil, nil
	}
	handler := newHandler(store)
	tok := issue(t, "buyer@example.com", "RFQ-9", token.AudienceRequester)

	req := httptest.NewRequest(http.MethodPost, "/awards/item/RFQ-1/x",
		strings.NewReader(`{"item_name":"Stud","vendor_name":"Acme"}`))
	req = testutils.WithChiURLParams(req, map[string]string{"rfqId": "RFQ-1", "token": tok})
	w := httptest.NewRecorder()

	handler.AwardItemHandler(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoutesServeRootAndAPIPaths(t *testing.T) {
	handler := newHandler(newMockStorage())
	r := chi.NewRouter()
	handler.Routes(r)
	tok := issue(t, "sales@acme.test", "RFQ-1", token.AudienceVendor)

	for _, path := range []string{"/vendor/items/RFQ-1/" + tok, "/api/vendor/items/RFQ-1/" + tok} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
