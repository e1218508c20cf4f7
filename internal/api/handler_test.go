package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pipeboard/contact-sync/internal/biz"
	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/biz/usecase"
	"github.com/pipeboard/contact-sync/internal/metrics"
	"github.com/pipeboard/contact-sync/internal/service"
)

// MockContactAPI implements repo.ContactAPI for testing
type MockContactAPI struct {
	updateErr error
}

func (m *MockContactAPI) ListContacts(ctx context.Context, lineID string) ([]*domain.Contact, error) {
	return nil, nil
}

func (m *MockContactAPI) GetLine(ctx context.Context, lineID string) (*domain.Line, error) {
	return &domain.Line{ID: lineID}, nil
}

func (m *MockContactAPI) UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) error {
	return m.updateErr
}

func (m *MockContactAPI) SendMessage(ctx context.Context, msg domain.OutboundMessage) (*domain.Message, error) {
	return &domain.Message{ID: "srv-1", ContactID: msg.ContactID}, nil
}

// MockTransport implements repo.Transport for testing; it is never authenticated
type MockTransport struct{}

func (m *MockTransport) Emit(event string, data any) error {
	return &domain.TransportError{Op: "emit", Err: errors.New("offline")}
}

func (m *MockTransport) IsAuthenticated() bool { return false }

func (m *MockTransport) OnAuthenticated(hook func(repo.SendFunc)) func() { return func() {} }

func newTestServer(t *testing.T, api *MockContactAPI) (*Server, *usecase.ContactStore) {
	t.Helper()
	store := usecase.NewContactStore(0)
	store.Load([]*domain.Contact{
		{ID: "c1", Phone: "3000000000", DisplayName: "Ana", FunnelStage: "nuevo", LastActivityAt: "2024-05-01T10:00:00Z"},
		{ID: "c2", Phone: "3000000001", DisplayName: "Luis", FunnelStage: "ganado", LastActivityAt: "2024-05-02T10:00:00Z"},
	})

	dispatcher := service.NewDispatcher(64)
	m := metrics.New()
	uc := &biz.Usecases{
		Store:      store,
		Reconcile:  usecase.NewReconcileUsecase(store, usecase.ReconcileConfig{}),
		Optimistic: usecase.NewOptimisticUsecase(store, api, nil, dispatcher, "L1"),
	}
	svc := service.NewSyncService(uc, api, nil, nil, dispatcher, nil, m, service.SyncConfig{LineID: "L1"})
	svc.Register()
	t.Cleanup(svc.Close)

	views := service.NewViews(&MockTransport{}, "ws", store, dispatcher, m)
	t.Cleanup(views.CloseAll)
	analytics := service.NewAnalyticsView(store, dispatcher)
	t.Cleanup(analytics.Close)

	return NewServer(svc, views, analytics, m, "127.0.0.1:0"), store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t, &MockContactAPI{})
	w := do(t, server.Handler(), http.MethodGet, "/health", "")

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("Expected 200 ok, got %d %q", w.Code, w.Body.String())
	}
}

func TestHandler_ErrorsLogWithRequest(t *testing.T) {
	server, _ := newTestServer(t, &MockContactAPI{})
	var buf bytes.Buffer
	server.log = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	w := do(t, server.Handler(), http.MethodGet, "/api/contacts/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}

	out := buf.String()
	for _, want := range []string{`"msg":"request rejected"`, `"path":"/api/contacts/missing"`, `"method":"GET"`, `"status":404`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %s, got %s", want, out)
		}
	}
}

func TestHandleListContacts(t *testing.T) {
	server, _ := newTestServer(t, &MockContactAPI{})
	w := do(t, server.Handler(), http.MethodGet, "/api/contacts", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var result map[string][]domain.Contact
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(result["contacts"]) != 2 {
		t.Fatalf("Expected 2 contacts, got %d", len(result["contacts"]))
	}
	if result["contacts"][0].ID != "c2" {
		t.Errorf("Expected most recent contact first, got %s", result["contacts"][0].ID)
	}
}

func TestHandleListContacts_Filters(t *testing.T) {
	server, _ := newTestServer(t, &MockContactAPI{})

	w := do(t, server.Handler(), http.MethodGet, "/api/contacts?status=won", "")
	var result map[string][]domain.Contact
	json.Unmarshal(w.Body.Bytes(), &result)
	if len(result["contacts"]) != 1 || result["contacts"][0].ID != "c2" {
		t.Errorf("Expected only c2 for status=won, got %+v", result["contacts"])
	}

	w = do(t, server.Handler(), http.MethodGet, "/api/contacts?q=ana", "")
	json.Unmarshal(w.Body.Bytes(), &result)
	if len(result["contacts"]) != 1 || result["contacts"][0].ID != "c1" {
		t.Errorf("Expected only c1 for q=ana, got %+v", result["contacts"])
	}
}

func TestHandleGetContact_NotFound(t *testing.T) {
	server, _ := newTestServer(t, &MockContactAPI{})
	w := do(t, server.Handler(), http.MethodGet, "/api/contacts/missing", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleUpdateContact(t *testing.T) {
	server, store := newTestServer(t, &MockContactAPI{})
	w := do(t, server.Handler(), http.MethodPatch, "/api/contacts/c1", `{"funnelStage":"cita agendada"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := store.Get("c1").Status; got != domain.StatusScheduled {
		t.Errorf("Expected status scheduled, got %s", got)
	}
}

func TestHandleUpdateContact_Rejected(t *testing.T) {
	server, store := newTestServer(t, &MockContactAPI{updateErr: errors.New("HTTP 409")})
	w := do(t, server.Handler(), http.MethodPatch, "/api/contacts/c1", `{"funnelStage":"perdido"}`)

	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", w.Code)
	}
	if got := store.Get("c1").Status; got != domain.StatusNew {
		t.Errorf("Expected rollback to new, got %s", got)
	}
}

func TestHandleUpdateContact_BadBody(t *testing.T) {
	server, _ := newTestServer(t, &MockContactAPI{})

	w := do(t, server.Handler(), http.MethodPatch, "/api/contacts/c1", `[1,2]`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for non-object body, got %d", w.Code)
	}
	w = do(t, server.Handler(), http.MethodPatch, "/api/contacts/c1", `{"unknown":true}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty patch, got %d", w.Code)
	}
	w = do(t, server.Handler(), http.MethodPatch, "/api/contacts/missing", `{"priority":"alta"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown contact, got %d", w.Code)
	}
}

func TestHandleSendMessage(t *testing.T) {
	server, store := newTestServer(t, &MockContactAPI{})
	w := do(t, server.Handler(), http.MethodPost, "/api/contacts/c1/messages", `{"message":"hola"}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	msgs := store.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 stored message, got %d", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].Delivery != domain.DeliverySent {
		t.Errorf("Expected api-confirmed message srv-1, got %s (%s)", msgs[0].ID, msgs[0].Delivery)
	}

	w = do(t, server.Handler(), http.MethodGet, "/api/contacts/c1/messages", "")
	if !strings.Contains(w.Body.String(), `"message":"hola"`) {
		t.Errorf("Expected message in history, got %s", w.Body.String())
	}
}

func TestHandleSendMessage_Empty(t *testing.T) {
	server, _ := newTestServer(t, &MockContactAPI{})
	w := do(t, server.Handler(), http.MethodPost, "/api/contacts/c1/messages", `{"message":"  "}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleViews(t *testing.T) {
	server, _ := newTestServer(t, &MockContactAPI{})
	h := server.Handler()

	w := do(t, h, http.MethodPost, "/api/views/detail/focus", `{"contactId":"c2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var view map[string]any
	json.Unmarshal(w.Body.Bytes(), &view)
	if view["focused"] != "c2" {
		t.Errorf("Expected focused c2, got %v", view["focused"])
	}

	w = do(t, h, http.MethodDelete, "/api/views/detail/focus", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/views/detail", "")
	json.Unmarshal(w.Body.Bytes(), &view)
	if view["focused"] != "" {
		t.Errorf("Expected no focus, got %v", view["focused"])
	}

	w = do(t, h, http.MethodDelete, "/api/views/detail", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/views/detail", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after close, got %d", w.Code)
	}
}

func TestHandleAnalyticsAndState(t *testing.T) {
	server, _ := newTestServer(t, &MockContactAPI{})
	h := server.Handler()

	w := do(t, h, http.MethodGet, "/api/analytics", "")
	var summary service.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if summary.Total != 2 || summary.ByStatus[domain.StatusWon] != 1 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	w = do(t, h, http.MethodGet, "/api/state", "")
	if !strings.Contains(w.Body.String(), `"status":"disconnected"`) {
		t.Errorf("Expected disconnected state, got %s", w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/metrics", "")
	if !strings.Contains(w.Body.String(), "contact_sync_contacts") {
		t.Errorf("Expected metrics exposition, got %d bytes", w.Body.Len())
	}
}
