package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/logger"
	"github.com/pipeboard/contact-sync/internal/metrics"
	"github.com/pipeboard/contact-sync/internal/service"
)

// Server provides the local HTTP surface dashboard views read and mutate through
type Server struct {
	sync      *service.SyncService
	views     *service.Views
	analytics *service.AnalyticsView
	metrics   *metrics.Metrics

	server *http.Server
	addr   string
	log    *slog.Logger
}

// NewServer creates a new API server
func NewServer(svc *service.SyncService, views *service.Views, analytics *service.AnalyticsView, m *metrics.Metrics, addr string) *Server {
	return &Server{
		sync:      svc,
		views:     views,
		analytics: analytics,
		metrics:   m,
		addr:      addr,
		log:       logger.For("api"),
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Connection and line state
	mux.HandleFunc("GET /api/state", s.handleState)

	// Contacts
	mux.HandleFunc("GET /api/contacts", s.handleListContacts)
	mux.HandleFunc("GET /api/contacts/{id}", s.handleGetContact)
	mux.HandleFunc("PATCH /api/contacts/{id}", s.handleUpdateContact)
	mux.HandleFunc("GET /api/contacts/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/contacts/{id}/messages", s.handleSendMessage)

	// Analytics
	mux.HandleFunc("GET /api/analytics", s.handleAnalytics)

	// Views and subscriptions
	mux.HandleFunc("GET /api/views", s.handleListViews)
	mux.HandleFunc("GET /api/views/{name}", s.handleGetView)
	mux.HandleFunc("POST /api/views/{name}/focus", s.handleFocus)
	mux.HandleFunc("DELETE /api/views/{name}/focus", s.handleUnfocus)
	mux.HandleFunc("DELETE /api/views/{name}", s.handleCloseView)

	return s.withLogger(mux)
}

// withLogger stores a request-scoped logger in the request context
func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.log.With(slog.String("method", r.Method), slog.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("starting HTTP server", slog.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ============ State ============

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	store := s.sync.Store()
	s.writeJSON(w, map[string]any{
		"connection": s.sync.ConnectionState(),
		"line":       s.sync.Line(),
		"contacts":   store.Len(),
		"seq":        store.Seq(),
	})
}

// ============ Contact Handlers ============

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts := s.sync.Store().List()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := contacts[:0]
		for _, c := range contacts {
			if string(c.Status) == status {
				filtered = append(filtered, c)
			}
		}
		contacts = filtered
	}
	if q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q"))); q != "" {
		filtered := contacts[:0]
		for _, c := range contacts {
			if strings.Contains(strings.ToLower(c.DisplayName), q) || strings.Contains(c.Phone, q) {
				filtered = append(filtered, c)
			}
		}
		contacts = filtered
	}

	s.writeJSON(w, map[string]any{"contacts": contacts})
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c := s.sync.Store().Get(r.PathValue("id"))
	if c == nil {
		s.writeError(w, r, http.StatusNotFound, domain.ErrContactNotFound)
		return
	}
	s.writeJSON(w, c)
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var patch domain.ContactPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if patch.IsEmpty() {
		http.Error(w, "no known fields in patch", http.StatusBadRequest)
		return
	}

	if err := s.sync.UpdateContact(r.Context(), id, patch); err != nil {
		s.writeError(w, r, statusOf(err), err)
		return
	}
	s.writeJSON(w, s.sync.Store().Get(id))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.sync.Store().Get(id) == nil {
		s.writeError(w, r, http.StatusNotFound, domain.ErrContactNotFound)
		return
	}
	messages := s.sync.Store().Messages(id)
	if messages == nil {
		messages = []*domain.Message{}
	}
	s.writeJSON(w, map[string]any{"messages": messages})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string             `json:"message"`
		Type    domain.MessageType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	msg, err := s.sync.SendMessage(r.Context(), r.PathValue("id"), req.Message, req.Type)
	if err != nil {
		s.writeError(w, r, statusOf(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(msg)
}

// ============ Analytics ============

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.analytics.Summary())
}

// ============ View Handlers ============

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"views": s.views.Names()})
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	v, ok := s.views.Get(r.PathValue("name"))
	if !ok {
		http.Error(w, "view not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, viewBody(v))
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID string `json:"contactId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ContactID == "" {
		http.Error(w, "contactId is required", http.StatusBadRequest)
		return
	}
	v := s.views.Focus(r.PathValue("name"), req.ContactID)
	s.writeJSON(w, viewBody(v))
}

func (s *Server) handleUnfocus(w http.ResponseWriter, r *http.Request) {
	if !s.views.Unfocus(r.PathValue("name")) {
		http.Error(w, "view not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseView(w http.ResponseWriter, r *http.Request) {
	if !s.views.Close(r.PathValue("name")) {
		http.Error(w, "view not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func viewBody(v *service.View) map[string]any {
	return map[string]any{
		"name":    v.Name(),
		"focused": v.Focused(),
		"contact": v.Contact(),
		"updates": v.Updates(),
	}
}

// ============ Helpers ============

func statusOf(err error) int {
	var rejected *domain.MutationRejectedError
	switch {
	case errors.Is(err, domain.ErrContactNotFound):
		return http.StatusNotFound
	case errors.As(err, &rejected):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Warn("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Debug("request rejected", slog.Int("status", status), slog.Any("error", err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
