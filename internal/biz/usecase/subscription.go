package usecase

import (
	"log/slog"
	"sync"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/logger"
)

// SubscriptionPayload is the body of subscribe-contact and unsubscribe-contact
type SubscriptionPayload struct {
	ContactID   string `json:"contactId"`
	WorkspaceID string `json:"workspaceId"`
}

// SubscriptionRegistry tracks the single contact a view is focused on and
// keeps the remote subscription in place across reconnects
type SubscriptionRegistry struct {
	mu          sync.Mutex
	current     string
	transport   repo.Transport
	workspaceID string
	removeHook  func()
	log         *slog.Logger
}

// NewSubscriptionRegistry creates a registry whose subscription is re-issued
// on every authenticated transition of transport
func NewSubscriptionRegistry(transport repo.Transport, workspaceID string) *SubscriptionRegistry {
	r := &SubscriptionRegistry{
		transport:   transport,
		workspaceID: workspaceID,
		log:         logger.For("subscriptions"),
	}
	r.removeHook = transport.OnAuthenticated(r.Resubscribe)
	return r
}

// Subscribe focuses id. Subscribing to the current id again is a no-op; the
// previous id is not unsubscribed. While the transport is unavailable the id
// is only stored and goes out on the next authentication.
func (r *SubscriptionRegistry) Subscribe(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	if r.current == id {
		r.mu.Unlock()
		return
	}
	r.current = id
	r.mu.Unlock()

	if !r.transport.IsAuthenticated() {
		r.log.Debug("subscription deferred until authenticated", slog.String("contact_id", id))
		return
	}
	if err := r.transport.Emit(domain.EventSubscribeContact, r.payload(id)); err != nil {
		// the authenticated hook re-issues it
		r.log.Warn("subscribe failed", slog.String("contact_id", id), slog.Any("error", err))
	}
}

// Unsubscribe clears the stored id locally and tells the remote side when
// it can be reached. An empty id means the current one.
func (r *SubscriptionRegistry) Unsubscribe(id string) {
	r.mu.Lock()
	if id == "" {
		id = r.current
	}
	if r.current == id {
		r.current = ""
	}
	r.mu.Unlock()

	if id == "" || !r.transport.IsAuthenticated() {
		return
	}
	if err := r.transport.Emit(domain.EventUnsubscribeContact, r.payload(id)); err != nil {
		r.log.Debug("unsubscribe not delivered", slog.String("contact_id", id), slog.Any("error", err))
	}
}

// Current returns the focused contact id, or ""
func (r *SubscriptionRegistry) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Resubscribe re-issues the current subscription through send. It runs from
// the transport's authenticated hook.
func (r *SubscriptionRegistry) Resubscribe(send repo.SendFunc) {
	id := r.Current()
	if id == "" {
		return
	}
	if err := send(domain.EventSubscribeContact, r.payload(id)); err != nil {
		r.log.Warn("resubscribe failed", slog.String("contact_id", id), slog.Any("error", err))
		return
	}
	r.log.Debug("subscription re-issued", slog.String("contact_id", id))
}

// Close detaches the registry from the transport
func (r *SubscriptionRegistry) Close() {
	if r.removeHook != nil {
		r.removeHook()
	}
}

func (r *SubscriptionRegistry) payload(id string) SubscriptionPayload {
	return SubscriptionPayload{ContactID: id, WorkspaceID: r.workspaceID}
}
