package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/biz/usecase"
	"github.com/pipeboard/contact-sync/internal/logger"
	"github.com/pipeboard/contact-sync/internal/metrics"
)

// View is one open dashboard view. It owns a subscription and the handlers it
// registered, and releases both on Close.
type View struct {
	name       string
	subs       *usecase.SubscriptionRegistry
	store      *usecase.ContactStore
	dispatcher *Dispatcher

	mu     sync.Mutex
	offs   []func()
	closed bool

	updates atomic.Uint64
	log     *slog.Logger
}

// NewView opens a view over store. Its subscription follows transport.
func NewView(name string, transport repo.Transport, workspaceID string, store *usecase.ContactStore, dispatcher *Dispatcher) *View {
	v := &View{
		name:       name,
		subs:       usecase.NewSubscriptionRegistry(transport, workspaceID),
		store:      store,
		dispatcher: dispatcher,
		log:        logger.For("view").With(slog.String("view", name)),
	}

	v.offs = append(v.offs, store.Watch(v.observe))
	v.On(domain.EventContactDeleted, v.handleDeleted)
	return v
}

// Name returns the view name
func (v *View) Name() string {
	return v.name
}

// Focus subscribes the view to contact id
func (v *View) Focus(id string) {
	v.subs.Subscribe(id)
	v.updates.Add(1)
}

// Unfocus drops the current subscription
func (v *View) Unfocus() {
	v.subs.Unsubscribe("")
	v.updates.Add(1)
}

// Focused returns the focused contact id, or ""
func (v *View) Focused() string {
	return v.subs.Current()
}

// Contact returns the focused contact, nil when none is focused or it is gone
func (v *View) Contact() *domain.Contact {
	id := v.Focused()
	if id == "" {
		return nil
	}
	return v.store.Get(id)
}

// Messages returns the chat history of the focused contact
func (v *View) Messages() []*domain.Message {
	id := v.Focused()
	if id == "" {
		return nil
	}
	return v.store.Messages(id)
}

// Updates counts changes relevant to this view; pollers compare it to detect
// changes
func (v *View) Updates() uint64 {
	return v.updates.Load()
}

// On registers a dispatcher handler owned by the view
func (v *View) On(event string, h Handler) {
	off := v.dispatcher.On(event, h)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		off()
		return
	}
	v.offs = append(v.offs, off)
}

// Close unsubscribes and detaches everything the view registered
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	offs := v.offs
	v.offs = nil
	v.mu.Unlock()

	v.subs.Unsubscribe("")
	v.subs.Close()
	for _, off := range offs {
		off()
	}
	v.log.Debug("view closed")
}

func (v *View) observe(ch usecase.Change) {
	if ch.Kind == usecase.ChangeReload || ch.ContactID == v.Focused() {
		v.updates.Add(1)
	}
}

func (v *View) handleDeleted(_ context.Context, evt Event) error {
	id, err := domain.DecodeDeletionEvent(evt.Data)
	if err != nil || id == "" || id != v.Focused() {
		return nil
	}
	v.log.Info("focused contact deleted", slog.String("contact_id", id))
	v.Unfocus()
	return nil
}

// Views keeps the open views by name
type Views struct {
	transport   repo.Transport
	workspaceID string
	store       *usecase.ContactStore
	dispatcher  *Dispatcher
	metrics     *metrics.Metrics

	mu    sync.Mutex
	views map[string]*View
}

// NewViews creates an empty view set. m may be nil.
func NewViews(transport repo.Transport, workspaceID string, store *usecase.ContactStore, dispatcher *Dispatcher, m *metrics.Metrics) *Views {
	return &Views{
		transport:   transport,
		workspaceID: workspaceID,
		store:       store,
		dispatcher:  dispatcher,
		metrics:     m,
		views:       make(map[string]*View),
	}
}

// Open returns the view called name, creating it when needed
func (vs *Views) Open(name string) *View {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if v, ok := vs.views[name]; ok {
		return v
	}
	v := NewView(name, vs.transport, vs.workspaceID, vs.store, vs.dispatcher)
	vs.views[name] = v
	return v
}

// Get returns an open view
func (vs *Views) Get(name string) (*View, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.views[name]
	return v, ok
}

// Focus opens name if needed and focuses id
func (vs *Views) Focus(name, id string) *View {
	v := vs.Open(name)
	v.Focus(id)
	vs.report()
	return v
}

// Unfocus clears the subscription of an open view
func (vs *Views) Unfocus(name string) bool {
	v, ok := vs.Get(name)
	if !ok {
		return false
	}
	v.Unfocus()
	vs.report()
	return true
}

// Close closes and forgets the view called name
func (vs *Views) Close(name string) bool {
	vs.mu.Lock()
	v, ok := vs.views[name]
	delete(vs.views, name)
	vs.mu.Unlock()

	if !ok {
		return false
	}
	v.Close()
	vs.report()
	return true
}

// CloseAll closes every view
func (vs *Views) CloseAll() {
	for _, name := range vs.Names() {
		vs.Close(name)
	}
}

// Names lists the open views in name order
func (vs *Views) Names() []string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	names := make([]string, 0, len(vs.views))
	for name := range vs.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (vs *Views) report() {
	if vs.metrics == nil {
		return
	}
	vs.mu.Lock()
	focused := 0
	for _, v := range vs.views {
		if v.Focused() != "" {
			focused++
		}
	}
	vs.mu.Unlock()
	vs.metrics.Subscriptions.Set(float64(focused))
}
