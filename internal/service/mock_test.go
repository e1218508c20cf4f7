package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pipeboard/contact-sync/internal/biz"
	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/biz/usecase"
	"github.com/pipeboard/contact-sync/internal/metrics"
)

// Mock implementations

type sentFrame struct {
	Event string
	Data  any
}

type mockConn struct {
	mu        sync.Mutex
	state     domain.ConnectionState
	sent      []sentFrame
	hooks     map[int]func(repo.SendFunc)
	listeners map[int]func(domain.ConnectionState)
	nextID    int
}

func newMockConn() *mockConn {
	return &mockConn{
		state:     domain.ConnectionState{Status: domain.StateDisconnected},
		hooks:     make(map[int]func(repo.SendFunc)),
		listeners: make(map[int]func(domain.ConnectionState)),
	}
}

func (m *mockConn) Emit(event string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != domain.StateAuthenticated {
		return &domain.TransportError{Op: "emit", Err: errors.New("not authenticated")}
	}
	m.sent = append(m.sent, sentFrame{Event: event, Data: data})
	return nil
}

func (m *mockConn) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status == domain.StateAuthenticated
}

func (m *mockConn) OnAuthenticated(hook func(repo.SendFunc)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.hooks[id] = hook
	return func() {
		m.mu.Lock()
		delete(m.hooks, id)
		m.mu.Unlock()
	}
}

func (m *mockConn) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockConn) OnStateChange(fn func(domain.ConnectionState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// authenticate runs the hooks with a direct sender, then opens the connection
func (m *mockConn) authenticate() {
	m.mu.Lock()
	direct := func(event string, data any) error {
		m.sent = append(m.sent, sentFrame{Event: event, Data: data})
		return nil
	}
	for i := 0; i < m.nextID; i++ {
		if hook, ok := m.hooks[i]; ok {
			hook(direct)
		}
	}
	m.mu.Unlock()
	m.setStatus(domain.StateAuthenticated)
}

func (m *mockConn) setStatus(status domain.ConnectionStatus) {
	m.mu.Lock()
	m.state.Status = status
	m.state.Authenticated = status == domain.StateAuthenticated
	st := m.state
	var fns []func(domain.ConnectionState)
	for i := 0; i < m.nextID; i++ {
		if fn, ok := m.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (m *mockConn) frames() []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentFrame(nil), m.sent...)
}

type mockAPI struct {
	mu        sync.Mutex
	results   [][]*domain.Contact
	calls     int
	gate      chan struct{}
	listErr   error
	updateErr error
	sendErr   error
}

func (m *mockAPI) setContacts(contacts ...*domain.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = [][]*domain.Contact{contacts}
}

func (m *mockAPI) ListContacts(ctx context.Context, lineID string) ([]*domain.Contact, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	gate := m.gate
	if call == 0 {
		m.gate = nil
	} else {
		gate = nil
	}
	var out []*domain.Contact
	if len(m.results) > 0 {
		out = m.results[min(call, len(m.results)-1)]
	}
	err := m.listErr
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	cloned := make([]*domain.Contact, 0, len(out))
	for _, c := range out {
		cloned = append(cloned, c.Clone())
	}
	return cloned, nil
}

func (m *mockAPI) GetLine(ctx context.Context, lineID string) (*domain.Line, error) {
	return &domain.Line{ID: lineID, Name: "Ventas"}, nil
}

func (m *mockAPI) UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) error {
	return m.updateErr
}

func (m *mockAPI) SendMessage(ctx context.Context, msg domain.OutboundMessage) (*domain.Message, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &domain.Message{ID: "srv-1", ContactID: msg.ContactID}, nil
}

type mockSnapshots struct {
	mu    sync.Mutex
	saved map[string][]*domain.Contact
	saves int
}

func newMockSnapshots() *mockSnapshots {
	return &mockSnapshots{saved: make(map[string][]*domain.Contact)}
}

func (m *mockSnapshots) Save(ctx context.Context, lineID string, contacts []*domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[lineID] = contacts
	m.saves++
	return nil
}

func (m *mockSnapshots) Load(ctx context.Context, lineID string) ([]*domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[lineID], nil
}

func (m *mockSnapshots) Lines(ctx context.Context) ([]repo.SnapshotInfo, error) {
	return nil, nil
}

func (m *mockSnapshots) Close() error { return nil }

func (m *mockSnapshots) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type mockNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (m *mockNotifier) Alert(ctx context.Context, title, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
	return nil
}

func (m *mockNotifier) alerts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.titles...)
}

type harness struct {
	store      *usecase.ContactStore
	api        *mockAPI
	conn       *mockConn
	snapshots  *mockSnapshots
	notifier   *mockNotifier
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	svc        *SyncService
}

func newHarness(t *testing.T, cfg SyncConfig, contacts ...*domain.Contact) *harness {
	t.Helper()
	if cfg.LineID == "" {
		cfg.LineID = "L1"
	}
	if cfg.WorkspaceID == "" {
		cfg.WorkspaceID = "ws"
	}

	h := &harness{
		store:      usecase.NewContactStore(0),
		api:        &mockAPI{},
		conn:       newMockConn(),
		snapshots:  newMockSnapshots(),
		notifier:   &mockNotifier{},
		dispatcher: NewDispatcher(64),
		metrics:    metrics.New(),
	}
	h.store.Load(contacts)

	uc := &biz.Usecases{
		Store:     h.store,
		Reconcile: usecase.NewReconcileUsecase(h.store, usecase.ReconcileConfig{LineID: cfg.LineID}),
	}
	uc.Optimistic = usecase.NewOptimisticUsecase(h.store, h.api, h.conn, h.dispatcher, cfg.LineID)

	h.svc = NewSyncService(uc, h.api, h.snapshots, h.notifier, h.dispatcher, h.conn, h.metrics, cfg)
	h.svc.Register()
	t.Cleanup(h.svc.Close)
	return h
}

// runLoop drains the dispatcher queue like the server event loop
func (h *harness) runLoop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-h.dispatcher.Queue():
				h.dispatcher.Emit(ctx, evt)
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// post queues a remote event for the event loop
func (h *harness) post(name, data string) {
	h.dispatcher.Post(context.Background(), Event{Name: name, Data: []byte(data)})
}

// emit delivers a remote event through the dispatcher
func (h *harness) emit(name, data string) {
	h.dispatcher.Emit(context.Background(), Event{Name: name, Data: []byte(data)})
}

func testContact() *domain.Contact {
	return &domain.Contact{
		ID:             "c1",
		Phone:          "3000000000",
		DisplayName:    "Ana",
		FunnelStage:    "nuevo_contacto",
		Priority:       "media",
		Tags:           []string{},
		LastActivityAt: "2024-04-30T10:00:00Z",
	}
}
