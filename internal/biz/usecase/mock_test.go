package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"
)

// Mock implementations

type sentFrame struct {
	Event string
	Data  any
}

type mockTransport struct {
	mu            sync.Mutex
	authenticated bool
	emitErr       error
	sent          []sentFrame
	hooks         map[int]func(repo.SendFunc)
	nextHook      int
}

func newMockTransport(authenticated bool) *mockTransport {
	return &mockTransport{authenticated: authenticated, hooks: make(map[int]func(repo.SendFunc))}
}

func (m *mockTransport) Emit(event string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated {
		return &domain.TransportError{Op: "emit", Err: errors.New("not authenticated")}
	}
	if m.emitErr != nil {
		return m.emitErr
	}
	m.sent = append(m.sent, sentFrame{Event: event, Data: data})
	return nil
}

func (m *mockTransport) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

func (m *mockTransport) OnAuthenticated(hook func(repo.SendFunc)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextHook
	m.nextHook++
	m.hooks[id] = hook
	return func() {
		m.mu.Lock()
		delete(m.hooks, id)
		m.mu.Unlock()
	}
}

// authenticate simulates an authenticated transition: hooks first, then
// the connection opens up for other senders
func (m *mockTransport) authenticate() {
	m.mu.Lock()
	direct := func(event string, data any) error {
		m.sent = append(m.sent, sentFrame{Event: event, Data: data})
		return nil
	}
	for i := 0; i < m.nextHook; i++ {
		if hook, ok := m.hooks[i]; ok {
			hook(direct)
		}
	}
	m.authenticated = true
	m.mu.Unlock()
}

func (m *mockTransport) frames() []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentFrame(nil), m.sent...)
}

type mockContactAPI struct {
	contacts  []*domain.Contact
	updateErr error
	sendErr   error
	updates   []domain.ContactPatch
	sends     []domain.OutboundMessage
}

func (m *mockContactAPI) ListContacts(ctx context.Context, lineID string) ([]*domain.Contact, error) {
	return m.contacts, nil
}

func (m *mockContactAPI) GetLine(ctx context.Context, lineID string) (*domain.Line, error) {
	return &domain.Line{ID: lineID}, nil
}

func (m *mockContactAPI) UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) error {
	m.updates = append(m.updates, patch)
	return m.updateErr
}

func (m *mockContactAPI) SendMessage(ctx context.Context, msg domain.OutboundMessage) (*domain.Message, error) {
	m.sends = append(m.sends, msg)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &domain.Message{ID: "srv-" + msg.ClientID, ContactID: msg.ContactID}, nil
}

type echoed struct {
	Event   string
	Payload any
}

type mockEchoer struct {
	events []echoed
}

func (m *mockEchoer) Echo(ctx context.Context, event string, payload any) {
	m.events = append(m.events, echoed{Event: event, Payload: payload})
}

func seedStore(contacts ...*domain.Contact) *ContactStore {
	s := NewContactStore(0)
	s.Load(contacts)
	return s
}

func testContact() *domain.Contact {
	return &domain.Contact{
		ID:             "c1",
		Phone:          "3000000000",
		DisplayName:    "Ana",
		FunnelStage:    "nuevo_contacto",
		Priority:       "media",
		AIEnabled:      true,
		Tags:           []string{"vip"},
		LastActivityAt: "2024-04-30T10:00:00Z",
	}
}
