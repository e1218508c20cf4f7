package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/service"
)

// mockBackend implements Backend for testing
type mockBackend struct {
	contacts []*domain.Contact
	messages []*domain.Message
	patches  []domain.ContactPatch
	status   string
}

func (m *mockBackend) ListContacts(ctx context.Context, status, query string) ([]*domain.Contact, error) {
	m.status = status
	return m.contacts, nil
}

func (m *mockBackend) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	for _, c := range m.contacts {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errors.New("HTTP 404: contact not found")
}

func (m *mockBackend) GetMessages(ctx context.Context, id string) ([]*domain.Message, error) {
	return m.messages, nil
}

func (m *mockBackend) UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) (*domain.Contact, error) {
	m.patches = append(m.patches, patch)
	return &domain.Contact{ID: id}, nil
}

func (m *mockBackend) SendMessage(ctx context.Context, id, text string) (*domain.Message, error) {
	return &domain.Message{ID: "m1", ContactID: id, Content: text}, nil
}

func (m *mockBackend) GetState(ctx context.Context) (*State, error) {
	return &State{Connection: domain.ConnectionState{Status: domain.StateAuthenticated, Authenticated: true}, Contacts: len(m.contacts)}, nil
}

func (m *mockBackend) GetSummary(ctx context.Context) (*service.Summary, error) {
	s := service.Summarize(m.contacts)
	return &s, nil
}

func testBackend() *mockBackend {
	return &mockBackend{
		contacts: []*domain.Contact{
			{ID: "c1", DisplayName: "Ana", FunnelStage: "ganado", Status: domain.StatusWon},
			{ID: "c2", DisplayName: "Luis", FunnelStage: "nuevo", Status: domain.StatusNew},
			{ID: "c3", DisplayName: "Eva", FunnelStage: "nuevo", Status: domain.StatusNew},
		},
		messages: []*domain.Message{
			{ID: "m1", Content: "uno"}, {ID: "m2", Content: "dos"}, {ID: "m3", Content: "tres"},
		},
	}
}

func TestServer_ListContacts(t *testing.T) {
	backend := testBackend()
	s := NewServer(backend, "test")

	_, out, err := s.listContacts(context.Background(), nil, ListContactsInput{Status: "WON", Limit: 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if backend.status != "won" {
		t.Errorf("Expected normalized status won, got %q", backend.status)
	}
	if out.Total != 3 || len(out.Contacts) != 2 {
		t.Errorf("Expected 2 of 3 contacts, got %d of %d", len(out.Contacts), out.Total)
	}

	if _, _, err := s.listContacts(context.Background(), nil, ListContactsInput{Status: "pending"}); err == nil {
		t.Error("Expected error for unknown status")
	}
}

func TestServer_GetContactMessages_KeepsMostRecent(t *testing.T) {
	s := NewServer(testBackend(), "test")

	_, out, err := s.getContactMessages(context.Background(), nil, MessagesInput{ContactID: "c1", Limit: 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0].ID != "m2" {
		t.Errorf("Expected m2,m3, got %+v", out.Messages)
	}
}

func TestServer_UpdateContact(t *testing.T) {
	backend := testBackend()
	s := NewServer(backend, "test")

	if _, _, err := s.updateContact(context.Background(), nil, UpdateContactInput{ContactID: "c1"}); err == nil {
		t.Error("Expected error for empty update")
	}

	off := false
	_, _, err := s.updateContact(context.Background(), nil, UpdateContactInput{ContactID: "c1", FunnelStage: "perdido", AIEnabled: &off})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(backend.patches) != 1 {
		t.Fatalf("Expected 1 patch, got %d", len(backend.patches))
	}
	p := backend.patches[0]
	if p.FunnelStage == nil || *p.FunnelStage != "perdido" || p.AIEnabled == nil || *p.AIEnabled || p.Priority != nil {
		t.Errorf("Unexpected patch %+v", p)
	}
}

func TestServer_CallTool_InMemory(t *testing.T) {
	ctx := context.Background()
	s := NewServer(testBackend(), "test")

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatalf("Failed to connect server: %v", err)
	}
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("Failed to connect client: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "pipeline_summary", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("Tool returned error: %+v", res.Content)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", res.Content[0])
	}
	var summary service.Summary
	if err := json.Unmarshal([]byte(text.Text), &summary); err != nil {
		t.Fatalf("Failed to parse summary: %v", err)
	}
	if summary.Total != 3 || summary.ByStatus[domain.StatusNew] != 2 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "get_contact", Arguments: map[string]any{"contact_id": "missing"}})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !res.IsError {
		t.Error("Expected tool error for missing contact")
	}
}
