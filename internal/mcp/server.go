// Package mcp exposes the synchronized working set to agents as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/service"
)

// Backend is what the tools read from and write through
type Backend interface {
	ListContacts(ctx context.Context, status, query string) ([]*domain.Contact, error)
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	GetMessages(ctx context.Context, id string) ([]*domain.Message, error)
	UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) (*domain.Contact, error)
	SendMessage(ctx context.Context, id, text string) (*domain.Message, error)
	GetState(ctx context.Context) (*State, error)
	GetSummary(ctx context.Context) (*service.Summary, error)
}

// Server is the contact-sync MCP server
type Server struct {
	server  *mcp.Server
	backend Backend
}

// NewServer creates the MCP server and registers its tools
func NewServer(backend Backend, version string) *Server {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "contact-sync",
			Version: version,
		}, nil),
		backend: backend,
	}
	s.registerTools()
	return s
}

// Run serves on the stdio transport until the client disconnects or ctx ends
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over transport
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_contacts",
		Description: "List synchronized contacts, most recently active first. Optionally filter by status (new, contacted, interested, scheduled, won, lost) or by a name/phone query.",
	}, s.listContacts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_contact",
		Description: "Get one contact with its funnel stage, status, tags and last message.",
	}, s.getContact)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_contact_messages",
		Description: "Get the recent chat history of a contact, oldest first.",
	}, s.getContactMessages)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update_contact",
		Description: "Change a contact's funnel stage, priority or AI flag. The change shows at once and is rolled back if the CRM rejects it.",
	}, s.updateContact)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a chat message to a contact as the agent.",
	}, s.sendMessage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "connection_status",
		Description: "Get the push connection state and line information.",
	}, s.connectionStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "pipeline_summary",
		Description: "Get contact counts by status and priority.",
	}, s.pipelineSummary)
}

// ListContactsInput filters list_contacts
type ListContactsInput struct {
	Status string `json:"status,omitempty" jsonschema:"status to filter by"`
	Query  string `json:"query,omitempty" jsonschema:"case-insensitive name or phone fragment"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of contacts (default 50)"`
}

// ListContactsOutput contains the matching contacts
type ListContactsOutput struct {
	Contacts []*domain.Contact `json:"contacts"`
	Total    int               `json:"total"`
}

func (s *Server) listContacts(ctx context.Context, req *mcp.CallToolRequest, input ListContactsInput) (*mcp.CallToolResult, ListContactsOutput, error) {
	status := strings.ToLower(strings.TrimSpace(input.Status))
	if status != "" && !domain.Status(status).IsValid() {
		return nil, ListContactsOutput{}, fmt.Errorf("unknown status %q", input.Status)
	}

	contacts, err := s.backend.ListContacts(ctx, status, input.Query)
	if err != nil {
		return nil, ListContactsOutput{}, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	out := ListContactsOutput{Contacts: contacts, Total: len(contacts)}
	if len(out.Contacts) > limit {
		out.Contacts = out.Contacts[:limit]
	}
	if out.Contacts == nil {
		out.Contacts = []*domain.Contact{}
	}
	return nil, out, nil
}

// ContactInput identifies a contact
type ContactInput struct {
	ContactID string `json:"contact_id" jsonschema:"the contact id"`
}

// ContactOutput wraps one contact
type ContactOutput struct {
	Contact *domain.Contact `json:"contact"`
}

func (s *Server) getContact(ctx context.Context, req *mcp.CallToolRequest, input ContactInput) (*mcp.CallToolResult, ContactOutput, error) {
	if input.ContactID == "" {
		return nil, ContactOutput{}, fmt.Errorf("contact_id is required")
	}
	contact, err := s.backend.GetContact(ctx, input.ContactID)
	if err != nil {
		return nil, ContactOutput{}, err
	}
	return nil, ContactOutput{Contact: contact}, nil
}

// MessagesInput selects a contact's history
type MessagesInput struct {
	ContactID string `json:"contact_id" jsonschema:"the contact id"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of most recent messages (default 20)"`
}

// MessagesOutput contains chat messages
type MessagesOutput struct {
	Messages []*domain.Message `json:"messages"`
}

func (s *Server) getContactMessages(ctx context.Context, req *mcp.CallToolRequest, input MessagesInput) (*mcp.CallToolResult, MessagesOutput, error) {
	if input.ContactID == "" {
		return nil, MessagesOutput{}, fmt.Errorf("contact_id is required")
	}
	messages, err := s.backend.GetMessages(ctx, input.ContactID)
	if err != nil {
		return nil, MessagesOutput{}, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	return nil, MessagesOutput{Messages: messages}, nil
}

// UpdateContactInput carries the fields to change; omitted fields are kept
type UpdateContactInput struct {
	ContactID   string `json:"contact_id" jsonschema:"the contact id"`
	FunnelStage string `json:"funnel_stage,omitempty" jsonschema:"new funnel stage, e.g. cita_agendada"`
	Priority    string `json:"priority,omitempty" jsonschema:"new priority"`
	AIEnabled   *bool  `json:"ai_enabled,omitempty" jsonschema:"whether the AI assistant answers this contact"`
}

func (s *Server) updateContact(ctx context.Context, req *mcp.CallToolRequest, input UpdateContactInput) (*mcp.CallToolResult, ContactOutput, error) {
	if input.ContactID == "" {
		return nil, ContactOutput{}, fmt.Errorf("contact_id is required")
	}

	var patch domain.ContactPatch
	if input.FunnelStage != "" {
		patch.FunnelStage = domain.String(input.FunnelStage)
	}
	if input.Priority != "" {
		patch.Priority = domain.String(input.Priority)
	}
	patch.AIEnabled = input.AIEnabled
	if patch.IsEmpty() {
		return nil, ContactOutput{}, fmt.Errorf("nothing to update")
	}

	contact, err := s.backend.UpdateContact(ctx, input.ContactID, patch)
	if err != nil {
		return nil, ContactOutput{}, err
	}
	return nil, ContactOutput{Contact: contact}, nil
}

// SendMessageInput is the input for send_message
type SendMessageInput struct {
	ContactID string `json:"contact_id" jsonschema:"the contact id"`
	Message   string `json:"message" jsonschema:"the text to send"`
}

// SendMessageOutput is the output for send_message
type SendMessageOutput struct {
	Message *domain.Message `json:"message"`
}

func (s *Server) sendMessage(ctx context.Context, req *mcp.CallToolRequest, input SendMessageInput) (*mcp.CallToolResult, SendMessageOutput, error) {
	if input.ContactID == "" || strings.TrimSpace(input.Message) == "" {
		return nil, SendMessageOutput{}, fmt.Errorf("contact_id and message are required")
	}
	msg, err := s.backend.SendMessage(ctx, input.ContactID, input.Message)
	if err != nil {
		return nil, SendMessageOutput{}, err
	}
	return nil, SendMessageOutput{Message: msg}, nil
}

// EmptyInput is used by tools without arguments
type EmptyInput struct{}

func (s *Server) connectionStatus(ctx context.Context, req *mcp.CallToolRequest, input EmptyInput) (*mcp.CallToolResult, State, error) {
	state, err := s.backend.GetState(ctx)
	if err != nil {
		return nil, State{}, err
	}
	return nil, *state, nil
}

func (s *Server) pipelineSummary(ctx context.Context, req *mcp.CallToolRequest, input EmptyInput) (*mcp.CallToolResult, service.Summary, error) {
	summary, err := s.backend.GetSummary(ctx)
	if err != nil {
		return nil, service.Summary{}, err
	}
	return nil, *summary, nil
}
