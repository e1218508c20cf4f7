package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/service"
)

// Client is the HTTP client for the sync daemon's local API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// State is the daemon state as served by /api/state
type State struct {
	Connection domain.ConnectionState `json:"connection"`
	Line       *domain.Line           `json:"line"`
	Contacts   int                    `json:"contacts"`
	Seq        uint64                 `json:"seq"`
}

// ============ Contacts ============

// ListContacts lists contacts, optionally filtered by status and a name/phone query
func (c *Client) ListContacts(ctx context.Context, status, query string) ([]*domain.Contact, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if query != "" {
		params.Set("q", query)
	}
	path := "/api/contacts"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var result struct {
		Contacts []*domain.Contact `json:"contacts"`
	}
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Contacts, nil
}

// GetContact gets one contact
func (c *Client) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	var contact domain.Contact
	if err := c.get(ctx, "/api/contacts/"+url.PathEscape(id), &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// GetMessages gets the chat history of a contact
func (c *Client) GetMessages(ctx context.Context, id string) ([]*domain.Message, error) {
	var result struct {
		Messages []*domain.Message `json:"messages"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/contacts/%s/messages", url.PathEscape(id)), &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// UpdateContact applies a partial update
func (c *Client) UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) (*domain.Contact, error) {
	var contact domain.Contact
	if err := c.send(ctx, http.MethodPatch, "/api/contacts/"+url.PathEscape(id), patch, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// SendMessage sends a chat message to a contact
func (c *Client) SendMessage(ctx context.Context, id, text string) (*domain.Message, error) {
	body := map[string]string{"message": text}
	var msg domain.Message
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/contacts/%s/messages", url.PathEscape(id)), body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ============ State ============

// GetState gets the connection and line state
func (c *Client) GetState(ctx context.Context) (*State, error) {
	var state State
	if err := c.get(ctx, "/api/state", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetSummary gets the pipeline summary
func (c *Client) GetSummary(ctx context.Context) (*service.Summary, error) {
	var summary service.Summary
	if err := c.get(ctx, "/api/analytics", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ============ HTTP Helpers ============

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) send(ctx context.Context, method, path string, body, result any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
