package data

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

	"golang.org/x/time/rate"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/logger"
)

// APIError is a non-2xx answer from the system of record
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// APIConfig configures the request/response collaborator
type APIConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
}

// contactAPI implements repo.ContactAPI over HTTP
type contactAPI struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewContactAPI creates the HTTP collaborator client
func NewContactAPI(cfg APIConfig) repo.ContactAPI {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		if cfg.Burst <= 0 {
			cfg.Burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	return &contactAPI{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

// ListContacts fetches every contact of a line
func (a *contactAPI) ListContacts(ctx context.Context, lineID string) ([]*domain.Contact, error) {
	body, err := a.do(ctx, http.MethodGet, "/lines/"+url.PathEscape(lineID)+"/contacts", nil)
	if err != nil {
		return nil, err
	}

	items, err := unwrapList(body, "contacts")
	if err != nil {
		return nil, fmt.Errorf("failed to decode contacts: %w", err)
	}

	contacts := make([]*domain.Contact, 0, len(items))
	for _, raw := range items {
		c, err := domain.DecodeContact(raw)
		if err != nil {
			logger.L.Debug("skipping malformed contact", "error", err)
			continue
		}
		if c.LineID == "" {
			c.LineID = lineID
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

// GetLine fetches line metadata
func (a *contactAPI) GetLine(ctx context.Context, lineID string) (*domain.Line, error) {
	body, err := a.do(ctx, http.MethodGet, "/lines/"+url.PathEscape(lineID), nil)
	if err != nil {
		return nil, err
	}
	var line domain.Line
	if err := json.Unmarshal(unwrapObject(body, "line"), &line); err != nil {
		return nil, fmt.Errorf("failed to decode line: %w", err)
	}
	if line.ID == "" {
		line.ID = lineID
	}
	return &line, nil
}

// UpdateContact submits the fields present in patch
func (a *contactAPI) UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) error {
	_, err := a.do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(id), patch)
	return err
}

// SendMessage posts an outbound message
func (a *contactAPI) SendMessage(ctx context.Context, msg domain.OutboundMessage) (*domain.Message, error) {
	body, err := a.do(ctx, http.MethodPost, "/messages", msg)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	sent, err := domain.DecodeMessageEvent(unwrapObject(body, "data"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sent message: %w", err)
	}
	return sent, nil
}

func (a *contactAPI) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// unwrapList accepts a bare array or an object holding the array under key or "data"
func unwrapList(body []byte, key string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, err
	}
	for _, k := range []string{key, "data"} {
		if raw, ok := wrapper[k]; ok {
			if err := json.Unmarshal(raw, &items); err == nil {
				return items, nil
			}
		}
	}
	return nil, fmt.Errorf("no %q list in response", key)
}

// unwrapObject returns the object under key when present, else body itself
func unwrapObject(body []byte, key string) []byte {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return body
	}
	if raw, ok := wrapper[key]; ok && len(raw) > 0 && raw[0] == '{' {
		return raw
	}
	return body
}
