package socket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/logger"
)

// Manager owns at most one Client per (workspace, user) and shares it
// between every consumer through reference counting
type Manager struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	clients map[string]*managedClient
}

type managedClient struct {
	client *Client
	refs   int
}

// NewManager creates a manager whose clients use opts
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:    opts,
		log:     logger.For("socket-manager"),
		clients: make(map[string]*managedClient),
	}
}

// Acquire returns the shared client for creds, connecting it on first use.
// A shared client whose supervisor gave up is connected again, so holders keep
// the same Client. The connection outlives ctx; only the last Release closes it.
func (m *Manager) Acquire(ctx context.Context, creds domain.Credentials) (*Client, error) {
	key := creds.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if mc, ok := m.clients[key]; ok {
		if mc.client.stopped() {
			if err := mc.client.Connect(context.WithoutCancel(ctx), creds); err != nil {
				return nil, err
			}
			m.log.Info("connection restarted", slog.String("key", key), slog.Int("refs", mc.refs+1))
		}
		mc.refs++
		m.log.Debug("connection shared", slog.String("key", key), slog.Int("refs", mc.refs))
		return mc.client, nil
	}

	client := NewClient(m.opts)
	if err := client.Connect(context.WithoutCancel(ctx), creds); err != nil {
		return nil, err
	}
	m.clients[key] = &managedClient{client: client, refs: 1}
	m.log.Info("connection opened", slog.String("key", key))
	return client, nil
}

// Release drops one reference; the last one disconnects the client
func (m *Manager) Release(creds domain.Credentials) {
	key := creds.Key()

	m.mu.Lock()
	mc, ok := m.clients[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	mc.refs--
	if mc.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.clients, key)
	m.mu.Unlock()

	mc.client.Disconnect()
	m.log.Info("connection closed", slog.String("key", key))
}

// Close disconnects every client regardless of references
func (m *Manager) Close() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*managedClient)
	m.mu.Unlock()

	for _, mc := range clients {
		mc.client.Disconnect()
	}
}
