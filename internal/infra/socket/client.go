// Package socket implements the push transport: one websocket connection per
// (workspace, user) with authentication, heartbeat and supervised reconnects.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/logger"
)

// ErrNotAuthenticated is wrapped in the TransportError returned by Emit
// while the connection is not authenticated
var ErrNotAuthenticated = errors.New("connection not authenticated")

// ErrAlreadyConnected is returned by Connect on a running client
var ErrAlreadyConnected = errors.New("client already connected")

// Options configures a Client
type Options struct {
	URL                   string
	HandshakeTimeout      time.Duration
	WriteTimeout          time.Duration
	HeartbeatInterval     time.Duration
	AuthTimeout           time.Duration
	MaxAuthAttempts       int
	ServerDisconnectDelay time.Duration
	Backoff               BackoffConfig
	EventBuffer           int
}

// DefaultOptions returns the transport defaults
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout:      10 * time.Second,
		WriteTimeout:          10 * time.Second,
		HeartbeatInterval:     25 * time.Second,
		AuthTimeout:           10 * time.Second,
		MaxAuthAttempts:       3,
		ServerDisconnectDelay: time.Second,
		Backoff:               DefaultBackoffConfig(),
		EventBuffer:           256,
	}
}

func (o *Options) fillDefaults() {
	d := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = d.AuthTimeout
	}
	if o.MaxAuthAttempts <= 0 {
		o.MaxAuthAttempts = d.MaxAuthAttempts
	}
	if o.ServerDisconnectDelay <= 0 {
		o.ServerDisconnectDelay = d.ServerDisconnectDelay
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
}

// serverReasons are disconnect reasons that mean the remote side closed on purpose
var serverReasons = []string{"server-initiated", "io server disconnect", "server disconnect"}

// Client is a supervised push connection
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	log    *slog.Logger
	events chan Frame

	mu             sync.Mutex
	state          domain.ConnectionState
	authenticating bool
	conn           *websocket.Conn
	hooks          map[int]func(repo.SendFunc)
	hookID         int
	cancel         context.CancelFunc
	done           chan struct{}

	writeMu sync.Mutex

	listenMu  sync.Mutex
	listeners map[int]func(domain.ConnectionState)
	listenID  int
}

// NewClient creates a disconnected client
func NewClient(opts Options) *Client {
	opts.fillDefaults()
	return &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		log:       logger.For("socket"),
		events:    make(chan Frame, opts.EventBuffer),
		state:     domain.ConnectionState{Status: domain.StateDisconnected},
		hooks:     make(map[int]func(repo.SendFunc)),
		listeners: make(map[int]func(domain.ConnectionState)),
	}
}

// Connect starts the connection supervisor for creds and returns at once.
// The supervisor runs until Disconnect, until ctx ends, or until
// authentication has failed MaxAuthAttempts times in a row.
func (c *Client) Connect(ctx context.Context, creds domain.Credentials) error {
	if creds.WorkspaceID == "" || creds.UserID == "" {
		return fmt.Errorf("connect: workspace and user id are required")
	}
	if c.opts.URL == "" {
		return fmt.Errorf("connect: no transport url configured")
	}

	c.mu.Lock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			c.mu.Unlock()
			return ErrAlreadyConnected
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(runCtx, creds, done)
	return nil
}

// Disconnect stops the supervisor and closes the connection
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// stopped reports whether the supervisor has exited, after Disconnect or
// after giving up on authentication
func (c *Client) stopped() bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// State returns a snapshot of the connection state
func (c *Client) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsAuthenticated reports whether Emit can currently succeed
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status == domain.StateAuthenticated && !c.authenticating && c.conn != nil
}

// Events returns inbound frames. The channel stays open across reconnects.
func (c *Client) Events() <-chan Frame {
	return c.events
}

// Emit sends an event on the authenticated connection
func (c *Client) Emit(event string, data any) error {
	c.mu.Lock()
	if c.state.Status != domain.StateAuthenticated || c.authenticating || c.conn == nil {
		c.mu.Unlock()
		return &domain.TransportError{Op: "emit " + event, Err: ErrNotAuthenticated}
	}
	conn := c.conn
	c.mu.Unlock()

	return c.write(conn, event, data)
}

// OnAuthenticated registers a hook run on every authenticated transition.
// Hooks run while the client is still closed to other senders and must only
// use the send function they are given.
func (c *Client) OnAuthenticated(hook func(send repo.SendFunc)) (remove func()) {
	c.mu.Lock()
	id := c.hookID
	c.hookID++
	c.hooks[id] = hook
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.hooks, id)
		c.mu.Unlock()
	}
}

// OnStateChange registers a listener for state transitions
func (c *Client) OnStateChange(fn func(domain.ConnectionState)) (remove func()) {
	c.listenMu.Lock()
	id := c.listenID
	c.listenID++
	c.listeners[id] = fn
	c.listenMu.Unlock()

	return func() {
		c.listenMu.Lock()
		delete(c.listeners, id)
		c.listenMu.Unlock()
	}
}

func (c *Client) run(ctx context.Context, creds domain.Credentials, done chan struct{}) {
	defer close(done)

	backoff := NewBackoff(c.opts.Backoff)
	authFailures := 0
	onAuth := func() {
		backoff.Reset()
		authFailures = 0
	}

	for {
		c.setState(func(s *domain.ConnectionState) {
			s.Status = domain.StateConnecting
			s.Authenticated = false
		})

		serverClosed, err := c.session(ctx, creds, onAuth)
		if ctx.Err() != nil {
			c.setState(func(s *domain.ConnectionState) {
				*s = domain.ConnectionState{Status: domain.StateDisconnected}
			})
			c.log.Info("disconnected", slog.String("workspace_id", creds.WorkspaceID))
			return
		}

		var delay time.Duration
		var authErr *domain.AuthenticationError
		switch {
		case errors.As(err, &authErr):
			authFailures++
			if authFailures >= c.opts.MaxAuthAttempts {
				c.log.Error("authentication failed, giving up",
					slog.Int("attempts", authFailures), slog.String("reason", authErr.Reason))
				c.setState(func(s *domain.ConnectionState) {
					*s = domain.ConnectionState{Status: domain.StateDisconnected, LastError: err.Error(), ReconnectAttempts: backoff.Attempts()}
				})
				return
			}
			delay = backoff.Next()
			c.log.Warn("authentication failed, retrying",
				slog.Int("attempt", authFailures), slog.String("reason", authErr.Reason), slog.Duration("delay", delay))
			c.setFailure(domain.StateError, err, backoff.Attempts())

		case serverClosed:
			delay = c.opts.ServerDisconnectDelay
			c.log.Info("server closed the connection, reconnecting", slog.Duration("delay", delay))
			c.setFailure(domain.StateDisconnected, err, backoff.Attempts())

		default:
			delay = backoff.Next()
			c.log.Warn("connection lost", slog.Any("error", err),
				slog.Int("attempt", backoff.Attempts()), slog.Duration("delay", delay))
			c.setFailure(domain.StateError, err, backoff.Attempts())
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(func(s *domain.ConnectionState) {
				*s = domain.ConnectionState{Status: domain.StateDisconnected}
			})
			return
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to close. serverClosed reports a
// disconnect the remote side initiated on purpose.
func (c *Client) session(ctx context.Context, creds domain.Credentials, onAuth func()) (serverClosed bool, err error) {
	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, &domain.TransportError{Op: "dial", Err: err}
	}

	sessCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		<-sessCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	c.mu.Lock()
	c.conn = conn
	c.state.Status = domain.StateConnected
	st := c.state
	c.mu.Unlock()
	c.notify(st)
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.state.Authenticated = false
		c.mu.Unlock()
	}()

	auth := map[string]string{"workspaceId": creds.WorkspaceID, "userId": creds.UserID}
	if err := c.write(conn, domain.EventAuthenticate, auth); err != nil {
		return false, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.AuthTimeout))
	authed := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case sessCtx.Err() != nil:
				return false, sessCtx.Err()
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return true, &domain.TransportError{Op: "read", Err: err}
			case !authed && isTimeout(err):
				return false, &domain.AuthenticationError{Reason: "no authenticated response within " + c.opts.AuthTimeout.String()}
			default:
				return false, &domain.TransportError{Op: "read", Err: err}
			}
		}
		if authed {
			c.extendDeadline(conn)
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.log.Debug("ignoring undecodable frame", slog.Any("error", err))
			continue
		}

		switch frame.Event {
		case domain.EventAuthenticated:
			if authed {
				continue
			}
			authed = true
			c.authenticate(conn)
			onAuth()
			c.extendDeadline(conn)
			go c.heartbeat(sessCtx, conn)
			c.log.Info("authenticated", slog.String("workspace_id", creds.WorkspaceID), slog.String("user_id", creds.UserID))
			c.forward(sessCtx, frame)

		case domain.EventAuthError:
			return false, &domain.AuthenticationError{Reason: reasonOf(frame.Data)}

		case domain.EventPong:
			// keep-alive only

		case domain.EventDisconnect:
			reason := reasonOf(frame.Data)
			return isServerReason(reason), &domain.TransportError{Op: "disconnect", Err: errors.New(reason)}

		default:
			c.forward(sessCtx, frame)
		}
	}
}

// authenticate runs the hooks with a direct send function and only then
// opens the connection to Emit. Hooks run without c.mu held, so State stays
// readable while they write; the status remains connected until they finish.
func (c *Client) authenticate(conn *websocket.Conn) {
	send := func(event string, data any) error {
		return c.write(conn, event, data)
	}

	c.mu.Lock()
	c.authenticating = true
	ids := make([]int, 0, len(c.hooks))
	for id := range c.hooks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hooks := make([]func(repo.SendFunc), 0, len(ids))
	for _, id := range ids {
		hooks = append(hooks, c.hooks[id])
	}
	c.mu.Unlock()

	for _, hook := range hooks {
		c.runHook(hook, send)
	}

	c.mu.Lock()
	c.authenticating = false
	c.state = domain.ConnectionState{Status: domain.StateAuthenticated, Authenticated: true}
	st := c.state
	c.mu.Unlock()

	c.notify(st)
}

func (c *Client) runHook(hook func(repo.SendFunc), send repo.SendFunc) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("authenticated hook panicked", slog.Any("panic", r))
		}
	}()
	hook(send)
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	if c.opts.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, domain.EventPing, nil); err != nil {
				c.log.Debug("heartbeat failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (c *Client) forward(ctx context.Context, frame Frame) {
	select {
	case c.events <- frame:
	case <-ctx.Done():
	}
}

func (c *Client) write(conn *websocket.Conn, event string, data any) error {
	b, err := EncodeFrame(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return &domain.TransportError{Op: "write " + event, Err: err}
	}
	return nil
}

// extendDeadline allows three missed heartbeats before the read times out
func (c *Client) extendDeadline(conn *websocket.Conn) {
	if c.opts.HeartbeatInterval <= 0 {
		_ = conn.SetReadDeadline(time.Time{})
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * c.opts.HeartbeatInterval))
}

func (c *Client) setFailure(status domain.ConnectionStatus, err error, attempts int) {
	c.setState(func(s *domain.ConnectionState) {
		s.Status = status
		s.Authenticated = false
		s.ReconnectAttempts = attempts
		if err != nil {
			s.LastError = err.Error()
		}
	})
}

func (c *Client) setState(fn func(s *domain.ConnectionState)) {
	c.mu.Lock()
	fn(&c.state)
	st := c.state
	c.mu.Unlock()
	c.notify(st)
}

func (c *Client) notify(st domain.ConnectionState) {
	c.listenMu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(domain.ConnectionState), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.listenMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func isServerReason(reason string) bool {
	r := strings.ToLower(strings.TrimSpace(reason))
	return slices.Contains(serverReasons, r)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
