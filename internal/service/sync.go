package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipeboard/contact-sync/internal/biz"
	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/biz/usecase"
	"github.com/pipeboard/contact-sync/internal/logger"
	"github.com/pipeboard/contact-sync/internal/metrics"
)

// Connection is the push transport with its observable state
type Connection interface {
	repo.Transport
	State() domain.ConnectionState
	OnStateChange(fn func(domain.ConnectionState)) (remove func())
}

// SyncConfig configures the sync service
type SyncConfig struct {
	LineID      string
	WorkspaceID string

	// AlertAfter is how long the connection may stay lost before an operator
	// alert goes out. Zero disables connection alerts.
	AlertAfter time.Duration
}

// SyncService wires the push event stream to reconciliation and exposes the
// operations views use
type SyncService struct {
	store      *usecase.ContactStore
	reconcile  *usecase.ReconcileUsecase
	optimistic *usecase.OptimisticUsecase

	api        repo.ContactAPI
	snapshots  repo.SnapshotRepo
	notifier   repo.Notifier
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	conn       Connection
	cfg        SyncConfig

	generation atomic.Uint64
	authSeen   atomic.Bool
	line       atomic.Pointer[domain.Line]

	alertMu    sync.Mutex
	alertTimer *time.Timer

	offs []func()
	log  *slog.Logger
}

// NewSyncService creates the sync service. snapshots, notifier, conn and m may be nil.
func NewSyncService(
	uc *biz.Usecases,
	api repo.ContactAPI,
	snapshots repo.SnapshotRepo,
	notifier repo.Notifier,
	dispatcher *Dispatcher,
	conn Connection,
	m *metrics.Metrics,
	cfg SyncConfig,
) *SyncService {
	if m == nil {
		m = metrics.New()
	}
	return &SyncService{
		store:      uc.Store,
		reconcile:  uc.Reconcile,
		optimistic: uc.Optimistic,
		api:        api,
		snapshots:  snapshots,
		notifier:   notifier,
		dispatcher: dispatcher,
		metrics:    m,
		conn:       conn,
		cfg:        cfg,
		log:        logger.For("sync").With(slog.String("line_id", cfg.LineID)),
	}
}

// Register attaches the reconciliation handlers to the dispatcher and starts
// watching the connection
func (s *SyncService) Register() {
	d := s.dispatcher
	for _, name := range []string{
		domain.EventAuthenticated, domain.EventNewMessage, domain.EventMessageSent,
		domain.EventMessageError, domain.EventContactUpdated, domain.EventContactDeleted,
		domain.EventDashboardUpdated, domain.EventAnalyticsUpdated,
	} {
		s.offs = append(s.offs, d.On(name, s.count))
	}
	s.offs = append(s.offs,
		d.On(domain.EventContactUpdated, s.handleUpdate),
		d.On(domain.EventNewMessage, s.handleMessage),
		d.On(domain.EventContactDeleted, s.handleDeletion),
		d.On(domain.EventMessageSent, s.handleAck),
		d.On(domain.EventMessageError, s.handleAck),
		d.On(domain.EventDashboardUpdated, s.handleDashboard),
		d.On(domain.EventAuthenticated, s.handleAuthenticated),
	)

	if s.conn != nil {
		s.offs = append(s.offs, s.conn.OnStateChange(s.observeConnection))
		s.observeConnection(s.conn.State())
	}

	unwatch := s.store.Watch(func(usecase.Change) {
		s.metrics.Contacts.Set(float64(s.store.Len()))
	})
	s.offs = append(s.offs, unwatch)
}

// Close detaches every handler and stops the alert timer
func (s *SyncService) Close() {
	for _, off := range s.offs {
		off()
	}
	s.offs = nil

	s.alertMu.Lock()
	if s.alertTimer != nil {
		s.alertTimer.Stop()
		s.alertTimer = nil
	}
	s.alertMu.Unlock()
}

// Bootstrap warms the store from the local snapshot, then fetches the
// authoritative list. The event loop must be running.
func (s *SyncService) Bootstrap(ctx context.Context) error {
	if s.snapshots != nil {
		since := s.store.Seq()
		contacts, err := s.snapshots.Load(ctx, s.cfg.LineID)
		if err != nil {
			s.log.Warn("snapshot unavailable", slog.Any("error", err))
		} else if len(contacts) > 0 {
			for _, c := range contacts {
				s.reconcile.NormalizeContact(c)
			}
			err := s.dispatcher.Do(ctx, "snapshot-loaded", func(context.Context) {
				n, _ := s.store.LoadSince(contacts, since)
				s.log.Info("warm start from snapshot", slog.Int("contacts", n))
			})
			if err != nil {
				return fmt.Errorf("failed to apply snapshot: %w", err)
			}
		}
	}

	if line, err := s.api.GetLine(ctx, s.cfg.LineID); err != nil {
		s.log.Warn("line metadata unavailable", slog.Any("error", err))
	} else {
		s.line.Store(line)
	}

	return s.Resync(ctx)
}

// Resync fetches the full contact list and merges it into the store on the
// event loop. A result is discarded when a newer resync started meanwhile or
// ctx ended. Contacts changed by pushes during the fetch keep their pushed
// state. It must not be called from the event loop.
func (s *SyncService) Resync(ctx context.Context) error {
	gen := s.generation.Add(1)
	since := s.store.Seq()

	contacts, err := s.api.ListContacts(ctx, s.cfg.LineID)
	if err != nil {
		s.metrics.Resyncs.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fetch contacts: %w", err)
	}
	if ctx.Err() != nil || s.generation.Load() != gen {
		s.discardStale(gen)
		return nil
	}
	for _, c := range contacts {
		s.reconcile.NormalizeContact(c)
	}

	err = s.dispatcher.Do(ctx, "contacts-fetched", func(context.Context) {
		if ctx.Err() != nil || s.generation.Load() != gen {
			s.discardStale(gen)
			return
		}
		n, skipped := s.store.LoadSince(contacts, since)
		s.metrics.Resyncs.WithLabelValues("ok").Inc()
		s.metrics.Contacts.Set(float64(s.store.Len()))
		s.log.Info("contacts synchronized",
			slog.Int("fetched", n), slog.Int("kept_newer", skipped), slog.Int("total", s.store.Len()))
	})
	if err != nil {
		s.log.Debug("resync result not applied", slog.Any("error", err))
	}
	return nil
}

func (s *SyncService) discardStale(gen uint64) {
	s.metrics.Resyncs.WithLabelValues("stale").Inc()
	s.log.Debug("stale resync discarded", slog.Uint64("generation", gen))
}

// SaveSnapshot persists the working set
func (s *SyncService) SaveSnapshot(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	if err := s.snapshots.Save(ctx, s.cfg.LineID, s.store.List()); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// UpdateContact applies an optimistic contact change
func (s *SyncService) UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) error {
	err := s.optimistic.UpdateContact(ctx, id, patch)

	var rejected *domain.MutationRejectedError
	switch {
	case err == nil:
		s.metrics.Mutations.WithLabelValues("confirmed").Inc()
	case errors.As(err, &rejected):
		s.metrics.Mutations.WithLabelValues("rejected").Inc()
		s.alert(ctx, "Contact update rejected", fmt.Sprintf("contact %s on line %s\n%v", id, s.cfg.LineID, rejected.Err))
	case errors.Is(err, domain.ErrContactNotFound):
		s.metrics.Mutations.WithLabelValues("not_found").Inc()
	}
	return err
}

// SendMessage sends an optimistic chat message
func (s *SyncService) SendMessage(ctx context.Context, contactID, text string, kind domain.MessageType) (*domain.Message, error) {
	msg, err := s.optimistic.SendMessage(ctx, contactID, text, kind)

	var rejected *domain.MutationRejectedError
	switch {
	case err == nil:
		s.metrics.OutboundMessages.WithLabelValues("accepted").Inc()
	case errors.As(err, &rejected):
		s.metrics.OutboundMessages.WithLabelValues("failed").Inc()
	default:
		s.metrics.OutboundMessages.WithLabelValues("invalid").Inc()
	}
	return msg, err
}

// Store returns the contact store views read from
func (s *SyncService) Store() *usecase.ContactStore {
	return s.store
}

// Line returns the line metadata, nil until fetched
func (s *SyncService) Line() *domain.Line {
	return s.line.Load()
}

// ConnectionState returns the push connection state
func (s *SyncService) ConnectionState() domain.ConnectionState {
	if s.conn == nil {
		return domain.ConnectionState{Status: domain.StateDisconnected}
	}
	return s.conn.State()
}

func (s *SyncService) count(_ context.Context, evt Event) error {
	s.metrics.EventsReceived.WithLabelValues(evt.Name, string(evt.Origin)).Inc()
	return nil
}

func (s *SyncService) handleUpdate(_ context.Context, evt Event) error {
	upd, err := domain.DecodeUpdateEvent(evt.Data)
	if err != nil {
		return fmt.Errorf("failed to decode contact update: %w", err)
	}
	upd.Origin = evt.Origin
	if err := s.reconcile.ApplyUpdate(upd); err != nil {
		s.miss(err)
	}
	return nil
}

func (s *SyncService) handleMessage(_ context.Context, evt Event) error {
	if evt.Origin == domain.OriginLocal {
		return nil
	}
	msg, err := domain.DecodeMessageEvent(evt.Data)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	stored, err := s.reconcile.ApplyMessage(msg)
	if err != nil {
		s.miss(err)
		return nil
	}
	if !stored {
		s.metrics.DuplicateMessages.Inc()
	}
	return nil
}

func (s *SyncService) handleDeletion(_ context.Context, evt Event) error {
	if evt.Origin == domain.OriginLocal {
		return nil
	}
	id, err := domain.DecodeDeletionEvent(evt.Data)
	if err != nil {
		return fmt.Errorf("failed to decode deletion: %w", err)
	}
	if err := s.reconcile.ApplyDeletion(id); err != nil {
		s.miss(err)
	}
	return nil
}

func (s *SyncService) handleAck(_ context.Context, evt Event) error {
	ack, err := domain.DecodeDeliveryAck(evt.Data)
	if err != nil {
		return fmt.Errorf("failed to decode delivery ack: %w", err)
	}
	if evt.Name == domain.EventMessageError {
		if !s.optimistic.MarkFailed(ack) {
			s.log.Debug("failure ack for unknown message", slog.String("client_id", ack.ClientID))
		}
		return nil
	}
	if !s.optimistic.MarkSent(ack) {
		s.log.Debug("ack for unknown message", slog.String("client_id", ack.ClientID))
	}
	return nil
}

func (s *SyncService) handleDashboard(ctx context.Context, _ Event) error {
	go s.resyncAsync(ctx, "dashboard-updated")
	return nil
}

// handleAuthenticated refetches after a reconnect; pushes missed while
// disconnected are not replayed by the remote side
func (s *SyncService) handleAuthenticated(ctx context.Context, _ Event) error {
	if !s.authSeen.Swap(true) {
		return nil
	}
	go s.resyncAsync(ctx, "reconnect")
	return nil
}

func (s *SyncService) resyncAsync(ctx context.Context, reason string) {
	if err := s.Resync(ctx); err != nil {
		s.log.Warn("resync failed", slog.String("reason", reason), slog.Any("error", err))
	}
}

func (s *SyncService) miss(err error) {
	if errors.Is(err, domain.ErrReconciliationMiss) {
		s.metrics.ReconciliationMisses.Inc()
		return
	}
	s.log.Warn("reconciliation failed", slog.Any("error", err))
}

func (s *SyncService) observeConnection(st domain.ConnectionState) {
	s.metrics.SetConnectionState(string(st.Status), st.ReconnectAttempts)
	if s.cfg.AlertAfter <= 0 {
		return
	}

	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	switch st.Status {
	case domain.StateAuthenticated:
		if s.alertTimer != nil {
			s.alertTimer.Stop()
			s.alertTimer = nil
		}
	case domain.StateError, domain.StateDisconnected:
		if s.alertTimer != nil || !s.authSeen.Load() {
			return
		}
		s.alertTimer = time.AfterFunc(s.cfg.AlertAfter, s.connectionLost)
	}
}

func (s *SyncService) connectionLost() {
	st := s.ConnectionState()
	if st.Status == domain.StateAuthenticated {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.alert(ctx, "Push connection lost",
		fmt.Sprintf("line %s offline for %s\nstate %s, %d reconnect attempts\n%s",
			s.cfg.LineID, s.cfg.AlertAfter, st.Status, st.ReconnectAttempts, st.LastError))
}

func (s *SyncService) alert(ctx context.Context, title, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Alert(ctx, title, text); err != nil {
		s.log.Warn("alert not delivered", slog.String("title", title), slog.Any("error", err))
	}
}
