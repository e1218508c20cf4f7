package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pipeboard/contact-sync/internal/infra/socket"
	"github.com/pipeboard/contact-sync/internal/logger"
	"github.com/pipeboard/contact-sync/internal/service"
)

// FrameSource yields inbound transport frames
type FrameSource interface {
	Events() <-chan socket.Frame
}

// SocketServer is the single event loop: transport frames and locally posted
// events are dispatched one at a time, in arrival order
type SocketServer struct {
	source     FrameSource
	dispatcher *service.Dispatcher
	scheduler  *service.SnapshotScheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewSocketServer creates a new event loop. scheduler may be nil.
func NewSocketServer(source FrameSource, dispatcher *service.Dispatcher, scheduler *service.SnapshotScheduler) *SocketServer {
	return &SocketServer{
		source:     source,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		log:        logger.For("server"),
	}
}

// Start starts the event loop and the snapshot scheduler
func (s *SocketServer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.scheduler != nil {
		s.scheduler.Start(ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
	s.log.Info("event loop started")
}

// Stop stops the event loop, then the scheduler
func (s *SocketServer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.log.Info("event loop stopped")
}

// Run dispatches until ctx ends
func (s *SocketServer) Run(ctx context.Context) {
	frames := s.source.Events()
	queue := s.dispatcher.Queue()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.dispatch(ctx, service.Event{Name: frame.Event, Data: frame.Data})
		case evt := <-queue:
			s.dispatch(ctx, evt)
		}
	}
}

func (s *SocketServer) dispatch(ctx context.Context, evt service.Event) {
	if n := s.dispatcher.Emit(ctx, evt); n == 0 {
		s.log.Debug("unhandled event", slog.String("event", evt.Name))
	}
}
