package service

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/usecase"
)

// Summary is the pipeline overview shown on the dashboard
type Summary struct {
	Total      int                   `json:"total"`
	ByStatus   map[domain.Status]int `json:"byStatus"`
	ByPriority map[string]int        `json:"byPriority"`
	AIEnabled  int                   `json:"aiEnabled"`
	ComputedAt string                `json:"computedAt"`
}

// AnalyticsView keeps a pipeline summary of the contact store. It recomputes
// on analytics-updated and whenever the store changes.
type AnalyticsView struct {
	store *usecase.ContactStore
	now   func() time.Time

	mu      sync.RWMutex
	summary Summary

	offs []func()
}

// NewAnalyticsView creates the view and computes the first summary
func NewAnalyticsView(store *usecase.ContactStore, dispatcher *Dispatcher) *AnalyticsView {
	a := &AnalyticsView{store: store, now: time.Now}
	a.Recompute()

	a.offs = append(a.offs,
		store.Watch(func(ch usecase.Change) {
			if ch.Kind != usecase.ChangeMessage {
				a.Recompute()
			}
		}),
		dispatcher.On(domain.EventAnalyticsUpdated, func(context.Context, Event) error {
			a.Recompute()
			return nil
		}),
	)
	return a
}

// Recompute rebuilds the summary from the store
func (a *AnalyticsView) Recompute() Summary {
	s := Summarize(a.store.List())
	s.ComputedAt = a.now().UTC().Format(domain.TimestampLayout)

	a.mu.Lock()
	a.summary = s
	a.mu.Unlock()
	return s
}

// Summary returns the last computed summary
func (a *AnalyticsView) Summary() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.summary.clone()
}

// Close detaches the view
func (a *AnalyticsView) Close() {
	for _, off := range a.offs {
		off()
	}
	a.offs = nil
}

// Summarize counts contacts by status, priority and AI flag. Every status
// appears in ByStatus, with zero when unused.
func Summarize(contacts []*domain.Contact) Summary {
	s := Summary{
		ByStatus:   make(map[domain.Status]int, len(domain.Statuses)),
		ByPriority: make(map[string]int),
	}
	for _, st := range domain.Statuses {
		s.ByStatus[st] = 0
	}
	for _, c := range contacts {
		s.Total++
		s.ByStatus[domain.DeriveStatus(c.FunnelStage)]++
		priority := strings.ToLower(strings.TrimSpace(c.Priority))
		if priority == "" {
			priority = "none"
		}
		s.ByPriority[priority]++
		if c.AIEnabled {
			s.AIEnabled++
		}
	}
	return s
}

func (s Summary) clone() Summary {
	out := s
	out.ByStatus = maps.Clone(s.ByStatus)
	out.ByPriority = maps.Clone(s.ByPriority)
	return out
}
