package usecase

import (
	"log/slog"
	"time"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/logger"
)

// ReconcileConfig tunes the reconciliation engine
type ReconcileConfig struct {
	// LineID scopes inbound events; events tagged with another line are
	// misses. Empty accepts every line.
	LineID      string
	DedupWindow time.Duration
	Now         func() time.Time
}

// ReconcileUsecase merges inbound remote events into the contact store
type ReconcileUsecase struct {
	store  *ContactStore
	lineID string
	window time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewReconcileUsecase creates a reconciliation engine over store
func NewReconcileUsecase(store *ContactStore, cfg ReconcileConfig) *ReconcileUsecase {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = domain.DefaultDedupWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ReconcileUsecase{
		store:  store,
		lineID: cfg.LineID,
		window: cfg.DedupWindow,
		now:    cfg.Now,
		log:    logger.For("reconcile"),
	}
}

// ApplyUpdate merges a partial contact update. Local-origin updates were
// already applied by the optimistic layer and are terminal here. An update
// that resolves to no contact is dropped and reported as
// domain.ErrReconciliationMiss.
func (uc *ReconcileUsecase) ApplyUpdate(evt *domain.UpdateEvent) error {
	if evt == nil || evt.Origin == domain.OriginLocal {
		return nil
	}
	if uc.foreign(evt.LineID) {
		uc.log.Debug("update dropped, other line",
			slog.String("id", evt.TargetID()), slog.String("line_id", evt.LineID))
		return domain.ErrReconciliationMiss
	}

	var phone string
	if evt.Patch.Phone != nil {
		phone = *evt.Patch.Phone
	}
	id := uc.store.Resolve(evt.TargetID(), phone)
	if id == "" {
		uc.log.Debug("update dropped, no matching contact",
			slog.String("id", evt.TargetID()), slog.String("phone", phone))
		return domain.ErrReconciliationMiss
	}

	patch := uc.normalizePatch(evt.Patch)
	if patch.IsEmpty() {
		return nil
	}
	uc.store.Update(id, func(c *domain.Contact) {
		c.Apply(patch)
	})
	return nil
}

// ApplyMessage stores an inbound chat message unless it duplicates one
// already stored. It reports whether the message was stored.
func (uc *ReconcileUsecase) ApplyMessage(msg *domain.Message) (bool, error) {
	if msg == nil {
		return false, nil
	}
	if uc.foreign(msg.LineID) {
		uc.log.Debug("message dropped, other line",
			slog.String("contact_id", msg.ContactID), slog.String("line_id", msg.LineID))
		return false, domain.ErrReconciliationMiss
	}
	cp := *msg
	cp.Timestamp = domain.NormalizeTimestamp(cp.Timestamp, uc.now)
	if cp.Delivery == "" && !cp.Local {
		cp.Delivery = domain.DeliverySent
	}

	stored, err := uc.store.AppendMessage(&cp, uc.window)
	if err != nil {
		uc.log.Debug("message dropped, no matching contact",
			slog.String("contact_id", msg.ContactID), slog.String("message_id", msg.ID))
		return false, err
	}
	if !stored {
		uc.log.Debug("duplicate message suppressed",
			slog.String("contact_id", msg.ContactID), slog.String("message_id", msg.ID))
	}
	return stored, nil
}

// ApplyDeletion removes a contact on an explicit deletion event
func (uc *ReconcileUsecase) ApplyDeletion(id string) error {
	if id == "" || !uc.store.Delete(id) {
		return domain.ErrReconciliationMiss
	}
	uc.log.Info("contact deleted", slog.String("contact_id", id))
	return nil
}

func (uc *ReconcileUsecase) foreign(lineID string) bool {
	return uc.lineID != "" && lineID != "" && lineID != uc.lineID
}

// NormalizeContact prepares a fetched contact for the store
func (uc *ReconcileUsecase) NormalizeContact(c *domain.Contact) {
	if c.LastActivityAt != "" {
		c.LastActivityAt = domain.NormalizeTimestamp(c.LastActivityAt, uc.now)
	}
	if c.LastMessage != nil {
		c.LastMessage.Timestamp = domain.NormalizeTimestamp(c.LastMessage.Timestamp, uc.now)
	}
	c.Derive()
}

func (uc *ReconcileUsecase) normalizePatch(p domain.ContactPatch) domain.ContactPatch {
	if p.LastActivityAt != nil {
		p.LastActivityAt = domain.String(domain.NormalizeTimestamp(*p.LastActivityAt, uc.now))
	}
	if p.LastMessage != nil {
		lm := *p.LastMessage
		lm.Timestamp = domain.NormalizeTimestamp(lm.Timestamp, uc.now)
		p.LastMessage = &lm
	}
	return p
}
