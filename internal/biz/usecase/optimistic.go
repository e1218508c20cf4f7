package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/repo"
	"github.com/pipeboard/contact-sync/internal/logger"
)

// Echoer republishes a local change to the other consumers of the event
// stream. Echoed events carry domain.OriginLocal.
type Echoer interface {
	Echo(ctx context.Context, event string, payload any)
}

// OptimisticUsecase applies local changes immediately and reconciles them
// with the remote side afterwards
type OptimisticUsecase struct {
	store     *ContactStore
	api       repo.ContactAPI
	transport repo.Transport
	echo      Echoer
	lineID    string
	now       func() time.Time
	log       *slog.Logger
}

// NewOptimisticUsecase creates the optimistic mutation layer. transport and
// echo may be nil.
func NewOptimisticUsecase(store *ContactStore, api repo.ContactAPI, transport repo.Transport, echo Echoer, lineID string) *OptimisticUsecase {
	return &OptimisticUsecase{
		store:     store,
		api:       api,
		transport: transport,
		echo:      echo,
		lineID:    lineID,
		now:       time.Now,
		log:       logger.For("optimistic"),
	}
}

// ApplyLocal mutates the stored contact at once and returns the previous
// values of the touched fields for a later Rollback
func (uc *OptimisticUsecase) ApplyLocal(ctx context.Context, id string, patch domain.ContactPatch) (domain.ContactPatch, error) {
	var prev domain.ContactPatch
	ok := uc.store.Update(id, func(c *domain.Contact) {
		prev = c.Capture(patch)
		c.Apply(patch)
	})
	if !ok {
		return domain.ContactPatch{}, fmt.Errorf("apply local change to %s: %w", id, domain.ErrContactNotFound)
	}
	uc.publish(ctx, id, patch)
	return prev, nil
}

// Confirm acknowledges a successful remote write. Local state already holds
// the change.
func (uc *OptimisticUsecase) Confirm(id string) {
	uc.log.Debug("local change confirmed", slog.String("contact_id", id))
}

// Rollback restores the values captured by ApplyLocal
func (uc *OptimisticUsecase) Rollback(ctx context.Context, id string, previous domain.ContactPatch) {
	if !uc.store.Update(id, func(c *domain.Contact) { c.Apply(previous) }) {
		// deleted meanwhile, nothing to restore
		return
	}
	uc.publish(ctx, id, previous)
}

// UpdateContact applies patch locally, submits it, and rolls back when the
// remote side rejects it
func (uc *OptimisticUsecase) UpdateContact(ctx context.Context, id string, patch domain.ContactPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	prev, err := uc.ApplyLocal(ctx, id, patch)
	if err != nil {
		return err
	}

	if err := uc.api.UpdateContact(ctx, id, patch); err != nil {
		uc.Rollback(ctx, id, prev)
		uc.log.Warn("contact update rejected, rolled back",
			slog.String("contact_id", id), slog.Any("error", err))
		return &domain.MutationRejectedError{ContactID: id, Err: err}
	}
	uc.Confirm(id)
	return nil
}

// SendMessage appends a pending local message and hands it to the push
// transport, falling back to the request/response API when the transport is
// not authenticated
func (uc *OptimisticUsecase) SendMessage(ctx context.Context, contactID, text string, kind domain.MessageType) (*domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("message text is empty")
	}
	if kind == "" {
		kind = domain.MessageText
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		ContactID: contactID,
		LineID:    uc.lineID,
		Content:   text,
		Sender:    domain.SenderAgent,
		Timestamp: uc.now().UTC().Format(domain.TimestampLayout),
		Type:      kind,
		Local:     true,
		Delivery:  domain.DeliveryPending,
	}
	stored, err := uc.store.AppendMessage(msg, 0)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", contactID, domain.ErrContactNotFound)
	}
	if stored && uc.echo != nil {
		uc.echo.Echo(ctx, domain.EventNewMessage, msg)
	}

	out := domain.OutboundMessage{
		ClientID:  msg.ID,
		ContactID: contactID,
		LineID:    uc.lineID,
		Message:   text,
		Sender:    msg.Sender,
		Type:      kind,
	}

	if uc.transport != nil && uc.transport.IsAuthenticated() {
		err := uc.transport.Emit(domain.EventSendMessage, out)
		if err == nil {
			return msg, nil
		}
		uc.log.Warn("push send failed, using api", slog.Any("error", err))
	}

	sent, err := uc.api.SendMessage(ctx, out)
	if err != nil {
		uc.MarkFailed(&domain.DeliveryAck{ClientID: msg.ID, ContactID: contactID, Error: err.Error()})
		return msg, &domain.MutationRejectedError{ContactID: contactID, Err: err}
	}
	ack := &domain.DeliveryAck{ClientID: msg.ID, ContactID: contactID}
	if sent != nil {
		ack.MessageID = sent.ID
	}
	uc.MarkSent(ack)
	return msg, nil
}

// MarkSent records a delivery acknowledgement. When the remote side assigned
// its own id, the local message adopts it so a later push of the same
// message is recognized as a duplicate.
func (uc *OptimisticUsecase) MarkSent(ack *domain.DeliveryAck) bool {
	return uc.setDelivery(ack, domain.DeliverySent)
}

// MarkFailed records a delivery failure
func (uc *OptimisticUsecase) MarkFailed(ack *domain.DeliveryAck) bool {
	return uc.setDelivery(ack, domain.DeliveryFailed)
}

func (uc *OptimisticUsecase) setDelivery(ack *domain.DeliveryAck, state domain.Delivery) bool {
	if ack == nil || ack.ClientID == "" {
		return false
	}
	contactID := ack.ContactID
	if contactID == "" {
		var ok bool
		if contactID, ok = uc.store.FindMessage(ack.ClientID); !ok {
			return false
		}
	}
	return uc.store.UpdateMessage(contactID, ack.ClientID, func(m *domain.Message) {
		m.Delivery = state
		if state == domain.DeliverySent && ack.MessageID != "" {
			m.ID = ack.MessageID
		}
	})
}

func (uc *OptimisticUsecase) publish(ctx context.Context, id string, patch domain.ContactPatch) {
	if uc.echo == nil {
		return
	}
	uc.echo.Echo(ctx, domain.EventContactUpdated, &domain.UpdateEvent{
		ID:     id,
		LineID: uc.lineID,
		Patch:  patch,
		Origin: domain.OriginLocal,
	})
}
