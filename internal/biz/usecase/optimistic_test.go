package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
)

func TestOptimistic_UpdateContact_Confirmed(t *testing.T) {
	store := seedStore(testContact())
	api := &mockContactAPI{}
	echo := &mockEchoer{}
	uc := NewOptimisticUsecase(store, api, nil, echo, "line-1")

	err := uc.UpdateContact(context.Background(), "c1", domain.ContactPatch{Priority: domain.String("alta")})
	require.NoError(t, err)

	assert.Equal(t, "alta", store.Get("c1").Priority)
	require.Len(t, api.updates, 1)
	assert.Equal(t, "alta", *api.updates[0].Priority)

	require.Len(t, echo.events, 1)
	evt := echo.events[0].Payload.(*domain.UpdateEvent)
	assert.Equal(t, domain.EventContactUpdated, echo.events[0].Event)
	assert.Equal(t, domain.OriginLocal, evt.Origin)
}

func TestOptimistic_UpdateContact_RejectedRollsBack(t *testing.T) {
	store := seedStore(testContact())
	rejected := errors.New("422 priority not allowed")
	api := &mockContactAPI{updateErr: rejected}
	echo := &mockEchoer{}
	uc := NewOptimisticUsecase(store, api, nil, echo, "line-1")
	reconcile := newReconcile(store)

	var seen []string
	store.Watch(func(ch Change) { seen = append(seen, string(ch.Kind)) })

	err := uc.UpdateContact(context.Background(), "c1", domain.ContactPatch{Priority: domain.String("alta")})

	var mre *domain.MutationRejectedError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, "c1", mre.ContactID)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, "media", store.Get("c1").Priority)

	// the apply and the rollback, nothing else
	assert.Equal(t, []string{"contact", "contact"}, seen)

	// echoes are local-origin, so feeding them back does not apply them again
	seq := store.Seq()
	for _, e := range echo.events {
		require.NoError(t, reconcile.ApplyUpdate(e.Payload.(*domain.UpdateEvent)))
	}
	assert.Equal(t, seq, store.Seq())
	assert.Len(t, api.updates, 1, "no resubmission")
}

func TestOptimistic_ApplyLocalAndRollback(t *testing.T) {
	store := seedStore(testContact())
	uc := NewOptimisticUsecase(store, &mockContactAPI{}, nil, nil, "")

	prev, err := uc.ApplyLocal(context.Background(), "c1", domain.ContactPatch{
		FunnelStage: domain.String("ganado"),
		Tags:        []string{},
		TagsSet:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWon, store.Get("c1").Status)
	assert.Empty(t, store.Get("c1").Tags)

	uc.Rollback(context.Background(), "c1", prev)
	c := store.Get("c1")
	assert.Equal(t, "nuevo_contacto", c.FunnelStage)
	assert.Equal(t, domain.StatusNew, c.Status)
	assert.Equal(t, []string{"vip"}, c.Tags)
}

func TestOptimistic_ApplyLocal_UnknownContact(t *testing.T) {
	uc := NewOptimisticUsecase(seedStore(), &mockContactAPI{}, nil, nil, "")
	_, err := uc.ApplyLocal(context.Background(), "ghost", domain.ContactPatch{Priority: domain.String("alta")})
	assert.ErrorIs(t, err, domain.ErrContactNotFound)
}

func TestOptimistic_SendMessage_OverTransport(t *testing.T) {
	store := seedStore(testContact())
	transport := newMockTransport(true)
	api := &mockContactAPI{}
	echo := &mockEchoer{}
	uc := NewOptimisticUsecase(store, api, transport, echo, "line-1")

	msg, err := uc.SendMessage(context.Background(), "c1", "hola", "")
	require.NoError(t, err)

	assert.True(t, msg.Local)
	assert.Equal(t, domain.DeliveryPending, msg.Delivery)
	assert.Equal(t, domain.MessageText, msg.Type)
	assert.Empty(t, api.sends)

	frames := transport.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, domain.EventSendMessage, frames[0].Event)
	out := frames[0].Data.(domain.OutboundMessage)
	assert.Equal(t, msg.ID, out.ClientID)
	assert.Equal(t, "hola", out.Message)

	require.Len(t, echo.events, 1)
	assert.Equal(t, domain.EventNewMessage, echo.events[0].Event)

	// the ack adopts the remote id so the pushed copy is suppressed
	require.True(t, uc.MarkSent(&domain.DeliveryAck{ClientID: msg.ID, MessageID: "srv-1"}))
	reconcile := newReconcile(store)
	stored, err := reconcile.ApplyMessage(&domain.Message{ID: "srv-1", ContactID: "c1", Content: "hola", Timestamp: "2020-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.False(t, stored)

	msgs := store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, domain.DeliverySent, msgs[0].Delivery)
}

func TestOptimistic_SendMessage_FallsBackToAPI(t *testing.T) {
	store := seedStore(testContact())
	api := &mockContactAPI{}
	uc := NewOptimisticUsecase(store, api, newMockTransport(false), nil, "line-1")

	msg, err := uc.SendMessage(context.Background(), "c1", "hola", domain.MessageTemplate)
	require.NoError(t, err)
	require.Len(t, api.sends, 1)
	assert.Equal(t, domain.MessageTemplate, api.sends[0].Type)

	msgs := store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-"+msg.ID, msgs[0].ID)
	assert.Equal(t, domain.DeliverySent, msgs[0].Delivery)
}

func TestOptimistic_SendMessage_Failure(t *testing.T) {
	store := seedStore(testContact())
	api := &mockContactAPI{sendErr: errors.New("boom")}
	uc := NewOptimisticUsecase(store, api, nil, nil, "line-1")

	_, err := uc.SendMessage(context.Background(), "c1", "hola", "")
	var mre *domain.MutationRejectedError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, domain.DeliveryFailed, store.Messages("c1")[0].Delivery)
}

func TestOptimistic_SendMessage_Validation(t *testing.T) {
	uc := NewOptimisticUsecase(seedStore(testContact()), &mockContactAPI{}, nil, nil, "")

	_, err := uc.SendMessage(context.Background(), "c1", "   ", "")
	assert.Error(t, err)

	_, err = uc.SendMessage(context.Background(), "ghost", "hola", "")
	assert.ErrorIs(t, err, domain.ErrContactNotFound)
}

func TestOptimistic_MarkFailed_LooksUpContact(t *testing.T) {
	store := seedStore(testContact())
	uc := NewOptimisticUsecase(store, &mockContactAPI{}, newMockTransport(true), nil, "")

	msg, err := uc.SendMessage(context.Background(), "c1", "hola", "")
	require.NoError(t, err)

	assert.True(t, uc.MarkFailed(&domain.DeliveryAck{ClientID: msg.ID, Error: "blocked"}))
	assert.Equal(t, domain.DeliveryFailed, store.Messages("c1")[0].Delivery)
	assert.False(t, uc.MarkFailed(&domain.DeliveryAck{ClientID: "unknown"}))
}
