package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	"github.com/angelmondragon/settlement-backend/pkg/outbox"
	"github.com/angelmondragon/settlement-backend/pkg/outbox/payloads"
)

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders-topic"})
	require.NoError(t, err)
	return reg
}

func envelopeOf(t *testing.T, data string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(data),
	})
	require.NoError(t, err)
	return raw
}

func TestResolveDecodesTypedPayload(t *testing.T) {
	reg := newTestEventRegistry(t)
	orderID := uuid.New()
	body, err := json.Marshal(payloads.OrderPaidEvent{
		OrderID:               orderID,
		BuyerID:               uuid.New(),
		ProviderTransactionID: "txn-42",
		AmountCents:           22800,
		Currency:              enums.CurrencyEGP,
		PaidAt:                time.Now().UTC(),
		Source:                "redirect",
	})
	require.NoError(t, err)

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       envelopeOf(t, string(body)),
	})
	require.NoError(t, err)
	assert.Equal(t, "orders-topic", resolved.Descriptor.Topic)
	assert.NotEmpty(t, resolved.Envelope.EventID)

	payload, ok := resolved.Payload.(*payloads.OrderPaidEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	assert.Equal(t, orderID, payload.OrderID)
	assert.Equal(t, "txn-42", payload.ProviderTransactionID)
	assert.Equal(t, int64(22800), payload.AmountCents)
}

func TestResolveCoversEveryOrderEvent(t *testing.T) {
	reg := newTestEventRegistry(t)
	want := map[enums.OutboxEventType]any{
		enums.EventOrderCreated:                &payloads.OrderCreatedEvent{},
		enums.EventOrderPaid:                   &payloads.OrderPaidEvent{},
		enums.EventOrderReconciliationRequired: &payloads.OrderReconciliationRequiredEvent{},
	}
	for eventType, payloadType := range want {
		resolved, err := reg.Resolve(models.OutboxEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, `{"order_id":"00000000-0000-0000-0000-000000000001"}`),
		})
		require.NoError(t, err, eventType)
		assert.IsType(t, payloadType, resolved.Payload, eventType)
	}
	assert.Equal(t, []string{"orders-topic"}, reg.Topics())
}

func TestResolveRejectsUnpublishableRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType: "order_shipped", AggregateType: enums.AggregateOrder, AggregateID: uuid.New(),
			Payload: envelopeOf(t, `{}`),
		},
		"aggregate mismatch": {
			EventType: enums.EventOrderCreated, AggregateType: "cart", AggregateID: uuid.New(),
			Payload: envelopeOf(t, `{}`),
		},
		"missing aggregate id": {
			EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder,
			Payload: envelopeOf(t, `{}`),
		},
		"null data": {
			EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(),
			Payload: envelopeOf(t, `null`),
		},
		"corrupt envelope": {
			EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(),
			Payload: json.RawMessage(`{"version":`),
		},
		"wrong body shape": {
			EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(),
			Payload: envelopeOf(t, `{"amount_cents":"lots"}`),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			require.Error(t, err)
			assert.True(t, IsNonRetryable(err), "got %T", err)
		})
	}
}

func TestIsNonRetryableSeesWrappedErrors(t *testing.T) {
	base := NewNonRetryableError(errors.New("bad row"))
	assert.True(t, IsNonRetryable(fmt.Errorf("publish: %w", base)))
	assert.False(t, IsNonRetryable(errors.New("broker down")))
	assert.Equal(t, "non-retryable error", NonRetryableError{}.Error())
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	assert.Error(t, err)
}
