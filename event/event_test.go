package event

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay/errs"
)

type orderPlaced struct {
	BaseDomainEvent
	OrderID string
}

func (orderPlaced) EventType() string { return "OrderPlaced" }

type orderPlacedIntegration struct {
	BaseIntegrationEvent
	OrderID string   `json:"order_id"`
	Lines   []string `json:"lines"`
}

func (orderPlacedIntegration) EventType() string { return "OrderPlaced" }

func TestAggregate_RecordPendingClear(t *testing.T) {
	var agg Aggregate
	assert.Empty(t, agg.Pending())

	first := orderPlaced{BaseDomainEvent: NewBaseDomainEvent(), OrderID: "o-1"}
	second := orderPlaced{BaseDomainEvent: NewBaseDomainEvent(), OrderID: "o-2"}
	agg.Record(first)
	agg.Record(second)

	pending := agg.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.EventID(), pending[0].EventID())
	assert.Equal(t, second.EventID(), pending[1].EventID())

	// the snapshot is detached from the buffer
	pending[0] = nil
	assert.NotNil(t, agg.Pending()[0])

	agg.Clear()
	assert.Empty(t, agg.Pending())
}

func TestRegistry_RoundTrip(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterJSON[orderPlacedIntegration](r))

	original := orderPlacedIntegration{
		BaseIntegrationEvent: NewBaseIntegrationEvent(),
		OrderID:              "o-1",
		Lines:                []string{"a", "b"},
	}

	payload, err := r.Encode(original)
	require.NoError(t, err)

	decoded, err := r.Decode(original.EventType(), payload)
	require.NoError(t, err)

	assert.Equal(t, original, decoded)
	assert.True(t, Equal(original, decoded))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterJSON[orderPlacedIntegration](r))

	err := RegisterJSON[orderPlacedIntegration](r)
	assert.ErrorIs(t, err, ErrTypeAlreadyRegistered)

	assert.ErrorIs(t, r.Register(" ", func([]byte) (IntegrationEvent, error) { return nil, nil }), errs.ErrValidation)
	assert.ErrorIs(t, r.Register("X", nil), errs.ErrValidation)
}

func TestRegistry_EncodeValidation(t *testing.T) {
	r := NewRegistry()

	testCases := []struct {
		name  string
		event IntegrationEvent
	}{
		{"nil event", nil},
		{"nil id", orderPlacedIntegration{BaseIntegrationEvent: BaseIntegrationEvent{CreatedDate: now()}}},
		{"zero created date", orderPlacedIntegration{BaseIntegrationEvent: BaseIntegrationEvent{ID: uuid.New()}}},
		{"unregistered type", orderPlacedIntegration{BaseIntegrationEvent: NewBaseIntegrationEvent()}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Encode(tc.event)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestRegistry_DecodeUnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.Decode("Missing", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownEventType))
}

func TestEqual(t *testing.T) {
	base := NewBaseIntegrationEvent()
	a := orderPlacedIntegration{BaseIntegrationEvent: base, OrderID: "o-1"}
	b := orderPlacedIntegration{BaseIntegrationEvent: base, OrderID: "o-1"}
	c := orderPlacedIntegration{BaseIntegrationEvent: base, OrderID: "o-2"}
	d := orderPlacedIntegration{BaseIntegrationEvent: NewBaseIntegrationEvent(), OrderID: "o-1"}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, d))
	assert.False(t, Equal(a, nil))
}
