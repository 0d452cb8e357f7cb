package eventrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay/errs"
	"github.com/overtonx/eventrelay/event"
	"github.com/overtonx/eventrelay/storage/memstore"
)

func TestNewCarrier_Validation(t *testing.T) {
	_, err := NewCarrier(nil, event.NewRegistry())
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewCarrier(memstore.New(), nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestNewCarrier_Defaults(t *testing.T) {
	c, err := NewCarrier(memstore.New(), event.NewRegistry())
	require.NoError(t, err)

	assert.IsType(t, &NopPublisher{}, c.publisher)
	assert.NotNil(t, c.logger)
	assert.NotNil(t, c.metrics)
	assert.NoError(t, c.Close())
}

func TestCarrier_CloseClosesPublisher(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Close").Return(nil).Once()

	c, err := NewCarrier(memstore.New(), event.NewRegistry(), WithPublisher(pub))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	pub.AssertExpectations(t)
}
