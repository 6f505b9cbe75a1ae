package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validItems() []LineItem {
	return []LineItem{
		{ProductID: "p1", Name: "Widget", Quantity: 2, UnitPrice: 500},
		{ProductID: "p2", Name: "Gadget", Quantity: 1, UnitPrice: 1500},
	}
}

func TestNew(t *testing.T) {
	o, err := New("ord-1", "buyer-1", "sess-1", validItems(), 2500)
	require.NoError(t, err)

	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, "buyer-1", o.BuyerID)
	assert.Equal(t, "sess-1", o.SessionID)
	assert.Equal(t, PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, PhaseReceived, o.Fulfillment)
	assert.Len(t, o.Items, 2)
	assert.False(t, o.CreatedAt.IsZero())
	assert.Equal(t, o.CreatedAt, o.UpdatedAt)
}

func TestNewRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		items     []LineItem
		total     int64
		want      error
	}{
		{"missing session", "", validItems(), 2500, ErrMissingSession},
		{"no items", "sess-1", nil, 0, ErrNoItems},
		{"zero quantity", "sess-1", []LineItem{{ProductID: "p1", Quantity: 0}}, 0, ErrInvalidQuantity},
		{"negative total", "sess-1", validItems(), -1, ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("ord-1", "buyer-1", tt.sessionID, tt.items, tt.total)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewCopiesItems(t *testing.T) {
	items := validItems()
	o, err := New("ord-1", "buyer-1", "sess-1", items, 2500)
	require.NoError(t, err)

	items[0].Quantity = 99
	assert.Equal(t, int64(2), o.Items[0].Quantity)
}

func TestClone(t *testing.T) {
	o, err := New("ord-1", "buyer-1", "sess-1", validItems(), 2500)
	require.NoError(t, err)
	o.Anomalies = []StockAnomaly{{ProductID: "p1", Requested: 2, Applied: 1}}

	clone := o.Clone()
	require.NotSame(t, o, clone)
	assert.Equal(t, o, clone)

	clone.Items[0].Quantity = 99
	clone.Anomalies[0].Applied = 2
	assert.Equal(t, int64(2), o.Items[0].Quantity)
	assert.Equal(t, int64(1), o.Anomalies[0].Applied)
}
