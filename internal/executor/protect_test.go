package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

func TestClassifyVerification(t *testing.T) {
	t.Parallel()

	stop := domain.OpenOrder{Instrument: "BTC", OrderID: 42, ClientID: "0xAB", ReduceOnly: true, IsTrigger: true, TriggerPrice: 49_000}
	plainLimit := domain.OpenOrder{Instrument: "BTC", OrderID: 42, TriggerPrice: 49_000}
	otherInst := stop
	otherInst.Instrument = "ETH"

	tests := []struct {
		name   string
		orders []domain.OpenOrder
		err    error
		want   expectedStop
		result verification
	}{
		{"matched by order id", []domain.OpenOrder{stop}, nil,
			expectedStop{"BTC", domain.OrderRef{OrderID: 42}, 49_000}, verifyConfirmed},
		{"matched by client id", []domain.OpenOrder{stop}, nil,
			expectedStop{"BTC", domain.OrderRef{ClientID: "0xab"}, 49_000}, verifyConfirmed},
		{"matched by trigger price without ref", []domain.OpenOrder{stop}, nil,
			expectedStop{"BTC", domain.OrderRef{}, 49_000}, verifyConfirmed},
		{"not reduce-only trigger", []domain.OpenOrder{plainLimit}, nil,
			expectedStop{"BTC", domain.OrderRef{OrderID: 42}, 49_000}, verifyAmbiguous},
		{"other instrument with id", []domain.OpenOrder{otherInst}, nil,
			expectedStop{"BTC", domain.OrderRef{OrderID: 42}, 49_000}, verifyAmbiguous},
		{"other instrument without id", []domain.OpenOrder{otherInst}, nil,
			expectedStop{"BTC", domain.OrderRef{ClientID: "0xcd"}, 49_000}, verifyUnconfirmed},
		{"different stop already resting", []domain.OpenOrder{stop}, nil,
			expectedStop{"BTC", domain.OrderRef{ClientID: "0xcd"}, 49_500}, verifyUnconfirmed},
		{"query failed with id", nil, errTransport,
			expectedStop{"BTC", domain.OrderRef{OrderID: 7}, 49_000}, verifyAmbiguous},
		{"query failed without id", nil, errTransport,
			expectedStop{"BTC", domain.OrderRef{ClientID: "0xcd"}, 49_000}, verifyUnconfirmed},
		{"stale results ignored on error", []domain.OpenOrder{stop}, errTransport,
			expectedStop{"BTC", domain.OrderRef{ClientID: "0xab"}, 49_000}, verifyUnconfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.result, classifyVerification(tt.orders, tt.err, tt.want))
		})
	}
}

func TestFindStop(t *testing.T) {
	t.Parallel()
	orders := []domain.OpenOrder{
		{Instrument: "SOL", OrderID: 1, Side: domain.OrderSideSell, ReduceOnly: true, IsTrigger: true, TriggerPrice: 140, OrderType: "Stop Market"},
		{Instrument: "SOL", OrderID: 2, Side: domain.OrderSideSell, ReduceOnly: true, IsTrigger: true, TriggerPrice: 145, OrderType: "Stop Market"},
		{Instrument: "SOL", OrderID: 3, Side: domain.OrderSideSell, ReduceOnly: true, IsTrigger: true, TriggerPrice: 170, OrderType: "Take Profit Market"},
		{Instrument: "SOL", OrderID: 4, Side: domain.OrderSideBuy, ReduceOnly: true, IsTrigger: true, TriggerPrice: 160, OrderType: "Stop Market"},
		{Instrument: "ETH", OrderID: 5, Side: domain.OrderSideSell, ReduceOnly: true, IsTrigger: true, TriggerPrice: 1900, OrderType: "Stop Market"},
	}

	price, ref, ok := findStop(orders, "SOL", domain.DirectionLong)
	assert.True(t, ok)
	assert.InDelta(t, 145, price, 1e-9)
	assert.Equal(t, int64(2), ref.OrderID)

	price, ref, ok = findStop(orders, "SOL", domain.DirectionShort)
	assert.True(t, ok)
	assert.InDelta(t, 160, price, 1e-9)
	assert.Equal(t, int64(4), ref.OrderID)

	_, _, ok = findStop(orders, "BTC", domain.DirectionLong)
	assert.False(t, ok)
}
