package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mdEvent(ts time.Time) *MarketDataEvent {
	return &MarketDataEvent{BaseEvent: BaseEvent{Timestamp: ts}, Bar: Bar{Symbol: "600000", Timestamp: ts}}
}

func TestBus_DispatchesInSubscriptionOrder(t *testing.T) {
	bus := NewBus(testLogger(), 0)
	var calls []string
	bus.Subscribe(TopicMarketData, func(ctx context.Context, evt Event) error {
		calls = append(calls, "first")
		return nil
	})
	bus.Subscribe(TopicMarketData, func(ctx context.Context, evt Event) error {
		calls = append(calls, "second")
		return nil
	})

	bus.Publish(context.Background(), mdEvent(time.Now()))

	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, 2, bus.SubscriberCount(TopicMarketData))
}

func TestBus_AssignsMonotonicSequence(t *testing.T) {
	bus := NewBus(testLogger(), 0)
	bus.Subscribe(TopicMarketData, func(ctx context.Context, evt Event) error { return nil })

	evts := []*MarketDataEvent{mdEvent(time.Now()), mdEvent(time.Now()), mdEvent(time.Now())}
	for _, evt := range evts {
		bus.Publish(context.Background(), evt)
	}

	for i, evt := range evts {
		assert.Equal(t, int64(i+1), evt.Sequence())
	}
}

func TestBus_IsolatesHandlerFailure(t *testing.T) {
	bus := NewBus(testLogger(), 0)
	bus.Subscribe(TopicMarketData, func(ctx context.Context, evt Event) error {
		return errors.New("boom")
	})
	reached := false
	bus.Subscribe(TopicMarketData, func(ctx context.Context, evt Event) error {
		reached = true
		return nil
	})

	bus.Publish(context.Background(), mdEvent(time.Now()))

	assert.True(t, reached, "失败的处理器不应阻断后续处理器")
	stats := bus.Stats()
	assert.Equal(t, int64(1), stats["published_market_data"])
	assert.Equal(t, int64(1), stats["handled_market_data"])
	assert.Equal(t, int64(1), stats["failed_market_data"])
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(testLogger(), 0)

	bus.Publish(context.Background(), mdEvent(time.Now()))

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats["published_market_data"])
	assert.Zero(t, stats["handled_market_data"])
}

func TestBus_HistoryRingKeepsLatest(t *testing.T) {
	bus := NewBus(testLogger(), 2)
	bus.Subscribe(TopicMarketData, func(ctx context.Context, evt Event) error { return nil })

	for i := 0; i < 3; i++ {
		bus.Publish(context.Background(), mdEvent(time.Now()))
	}

	history := bus.History()
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].Sequence())
	assert.Equal(t, int64(3), history[1].Sequence())

	bus.ClearHistory()
	assert.Empty(t, bus.History())
}

func TestBus_HistoryDisabled(t *testing.T) {
	bus := NewBus(testLogger(), 0)
	bus.Publish(context.Background(), mdEvent(time.Now()))
	assert.Nil(t, bus.History())
}

func TestOrder_Lifecycle(t *testing.T) {
	order := &Order{OrderID: "ORD-000001", Status: OrderStatusPending}

	order.Accept()
	assert.Equal(t, OrderStatusAccepted, order.Status)

	order.MarkFilled()
	assert.Equal(t, OrderStatusFilled, order.Status)

	rejected := &Order{OrderID: "ORD-000002", Status: OrderStatusPending}
	rejected.Reject("cash_sufficiency: insufficient cash")
	assert.Equal(t, OrderStatusRejected, rejected.Status)
	assert.Equal(t, "cash_sufficiency: insufficient cash", rejected.Reason)
}

func TestSignal_Validate(t *testing.T) {
	valid := Signal{Symbol: "600000", Direction: DirectionBuy, Strength: d("0.5")}
	assert.NoError(t, valid.Validate())

	hold := Signal{Symbol: "600000", Direction: DirectionHold, Strength: d("0")}
	assert.NoError(t, hold.Validate())

	outOfRange := Signal{Symbol: "600000", Direction: DirectionBuy, Strength: d("1.5")}
	assert.ErrorIs(t, outOfRange.Validate(), ErrInvalidSignal)

	negative := Signal{Symbol: "600000", Direction: DirectionSell, Strength: d("-0.1")}
	assert.ErrorIs(t, negative.Validate(), ErrInvalidSignal)

	badDirection := Signal{Symbol: "600000", Direction: Direction("SHORT"), Strength: d("0.5")}
	assert.ErrorIs(t, badDirection.Validate(), ErrInvalidSignal)
}

func TestOrder_Validate(t *testing.T) {
	valid := &Order{Symbol: "600000", Direction: DirectionBuy, Type: OrderTypeMarket, Quantity: 100, Price: d("10")}
	assert.NoError(t, valid.Validate())

	zeroQty := &Order{Symbol: "600000", Direction: DirectionBuy, Type: OrderTypeMarket, Quantity: 0}
	err := zeroQty.Validate()
	assert.ErrorIs(t, err, ErrInvalidOrder)
	var invalidErr *InvalidOrderError
	assert.ErrorAs(t, err, &invalidErr)

	holdDirection := &Order{Symbol: "600000", Direction: DirectionHold, Type: OrderTypeMarket, Quantity: 100}
	assert.ErrorIs(t, holdDirection.Validate(), ErrInvalidOrder)

	// 限价单缺价被拒，补上价格即通过
	limitNoPrice := &Order{Symbol: "600000", Direction: DirectionBuy, Type: OrderTypeLimit, Quantity: 100}
	assert.ErrorIs(t, limitNoPrice.Validate(), ErrInvalidOrder)

	limitWithPrice := &Order{Symbol: "600000", Direction: DirectionBuy, Type: OrderTypeLimit, Quantity: 100, Price: d("10")}
	assert.NoError(t, limitWithPrice.Validate())
}
