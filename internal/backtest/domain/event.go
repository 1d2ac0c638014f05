package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Topic 事件主题。回测内核中的事件按主题路由给订阅者。
type Topic string

const (
	TopicMarketData Topic = "market_data"
	TopicSignal     Topic = "signal"
	TopicOrder      Topic = "order"
	TopicFill       Topic = "fill"
)

// Direction 交易方向。
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// OrderType 订单类型。回测内核按当根K线收盘价撮合市价单，
// 限价单类型保留用于扩展。
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus 订单生命周期状态。
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusAccepted OrderStatus = "ACCEPTED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusFilled   OrderStatus = "FILLED"
)

// Event 总线上流转的领域事件。事件集合是封闭的：
// 行情、信号、订单、成交四类，序号由总线在发布时分配。
type Event interface {
	Topic() Topic
	OccurredAt() time.Time
	Sequence() int64

	setSequence(int64)
}

// BaseEvent 各事件的公共字段。Timestamp 取自触发事件的K线时间，
// 而非墙上时钟，保证回放可重现。
type BaseEvent struct {
	Seq       int64
	Timestamp time.Time
}

func (e *BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e *BaseEvent) Sequence() int64       { return e.Seq }
func (e *BaseEvent) setSequence(n int64)   { e.Seq = n }

// Signal 策略产生的交易意图。Strength 取值 [0,1]，
// 由资金分配器折算为具体仓位。
type Signal struct {
	Symbol    string
	Direction Direction
	Strength  decimal.Decimal
	Strategy  string
	Reason    string
	Timestamp time.Time
}

// Validate 校验信号参数。越界的信号属策略实现错误，不参与交易流程。
func (s Signal) Validate() error {
	if s.Strength.IsNegative() || s.Strength.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: strength %s outside [0,1]", ErrInvalidSignal, s.Strength)
	}
	switch s.Direction {
	case DirectionBuy, DirectionSell, DirectionHold:
		return nil
	default:
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	}
}

// Order 回测订单。市价单的 Price 为提交时的参考价（当根K线收盘价），
// 实际成交价由成本模型施加滑点后确定。
type Order struct {
	OrderID   string
	Symbol    string
	Direction Direction
	Type      OrderType
	Quantity  int64
	Price     decimal.Decimal
	Status    OrderStatus
	Reason    string
	CreatedAt time.Time
}

// Validate 校验订单参数。
func (o *Order) Validate() error {
	if o.Quantity <= 0 {
		return &InvalidOrderError{Symbol: o.Symbol, Quantity: o.Quantity, Price: o.Price}
	}
	switch o.Direction {
	case DirectionBuy, DirectionSell:
	default:
		return fmt.Errorf("%w: direction %q", ErrInvalidOrder, o.Direction)
	}
	switch o.Type {
	case OrderTypeMarket, OrderTypeLimit:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidOrder, o.Type)
	}
	if o.Type == OrderTypeLimit && !o.Price.IsPositive() {
		return fmt.Errorf("%w: limit order requires a positive price", ErrInvalidOrder)
	}
	return nil
}

// Accept 风控通过后标记订单为已接受。
func (o *Order) Accept() {
	o.Status = OrderStatusAccepted
}

// Reject 风控拒绝订单并记录原因。
func (o *Order) Reject(reason string) {
	o.Status = OrderStatusRejected
	o.Reason = reason
}

// MarkFilled 订单完全成交。
func (o *Order) MarkFilled() {
	o.Status = OrderStatusFilled
}

// Fill 成交回报。Price 为滑点调整后的实际成交价，
// TotalCost 买入为总支出、卖出为扣费后净收入。
type Fill struct {
	FillID    string
	OrderID   string
	Symbol    string
	Direction Direction
	Quantity  int64
	Price     decimal.Decimal
	Cost      CostBreakdown
	TotalCost decimal.Decimal
	Timestamp time.Time
}

// MarketDataEvent 行情事件，承载单根K线。
type MarketDataEvent struct {
	BaseEvent
	Bar Bar
}

func (e *MarketDataEvent) Topic() Topic { return TopicMarketData }

// SignalEvent 策略信号事件。
type SignalEvent struct {
	BaseEvent
	Signal Signal
}

func (e *SignalEvent) Topic() Topic { return TopicSignal }

// OrderEvent 订单事件。Order 为指针，风控与撮合阶段原地更新状态。
type OrderEvent struct {
	BaseEvent
	Order *Order
}

func (e *OrderEvent) Topic() Topic { return TopicOrder }

// FillEvent 成交事件。
type FillEvent struct {
	BaseEvent
	Fill Fill
}

func (e *FillEvent) Topic() Topic { return TopicFill }

// Handler 事件处理器。返回的错误由总线记录并计入统计，
// 不会中断同一事件的其余处理器。
type Handler func(ctx context.Context, evt Event) error

// Bus 单线程同步事件总线。发布即派发：按订阅顺序依次调用处理器，
// 全部返回后 Publish 才返回。内核为单线程模型，Bus 不做并发保护。
type Bus struct {
	handlers map[Topic][]Handler
	seq      int64
	stats    map[string]int64
	history  *eventRing
	logger   *slog.Logger
}

// NewBus 创建事件总线。historyCap 大于 0 时启用事件历史环形缓冲。
func NewBus(logger *slog.Logger, historyCap int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		handlers: make(map[Topic][]Handler),
		stats:    make(map[string]int64),
		logger:   logger,
	}
	if historyCap > 0 {
		b.history = newEventRing(historyCap)
	}
	return b
}

// Subscribe 订阅主题。同一主题的处理器按订阅顺序派发。
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish 同步发布事件。无订阅者时记录告警后返回；
// 处理器错误被隔离，仅计入 failed_<topic> 统计。
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.seq++
	evt.setSequence(b.seq)
	b.stats["published_"+string(evt.Topic())]++
	if b.history != nil {
		b.history.push(evt)
	}

	hs := b.handlers[evt.Topic()]
	if len(hs) == 0 {
		b.logger.WarnContext(ctx, "事件无订阅者", "topic", evt.Topic(), "seq", evt.Sequence())
		return
	}
	for _, h := range hs {
		if err := h(ctx, evt); err != nil {
			b.stats["failed_"+string(evt.Topic())]++
			b.logger.ErrorContext(ctx, "事件处理失败",
				"topic", evt.Topic(), "seq", evt.Sequence(), "error", err)
			continue
		}
		b.stats["handled_"+string(evt.Topic())]++
	}
}

// SubscriberCount 返回主题当前的订阅者数量。
func (b *Bus) SubscriberCount(topic Topic) int {
	return len(b.handlers[topic])
}

// Stats 返回发布、处理、失败计数的快照，键形如 published_market_data。
func (b *Bus) Stats() map[string]int64 {
	out := make(map[string]int64, len(b.stats))
	for k, v := range b.stats {
		out[k] = v
	}
	return out
}

// History 按发布顺序返回环形缓冲中保留的事件。未启用历史时返回 nil。
func (b *Bus) History() []Event {
	if b.history == nil {
		return nil
	}
	return b.history.snapshot()
}

// ClearHistory 清空事件历史，统计计数不受影响。
func (b *Bus) ClearHistory() {
	if b.history != nil {
		b.history.clear()
	}
}

// eventRing 固定容量的事件环形缓冲，写满后覆盖最旧事件。
type eventRing struct {
	buf  []Event
	head int
	size int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{buf: make([]Event, capacity)}
}

func (r *eventRing) push(evt Event) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = evt
		r.size++
		return
	}
	r.buf[r.head] = evt
	r.head = (r.head + 1) % len(r.buf)
}

func (r *eventRing) snapshot() []Event {
	out := make([]Event, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

func (r *eventRing) clear() {
	for i := range r.buf {
		r.buf[i] = nil
	}
	r.head, r.size = 0, 0
}
