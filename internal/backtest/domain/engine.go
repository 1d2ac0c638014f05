// Package domain 实现事件驱动的策略回测内核。
// 变更说明：基于历史行情数据（OHLCV）驱动离线撮合，行情、信号、订单、
// 成交四类事件经同步总线串联策略、资金分配、风控与组合落账各阶段，
// 支持A股交易成本与 T+1 约束下的策略收益评估。
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// RejectedOrder 未能成交的订单记录，包含风控拒单与落账失败两类。
type RejectedOrder struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Quantity  int64     `json:"quantity"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Result 单次回测的全量产出。
type Result struct {
	Config      RunConfig         `json:"config"`
	Summary     PortfolioSummary  `json:"summary"`
	Report      PerformanceReport `json:"report"`
	EquityCurve []EquitySnapshot  `json:"equity_curve"`
	Trades      []TradeRecord     `json:"trades"`
	Matched     []MatchedTrade    `json:"matched"`
	Rejections  []RejectedOrder   `json:"rejections"`
	BusStats    map[string]int64  `json:"bus_stats"`
	BarCount    int               `json:"bar_count"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// Engine 事件驱动回测引擎。各处理阶段以总线订阅者身份串联：
// 行情驱动策略产生信号，信号经资金分配变为订单，订单过风控后
// 由成本模型定价成交，成交最终落账组合。整个内核单线程同步执行，
// 引擎实例只供一次 Run 使用。
type Engine struct {
	cfg       RunConfig
	bus       *Bus
	strategy  Strategy
	portfolio *Portfolio
	risk      *RiskPipeline
	cost      *CostModel
	allocator CapitalAllocator
	logger    *slog.Logger

	prices     map[string]decimal.Decimal
	volumes    map[string]decimal.Decimal
	currentDay time.Time
	orderSeq   int64
	fillSeq    int64
	rejections []RejectedOrder
	fatal      error
}

// NewEngine 校验配置并组装回测引擎。
func NewEngine(cfg RunConfig, strategy Strategy, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strategy == nil {
		return nil, &ConfigError{Field: "strategy", Reason: "strategy instance required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slippage, err := NewSlippageModel(cfg.Slippage)
	if err != nil {
		return nil, err
	}
	allocator, err := NewCapitalAllocator(cfg.Capital)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		bus:       NewBus(logger, cfg.HistoryCap),
		strategy:  strategy,
		portfolio: NewPortfolio(cfg.InitialCapital),
		risk:      cfg.Risk.BuildPipeline(logger),
		cost:      NewCostModel(cfg.Cost, slippage),
		allocator: allocator,
		logger:    logger,
		prices:    make(map[string]decimal.Decimal),
		volumes:   make(map[string]decimal.Decimal),
	}
	e.portfolio.Settlement = cfg.Settlement
	e.bus.Subscribe(TopicMarketData, e.onMarketData)
	e.bus.Subscribe(TopicSignal, e.onSignal)
	e.bus.Subscribe(TopicOrder, e.onOrder)
	e.bus.Subscribe(TopicFill, e.onFill)
	return e, nil
}

// Portfolio 返回组合账本，供检视与测试。
func (e *Engine) Portfolio() *Portfolio { return e.portfolio }

// Bus 返回事件总线，供检视与测试。
func (e *Engine) Bus() *Bus { return e.bus }

// Run 执行回测：逐根回放行情，每根K线收盘后记录权益快照，
// 交易日切换时先解锁 T+1 持仓再处理新K线。
// 策略或落账出现的不可恢复错误会中止回测并返回 RunError。
// OnStart 成功后，OnStop 在回测结束时必定回调，中途失败也不例外。
func (e *Engine) Run(ctx context.Context, feed BarFeed) (*Result, error) {
	if feed == nil || feed.Len() == 0 {
		return nil, ErrEmptyDataFeed
	}

	started := time.Now()
	e.logger.InfoContext(ctx, "回测开始",
		"strategy", e.strategy.Name(),
		"symbols", e.cfg.Symbols,
		"bars", feed.Len(),
		"initial_capital", e.cfg.InitialCapital)

	if err := e.strategy.OnStart(ctx); err != nil {
		return nil, fmt.Errorf("strategy %s start: %w", e.strategy.Name(), err)
	}
	defer func() {
		if err := e.strategy.OnStop(ctx); err != nil {
			e.logger.WarnContext(ctx, "策略停止回调失败",
				"strategy", e.strategy.Name(), "error", err)
		}
	}()

	bars := 0
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrRunAborted, ctx.Err())
		default:
		}
		bar, ok := feed.Next()
		if !ok {
			break
		}
		if e.currentDay.IsZero() {
			e.currentDay = bar.Timestamp
		} else if !SameSession(e.currentDay, bar.Timestamp) {
			e.portfolio.UnlockAll()
			e.currentDay = bar.Timestamp
		}

		e.bus.Publish(ctx, &MarketDataEvent{
			BaseEvent: BaseEvent{Timestamp: bar.Timestamp},
			Bar:       bar,
		})
		if e.fatal != nil {
			return nil, e.fatal
		}
		e.portfolio.RecordEquity(bar.Timestamp)
		bars++
	}

	trades := e.portfolio.Trades()
	result := &Result{
		Config:      e.cfg,
		Summary:     e.portfolio.Summary(),
		Report:      ComputeMetrics(e.cfg.InitialCapital, e.cfg.RiskFreeRate, e.portfolio.EquityCurve(), trades),
		EquityCurve: e.portfolio.EquityCurve(),
		Trades:      trades,
		Matched:     MatchTrades(trades),
		Rejections:  e.rejections,
		BusStats:    e.bus.Stats(),
		BarCount:    bars,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	e.logger.InfoContext(ctx, "回测完成",
		"bars", bars,
		"trades", len(trades),
		"rejections", len(e.rejections),
		"final_equity", result.Report.FinalEquity,
		"total_return_pct", result.Report.TotalReturnPct)
	return result, nil
}

// onMarketData 更新行情快照与持仓估值，驱动策略产生信号。
// 策略返回的错误视为不可恢复，中止整个回测。
func (e *Engine) onMarketData(ctx context.Context, evt Event) error {
	md, ok := evt.(*MarketDataEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T on %s", evt, evt.Topic())
	}
	bar := md.Bar
	e.prices[bar.Symbol] = bar.Close
	e.volumes[bar.Symbol] = bar.Volume
	e.portfolio.MarkPrice(bar.Symbol, bar.Close, bar.Timestamp)

	signals, err := e.strategy.OnBar(ctx, bar)
	if err != nil {
		e.fail("strategy", evt.Topic(), err)
		return err
	}
	for i := range signals {
		e.bus.Publish(ctx, &SignalEvent{
			BaseEvent: BaseEvent{Timestamp: bar.Timestamp},
			Signal:    signals[i],
		})
	}
	return nil
}

// onSignal 把信号折算成订单。买入数量由资金分配器决定，
// 卖出按持仓全量平仓，持仓为空或数量为零的信号直接丢弃。
func (e *Engine) onSignal(ctx context.Context, evt Event) error {
	se, ok := evt.(*SignalEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T on %s", evt, evt.Topic())
	}
	sig := se.Signal
	if err := sig.Validate(); err != nil {
		e.fail("signal", evt.Topic(), err)
		return err
	}
	if sig.Direction == DirectionHold {
		return nil
	}
	price, ok := e.prices[sig.Symbol]
	if !ok || !price.IsPositive() {
		e.logger.WarnContext(ctx, "丢弃信号", "symbol", sig.Symbol, "error", ErrNoMarketData)
		return nil
	}

	var quantity int64
	switch sig.Direction {
	case DirectionBuy:
		quantity = e.allocator.Size(sig, e.portfolio.TotalValue(), e.portfolio.Cash, price)
	case DirectionSell:
		pos, held := e.portfolio.Position(sig.Symbol)
		if !held {
			return nil
		}
		quantity = pos.Quantity
	}
	if quantity <= 0 {
		return nil
	}

	e.orderSeq++
	order := &Order{
		OrderID:   fmt.Sprintf("ORD-%06d", e.orderSeq),
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Type:      OrderTypeMarket,
		Quantity:  quantity,
		Price:     price,
		Status:    OrderStatusPending,
		CreatedAt: sig.Timestamp,
	}
	e.bus.Publish(ctx, &OrderEvent{
		BaseEvent: BaseEvent{Timestamp: sig.Timestamp},
		Order:     order,
	})
	return nil
}

// onOrder 风控评估订单，放行后按成本模型定价生成成交。
func (e *Engine) onOrder(ctx context.Context, evt Event) error {
	oe, ok := evt.(*OrderEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T on %s", evt, evt.Topic())
	}
	order := oe.Order
	if err := order.Validate(); err != nil {
		e.fail("order", evt.Topic(), err)
		return err
	}
	decision := e.risk.Decide(ctx, order, e.portfolio)
	if !decision.Accepted {
		e.recordRejection(order, order.Reason)
		return nil
	}

	quote, err := e.cost.QuoteOrder(order.Symbol, order.Direction, order.Quantity, order.Price, e.volumes[order.Symbol])
	if err != nil {
		e.fail("cost", evt.Topic(), err)
		return err
	}
	e.fillSeq++
	fill := Fill{
		FillID:    fmt.Sprintf("FIL-%06d", e.fillSeq),
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Direction: order.Direction,
		Quantity:  order.Quantity,
		Price:     quote.Price,
		Cost:      quote.Cost,
		TotalCost: quote.TotalCost,
		Timestamp: oe.OccurredAt(),
	}
	order.MarkFilled()
	e.bus.Publish(ctx, &FillEvent{
		BaseEvent: BaseEvent{Timestamp: fill.Timestamp},
		Fill:      fill,
	})
	return nil
}

// onFill 成交落账。现金或可卖数量不足属于业务性失败，
// 记入拒单列表后回测继续；其余错误中止回测。
// 现金预检带预估性质，费用与滑点可能使实际支出超出预检额度。
func (e *Engine) onFill(ctx context.Context, evt Event) error {
	fe, ok := evt.(*FillEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T on %s", evt, evt.Topic())
	}
	fill := fe.Fill
	if err := e.portfolio.ApplyFill(fill); err != nil {
		if errors.Is(err, ErrInsufficientCash) || errors.Is(err, ErrInsufficientPosition) ||
			errors.Is(err, ErrPositionLocked) || errors.Is(err, ErrPositionNotFound) {
			e.rejections = append(e.rejections, RejectedOrder{
				OrderID:   fill.OrderID,
				Symbol:    fill.Symbol,
				Direction: fill.Direction,
				Quantity:  fill.Quantity,
				Reason:    err.Error(),
				At:        fill.Timestamp,
			})
			e.logger.WarnContext(ctx, "成交落账失败",
				"fill_id", fill.FillID, "order_id", fill.OrderID, "error", err)
			return nil
		}
		e.fail("portfolio", evt.Topic(), err)
		return err
	}
	return nil
}

func (e *Engine) recordRejection(order *Order, reason string) {
	e.rejections = append(e.rejections, RejectedOrder{
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Direction: order.Direction,
		Quantity:  order.Quantity,
		Reason:    reason,
		At:        order.CreatedAt,
	})
}

// fail 记录首个不可恢复错误，后续错误不覆盖。
func (e *Engine) fail(stage string, topic Topic, err error) {
	if e.fatal == nil {
		e.fatal = &RunError{Stage: stage, Topic: topic, Err: err}
	}
}
