package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// valuationCacheTTL 持仓估值缓存的有效期。缓存只为避免同一时点的
// 重复求值，任何落账、价格更新或解锁都会立即使其失效。
const valuationCacheTTL = time.Second

// TradeRecord 成交流水，绩效统计与配对分析的数据源。
type TradeRecord struct {
	Timestamp  time.Time       `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	TotalFee   decimal.Decimal `json:"total_fee"`
	FillID     string          `json:"fill_id"`
}

// EquitySnapshot 每根K线处理完后的权益快照。
// ReturnPct 为相对初始资金的累计收益率，DrawdownPct 为相对历史峰值的
// 回撤，两者均为百分比，回撤为非正数。
type EquitySnapshot struct {
	Timestamp     time.Time       `json:"timestamp"`
	Equity        decimal.Decimal `json:"equity"`
	Cash          decimal.Decimal `json:"cash"`
	PositionValue decimal.Decimal `json:"position_value"`
	PeakEquity    decimal.Decimal `json:"peak_equity"`
	ReturnPct     decimal.Decimal `json:"return_pct"`
	DrawdownPct   decimal.Decimal `json:"drawdown_pct"`
	PositionCount int             `json:"position_count"`
}

// Portfolio 组合账本。现金与持仓的唯一事实来源，
// 只接受成交事件驱动的变更，买入扣减现金、卖出入账净收入。
// RealizedPnL 按价差累计，不摊入交易费用。
type Portfolio struct {
	InitialCapital decimal.Decimal
	Cash           decimal.Decimal
	// Settlement 决定当日买入是否锁定，零值按 auto 识别。
	Settlement      SettlementMode
	TotalCommission decimal.Decimal
	RealizedPnL     decimal.Decimal

	positions map[string]*Position
	trades    []TradeRecord
	equity    []EquitySnapshot
	peak      decimal.Decimal

	valueCache    decimal.Decimal
	valueCachedAt time.Time
}

func NewPortfolio(initialCapital decimal.Decimal) *Portfolio {
	return &Portfolio{
		InitialCapital:  initialCapital,
		Cash:            initialCapital,
		TotalCommission: decimal.Zero,
		RealizedPnL:     decimal.Zero,
		positions:       make(map[string]*Position),
		peak:            initialCapital,
	}
}

// ApplyFill 将成交落账。现金或持仓不足时返回相应错误且不产生任何变更。
func (pf *Portfolio) ApplyFill(fill Fill) error {
	switch fill.Direction {
	case DirectionBuy:
		return pf.applyBuy(fill)
	case DirectionSell:
		return pf.applySell(fill)
	default:
		return fmt.Errorf("unsupported fill direction %q", fill.Direction)
	}
}

func (pf *Portfolio) applyBuy(fill Fill) error {
	if pf.Cash.LessThan(fill.TotalCost) {
		return &InsufficientCashError{Symbol: fill.Symbol, Required: fill.TotalCost, Available: pf.Cash}
	}
	pos, ok := pf.positions[fill.Symbol]
	if !ok {
		pos = NewPosition(fill.Symbol)
		pf.positions[fill.Symbol] = pos
	}
	pf.Cash = pf.Cash.Sub(fill.TotalCost)
	pos.Add(fill.Quantity, fill.Price, pf.Settlement.SameDayTradable(fill.Symbol))
	pos.MarkPrice(fill.Price, fill.Timestamp)
	pf.invalidateValuation()
	pf.recordTrade(fill)
	return nil
}

func (pf *Portfolio) applySell(fill Fill) error {
	pos, ok := pf.positions[fill.Symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, fill.Symbol)
	}
	avgCost := pos.AvgCost
	if err := pos.Reduce(fill.Quantity); err != nil {
		return err
	}
	pf.Cash = pf.Cash.Add(fill.TotalCost)
	pf.RealizedPnL = pf.RealizedPnL.Add(fill.Price.Sub(avgCost).Mul(decimal.NewFromInt(fill.Quantity)))
	if pos.Quantity == 0 {
		delete(pf.positions, fill.Symbol)
	}
	pf.invalidateValuation()
	pf.recordTrade(fill)
	return nil
}

func (pf *Portfolio) recordTrade(fill Fill) {
	pf.TotalCommission = pf.TotalCommission.Add(fill.Cost.Commission)
	pf.trades = append(pf.trades, TradeRecord{
		Timestamp:  fill.Timestamp,
		Symbol:     fill.Symbol,
		Direction:  fill.Direction,
		Quantity:   fill.Quantity,
		Price:      fill.Price,
		Commission: fill.Cost.Commission,
		TotalFee:   fill.Cost.TotalFee,
		FillID:     fill.FillID,
	})
}

// MarkPrice 更新品种最新价与刷新时间，无持仓时忽略。不影响现金和已实现盈亏。
func (pf *Portfolio) MarkPrice(symbol string, price decimal.Decimal, ts time.Time) {
	if pos, ok := pf.positions[symbol]; ok {
		pos.MarkPrice(price, ts)
		pf.invalidateValuation()
	}
}

// UnlockAll 交易日切换时解锁全部持仓。
func (pf *Portfolio) UnlockAll() {
	for _, pos := range pf.positions {
		pos.Unlock()
	}
	pf.invalidateValuation()
}

func (pf *Portfolio) invalidateValuation() {
	pf.valueCachedAt = time.Time{}
}

func (pf *Portfolio) computePositionsValue() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range pf.positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// PositionsValue 全部持仓按最新价计算的市值合计。
// 有效期内直接返回缓存值，见 valuationCacheTTL。
func (pf *Portfolio) PositionsValue() decimal.Decimal {
	if !pf.valueCachedAt.IsZero() && time.Since(pf.valueCachedAt) < valuationCacheTTL {
		return pf.valueCache
	}
	total := pf.computePositionsValue()
	pf.valueCache = total
	pf.valueCachedAt = time.Now()
	return total
}

// TotalValue 组合总权益，现金加持仓市值。
func (pf *Portfolio) TotalValue() decimal.Decimal {
	return pf.Cash.Add(pf.PositionsValue())
}

// UnrealizedPnL 全部持仓按最新价计算的浮动盈亏合计。
func (pf *Portfolio) UnrealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range pf.positions {
		total = total.Add(pos.UnrealizedPnL())
	}
	return total
}

// PortfolioSummary 组合期末摘要。
type PortfolioSummary struct {
	InitialCapital  decimal.Decimal `json:"initial_capital"`
	Cash            decimal.Decimal `json:"cash"`
	PositionsValue  decimal.Decimal `json:"positions_value"`
	TotalValue      decimal.Decimal `json:"total_value"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TradeCount      int             `json:"trade_count"`
	PositionCount   int             `json:"position_count"`
}

// Summary 生成组合期末摘要。
func (pf *Portfolio) Summary() PortfolioSummary {
	posValue := pf.computePositionsValue()
	return PortfolioSummary{
		InitialCapital:  pf.InitialCapital,
		Cash:            pf.Cash,
		PositionsValue:  posValue,
		TotalValue:      pf.Cash.Add(posValue),
		RealizedPnL:     pf.RealizedPnL,
		UnrealizedPnL:   pf.UnrealizedPnL(),
		TotalCommission: pf.TotalCommission,
		TradeCount:      len(pf.trades),
		PositionCount:   len(pf.positions),
	}
}

// RecordEquity 计算并追加一条权益快照。快照总是重新求值，不走估值缓存。
func (pf *Portfolio) RecordEquity(ts time.Time) EquitySnapshot {
	posValue := pf.computePositionsValue()
	equity := pf.Cash.Add(posValue)
	if equity.GreaterThan(pf.peak) {
		pf.peak = equity
	}

	returnPct := decimal.Zero
	if pf.InitialCapital.IsPositive() {
		returnPct = equity.Sub(pf.InitialCapital).Div(pf.InitialCapital).Mul(hundred)
	}
	drawdownPct := decimal.Zero
	if pf.peak.IsPositive() {
		drawdownPct = equity.Sub(pf.peak).Div(pf.peak).Mul(hundred)
	}

	snap := EquitySnapshot{
		Timestamp:     ts,
		Equity:        equity,
		Cash:          pf.Cash,
		PositionValue: posValue,
		PeakEquity:    pf.peak,
		ReturnPct:     returnPct,
		DrawdownPct:   drawdownPct,
		PositionCount: len(pf.positions),
	}
	pf.equity = append(pf.equity, snap)
	return snap
}

// PeakEquity 返回历史权益峰值。
func (pf *Portfolio) PeakEquity() decimal.Decimal {
	return pf.peak
}

// Position 按品种查找持仓。
func (pf *Portfolio) Position(symbol string) (*Position, bool) {
	pos, ok := pf.positions[symbol]
	return pos, ok
}

// Positions 返回全部持仓，按品种代码排序。
func (pf *Portfolio) Positions() []*Position {
	out := make([]*Position, 0, len(pf.positions))
	for _, pos := range pf.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PositionCount 当前持仓品种数。
func (pf *Portfolio) PositionCount() int {
	return len(pf.positions)
}

// Trades 返回成交流水。
func (pf *Portfolio) Trades() []TradeRecord {
	return pf.trades
}

// EquityCurve 返回权益曲线。
func (pf *Portfolio) EquityCurve() []EquitySnapshot {
	return pf.equity
}
