package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementMode 交收模式。auto 按品种识别场内基金做 T+0、股票做 T+1，
// t0 与 t1 强制全部品种按对应模式交收。
type SettlementMode string

const (
	SettlementAuto SettlementMode = "auto"
	SettlementT0   SettlementMode = "t0"
	SettlementT1   SettlementMode = "t1"
)

// SameDayTradable 判断该模式下当日买入的品种当日是否可卖。
// 零值模式按 auto 处理。
func (m SettlementMode) SameDayTradable(symbol string) bool {
	switch m {
	case SettlementT0:
		return true
	case SettlementT1:
		return false
	default:
		return IsTPlusZero(symbol)
	}
}

// Position 单品种持仓。Quantity 为持仓总量，Available 为当前可卖数量，
// 当日买入部分处于锁定状态，交易日切换时由 Unlock 释放。
type Position struct {
	Symbol       string
	Quantity     int64
	Available    int64
	AvgCost      decimal.Decimal
	CurrentPrice decimal.Decimal
	LastUpdate   time.Time
	// TPlusZero 标记该持仓按当日可卖交收，场内基金等品种为真。
	TPlusZero bool
}

func NewPosition(symbol string) *Position {
	return &Position{Symbol: symbol}
}

// Add 买入加仓，按数量加权摊薄持仓成本。
// tPlusZero 为真时新增数量当日即可卖出，否则锁定至下一交易日。
func (p *Position) Add(quantity int64, price decimal.Decimal, tPlusZero bool) {
	if quantity <= 0 {
		return
	}
	oldQty := decimal.NewFromInt(p.Quantity)
	addQty := decimal.NewFromInt(quantity)
	if p.Quantity == 0 {
		p.AvgCost = price
	} else {
		p.AvgCost = p.AvgCost.Mul(oldQty).Add(price.Mul(addQty)).Div(oldQty.Add(addQty))
	}
	p.Quantity += quantity
	p.TPlusZero = tPlusZero
	if tPlusZero {
		p.Available += quantity
	}
	p.CurrentPrice = price
}

// Reduce 卖出减仓。数量超过持仓总量与超过可用数量是两类错误，
// 前者是持仓不足，后者是 T+1 锁定未释放。卖出不改变持仓成本。
func (p *Position) Reduce(quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("reduce quantity must be positive, got %d", quantity)
	}
	if quantity > p.Quantity {
		return &InsufficientPositionError{Symbol: p.Symbol, Requested: quantity, Held: p.Quantity}
	}
	if quantity > p.Available {
		return &PositionLockedError{Symbol: p.Symbol, Requested: quantity, Available: p.Available}
	}
	p.Quantity -= quantity
	p.Available -= quantity
	return nil
}

// Unlock 解锁全部持仓，交易日切换时调用。
func (p *Position) Unlock() {
	p.Available = p.Quantity
}

// UnlockQuantity 解锁指定数量，解锁后可用数量不超过持仓总量。
func (p *Position) UnlockQuantity(quantity int64) {
	if quantity <= 0 {
		return
	}
	p.Available += quantity
	if p.Available > p.Quantity {
		p.Available = p.Quantity
	}
}

// Locked 返回锁定数量。
func (p *Position) Locked() int64 {
	return p.Quantity - p.Available
}

// MarkPrice 更新最新价与更新时间，不影响现金和盈亏。
func (p *Position) MarkPrice(price decimal.Decimal, ts time.Time) {
	p.CurrentPrice = price
	p.LastUpdate = ts
}

// MarketValue 按最新价计算市值。
func (p *Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// CostBasis 持仓成本金额。
func (p *Position) CostBasis() decimal.Decimal {
	return p.AvgCost.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL 按最新价计算的浮动盈亏。
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.AvgCost).Mul(decimal.NewFromInt(p.Quantity))
}
