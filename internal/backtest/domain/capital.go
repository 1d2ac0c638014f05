package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LotSize A股一手股数，买入数量向下取整到手。
const LotSize = 100

// 资金分配器名称。
const (
	AllocatorFixedRatio = "fixed_ratio"
	AllocatorKelly      = "kelly"
)

var (
	defaultAllocRatio    = decimal.NewFromFloat(0.1)
	defaultKellyWinRate  = decimal.NewFromFloat(0.55)
	defaultKellyPayoff   = decimal.NewFromFloat(1.5)
	defaultKellyFraction = decimal.NewFromFloat(0.5)
)

// CapitalAllocator 资金分配器。Size 根据信号强度与账户状态决定买入股数，
// 返回 0 表示放弃开仓。卖出数量不经分配器，引擎按持仓全量平仓。
type CapitalAllocator interface {
	Name() string
	Size(signal Signal, portfolioValue, cash, price decimal.Decimal) int64
}

// FixedRatioAllocator 固定比例分配：可用现金的固定比例乘以信号强度。
type FixedRatioAllocator struct {
	Ratio decimal.Decimal
}

func (a *FixedRatioAllocator) Name() string { return AllocatorFixedRatio }

func (a *FixedRatioAllocator) Size(signal Signal, _, cash, price decimal.Decimal) int64 {
	if !price.IsPositive() {
		return 0
	}
	amount := cash.Mul(a.Ratio).Mul(signal.Strength)
	return lotFloor(amount.Div(price))
}

// KellyAllocator 凯利公式分配。胜率与盈亏比为先验参数，
// Fraction 为保守系数（半凯利取 0.5），仓位比例截断在 [0,1]。
type KellyAllocator struct {
	WinRate  decimal.Decimal
	Payoff   decimal.Decimal
	Fraction decimal.Decimal
}

func (a *KellyAllocator) Name() string { return AllocatorKelly }

func (a *KellyAllocator) Size(signal Signal, _, cash, price decimal.Decimal) int64 {
	if !price.IsPositive() || !a.Payoff.IsPositive() {
		return 0
	}
	// f = (b*p - q) / b，b 为盈亏比、p 为胜率、q 为败率。
	q := decimal.NewFromInt(1).Sub(a.WinRate)
	pct := a.WinRate.Mul(a.Payoff).Sub(q).Div(a.Payoff).Mul(a.Fraction)
	if !pct.IsPositive() {
		return 0
	}
	if pct.GreaterThan(decimal.NewFromInt(1)) {
		pct = decimal.NewFromInt(1)
	}
	amount := cash.Mul(pct).Mul(signal.Strength)
	return lotFloor(amount.Div(price))
}

// CapitalConfig 资金分配配置。数值参数为零值时使用缺省值。
type CapitalConfig struct {
	Allocator     string          `json:"allocator"`
	Ratio         decimal.Decimal `json:"ratio"`
	KellyWinRate  decimal.Decimal `json:"kelly_win_rate"`
	KellyPayoff   decimal.Decimal `json:"kelly_payoff"`
	KellyFraction decimal.Decimal `json:"kelly_fraction"`
}

// NewCapitalAllocator 按配置构造资金分配器，名称未知时返回配置错误。
func NewCapitalAllocator(cfg CapitalConfig) (CapitalAllocator, error) {
	switch cfg.Allocator {
	case AllocatorFixedRatio, "":
		ratio := cfg.Ratio
		if ratio.IsZero() {
			ratio = defaultAllocRatio
		}
		return &FixedRatioAllocator{Ratio: ratio}, nil
	case AllocatorKelly:
		winRate := cfg.KellyWinRate
		if winRate.IsZero() {
			winRate = defaultKellyWinRate
		}
		payoff := cfg.KellyPayoff
		if payoff.IsZero() {
			payoff = defaultKellyPayoff
		}
		fraction := cfg.KellyFraction
		if fraction.IsZero() {
			fraction = defaultKellyFraction
		}
		return &KellyAllocator{WinRate: winRate, Payoff: payoff, Fraction: fraction}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAllocator, cfg.Allocator)
	}
}

// lotFloor 股数向下取整到整手，不足一手返回 0。
func lotFloor(shares decimal.Decimal) int64 {
	if !shares.IsPositive() {
		return 0
	}
	return shares.Div(decimal.NewFromInt(LotSize)).IntPart() * LotSize
}
