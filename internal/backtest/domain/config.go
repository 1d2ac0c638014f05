package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var defaultRiskFreeRate = decimal.NewFromFloat(0.03)

// RunConfig 单次回测的完整配置。
type RunConfig struct {
	Symbols        []string        `json:"symbols"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Strategy       string          `json:"strategy"`
	StrategyParams json.RawMessage `json:"strategy_params,omitempty"`
	Cost           CostConfig      `json:"cost"`
	Slippage       SlippageConfig  `json:"slippage"`
	Risk           RiskConfig      `json:"risk"`
	Capital        CapitalConfig   `json:"capital"`
	Settlement     SettlementMode  `json:"settlement,omitempty"`
	// RiskFreeRate 年化无风险利率，绩效指标计算使用。
	RiskFreeRate decimal.Decimal `json:"risk_free_rate"`
	// HistoryCap 事件历史环形缓冲容量，0 表示不记录。
	HistoryCap int `json:"history_cap,omitempty"`
}

// DefaultRunConfig 返回带全部缺省值的配置。
// 调用方在返回值上反序列化请求参数，未出现的字段保留缺省值。
func DefaultRunConfig() RunConfig {
	return RunConfig{
		InitialCapital: decimal.NewFromInt(1_000_000),
		Strategy:       StrategyMACross,
		Cost:           DefaultCostConfig(),
		Slippage:       SlippageConfig{Model: SlippageFixed},
		Risk: RiskConfig{
			MaxPositionRatio: defaultMaxPositionRatio,
			CashBuffer:       defaultCashBuffer,
		},
		Capital: CapitalConfig{
			Allocator: AllocatorFixedRatio,
			Ratio:     defaultAllocRatio,
		},
		Settlement:   SettlementAuto,
		RiskFreeRate: defaultRiskFreeRate,
		HistoryCap:   1000,
	}
}

// Validate 校验配置完整性，首个不满足的条件即返回配置错误。
func (c *RunConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return &ConfigError{Field: "symbols", Reason: "at least one symbol required"}
	}
	for _, sym := range c.Symbols {
		if sym == "" {
			return &ConfigError{Field: "symbols", Reason: "symbol must not be empty"}
		}
	}
	if c.Start.IsZero() || c.End.IsZero() {
		return &ConfigError{Field: "start/end", Reason: "time range required"}
	}
	if !c.Start.Before(c.End) {
		return &ConfigError{Field: "start/end",
			Reason: fmt.Sprintf("start %s must be before end %s",
				c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))}
	}
	if !c.InitialCapital.IsPositive() {
		return &ConfigError{Field: "initial_capital", Reason: "must be positive"}
	}
	if c.Strategy == "" {
		return &ConfigError{Field: "strategy", Reason: "strategy name required"}
	}
	if err := c.validateCost(); err != nil {
		return err
	}
	switch c.Slippage.Model {
	case "", SlippageFixed, SlippageRatio, SlippageTick, SlippageDynamic:
	default:
		return &ConfigError{Field: "slippage.model",
			Reason: fmt.Sprintf("unknown model %q", c.Slippage.Model)}
	}
	switch c.Capital.Allocator {
	case "", AllocatorFixedRatio, AllocatorKelly:
	default:
		return &ConfigError{Field: "capital.allocator",
			Reason: fmt.Sprintf("unknown allocator %q", c.Capital.Allocator)}
	}
	switch c.Settlement {
	case "", SettlementAuto, SettlementT0, SettlementT1:
	default:
		return &ConfigError{Field: "settlement",
			Reason: fmt.Sprintf("unknown settlement mode %q", c.Settlement)}
	}
	if c.Risk.MaxPositionRatio.IsNegative() || c.Risk.MaxPositionRatio.GreaterThan(decimal.NewFromInt(1)) {
		return &ConfigError{Field: "risk.max_position_ratio", Reason: "must be within (0, 1]"}
	}
	if c.RiskFreeRate.IsNegative() {
		return &ConfigError{Field: "risk_free_rate", Reason: "must not be negative"}
	}
	if c.HistoryCap < 0 {
		return &ConfigError{Field: "history_cap", Reason: "must not be negative"}
	}
	return nil
}

func (c *RunConfig) validateCost() error {
	if c.Cost.CommissionRate.IsNegative() {
		return &ConfigError{Field: "cost.commission_rate", Reason: "must not be negative"}
	}
	if c.Cost.MinCommission.IsNegative() {
		return &ConfigError{Field: "cost.min_commission", Reason: "must not be negative"}
	}
	if c.Cost.StampTaxRate.IsNegative() {
		return &ConfigError{Field: "cost.stamp_tax_rate", Reason: "must not be negative"}
	}
	if c.Cost.TransferFeeRate.IsNegative() {
		return &ConfigError{Field: "cost.transfer_fee_rate", Reason: "must not be negative"}
	}
	if c.Cost.FlowFee.IsNegative() {
		return &ConfigError{Field: "cost.flow_fee", Reason: "must not be negative"}
	}
	if c.Cost.PriceDecimals < 0 {
		return &ConfigError{Field: "cost.price_decimals", Reason: "must not be negative"}
	}
	return nil
}
