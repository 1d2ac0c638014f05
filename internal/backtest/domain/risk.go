package domain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

var (
	defaultMaxPositionRatio = decimal.NewFromFloat(0.3)
	defaultCashBuffer       = decimal.NewFromFloat(0.001)
)

// RiskRule 单条风控规则。Evaluate 判定订单是否放行，不放行时给出原因。
// 规则只做判定，不修改订单与组合状态。
type RiskRule interface {
	Name() string
	Evaluate(order *Order, pf *Portfolio) (passed bool, reason string)
}

// Decision 风控评估结论。拒绝时记录命中的规则与原因。
type Decision struct {
	Accepted   bool   `json:"accepted"`
	RejectedBy string `json:"rejected_by,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// RiskPipeline 风控规则链。按注册顺序逐条评估，
// 首条未通过的规则即拒绝订单，其余规则不再执行。
type RiskPipeline struct {
	rules  []RiskRule
	logger *slog.Logger
}

func NewRiskPipeline(logger *slog.Logger, rules ...RiskRule) *RiskPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskPipeline{rules: rules, logger: logger}
}

// Append 在链尾追加规则。
func (p *RiskPipeline) Append(rule RiskRule) {
	p.rules = append(p.rules, rule)
}

// Rules 返回当前规则名列表，按评估顺序。
func (p *RiskPipeline) Rules() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.Name()
	}
	return names
}

// Decide 评估订单并更新其状态：通过置为 ACCEPTED，
// 拒绝置为 REJECTED 并记录命中规则与原因。
func (p *RiskPipeline) Decide(ctx context.Context, order *Order, pf *Portfolio) Decision {
	for _, rule := range p.rules {
		passed, reason := rule.Evaluate(order, pf)
		if passed {
			continue
		}
		order.Reject(fmt.Sprintf("%s: %s", rule.Name(), reason))
		p.logger.WarnContext(ctx, "风控拒单",
			"rule", rule.Name(), "order_id", order.OrderID,
			"symbol", order.Symbol, "reason", reason)
		return Decision{RejectedBy: rule.Name(), Reason: reason}
	}
	order.Accept()
	return Decision{Accepted: true}
}

// RiskConfig 风控规则配置。仓位上限与现金预检始终启用，
// StopLossRatio 与 MaxDrawdownRatio 为零时对应规则不启用。
type RiskConfig struct {
	MaxPositionRatio decimal.Decimal `json:"max_position_ratio"`
	CashBuffer       decimal.Decimal `json:"cash_buffer"`
	StopLossRatio    decimal.Decimal `json:"stop_loss_ratio"`
	MaxDrawdownRatio decimal.Decimal `json:"max_drawdown_ratio"`
}

// BuildPipeline 按配置组装风控规则链。
func (c RiskConfig) BuildPipeline(logger *slog.Logger) *RiskPipeline {
	p := NewRiskPipeline(logger,
		NewMaxPositionRule(c.MaxPositionRatio),
		NewCashSufficiencyRule(c.CashBuffer),
	)
	if c.StopLossRatio.IsPositive() {
		p.Append(NewStopLossRule(c.StopLossRatio))
	}
	if c.MaxDrawdownRatio.IsPositive() {
		p.Append(NewMaxDrawdownRule(c.MaxDrawdownRatio))
	}
	return p
}

// MaxPositionRule 单一品种仓位占比上限。只约束买入，
// 组合总值为零时放行（开仓前的空账户）。
type MaxPositionRule struct {
	MaxRatio decimal.Decimal
}

func NewMaxPositionRule(maxRatio decimal.Decimal) *MaxPositionRule {
	if maxRatio.IsZero() {
		maxRatio = defaultMaxPositionRatio
	}
	return &MaxPositionRule{MaxRatio: maxRatio}
}

func (r *MaxPositionRule) Name() string { return "max_position" }

func (r *MaxPositionRule) Evaluate(order *Order, pf *Portfolio) (bool, string) {
	if order.Direction != DirectionBuy {
		return true, ""
	}
	totalValue := pf.TotalValue()
	if totalValue.IsZero() {
		return true, ""
	}
	projected := order.Price.Mul(decimal.NewFromInt(order.Quantity))
	if pos, ok := pf.Position(order.Symbol); ok {
		projected = projected.Add(pos.MarketValue())
	}
	ratio := projected.Div(totalValue)
	if ratio.GreaterThan(r.MaxRatio) {
		return false, fmt.Sprintf("position ratio %s exceeds limit %s",
			ratio.Round(4).String(), r.MaxRatio.String())
	}
	return true, ""
}

// CashSufficiencyRule 买入前的现金预检。按订单名义金额上浮 Buffer
// 预估费用，预检通过不代表成交必然落账，最终以成交落账为准。
type CashSufficiencyRule struct {
	Buffer decimal.Decimal
}

func NewCashSufficiencyRule(buffer decimal.Decimal) *CashSufficiencyRule {
	if buffer.IsZero() {
		buffer = defaultCashBuffer
	}
	return &CashSufficiencyRule{Buffer: buffer}
}

func (r *CashSufficiencyRule) Name() string { return "cash_sufficiency" }

func (r *CashSufficiencyRule) Evaluate(order *Order, pf *Portfolio) (bool, string) {
	if order.Direction != DirectionBuy {
		return true, ""
	}
	required := order.Price.Mul(decimal.NewFromInt(order.Quantity)).
		Mul(decimal.NewFromInt(1).Add(r.Buffer))
	if pf.Cash.LessThan(required) {
		return false, fmt.Sprintf("insufficient cash: required %s, available %s",
			required.Round(2).String(), pf.Cash.Round(2).String())
	}
	return true, ""
}

// StopLossRule 禁止向浮亏超限的持仓加仓。
type StopLossRule struct {
	MaxLossRatio decimal.Decimal
}

func NewStopLossRule(maxLossRatio decimal.Decimal) *StopLossRule {
	return &StopLossRule{MaxLossRatio: maxLossRatio}
}

func (r *StopLossRule) Name() string { return "stop_loss" }

func (r *StopLossRule) Evaluate(order *Order, pf *Portfolio) (bool, string) {
	if order.Direction != DirectionBuy {
		return true, ""
	}
	pos, ok := pf.Position(order.Symbol)
	if !ok || !pos.AvgCost.IsPositive() {
		return true, ""
	}
	lossRatio := pos.AvgCost.Sub(pos.CurrentPrice).Div(pos.AvgCost)
	if lossRatio.GreaterThan(r.MaxLossRatio) {
		return false, fmt.Sprintf("position loss %s exceeds stop loss %s",
			lossRatio.Round(4).String(), r.MaxLossRatio.String())
	}
	return true, ""
}

// MaxDrawdownRule 组合回撤超限后停止开新仓。
type MaxDrawdownRule struct {
	MaxDrawdown decimal.Decimal
}

func NewMaxDrawdownRule(maxDrawdown decimal.Decimal) *MaxDrawdownRule {
	return &MaxDrawdownRule{MaxDrawdown: maxDrawdown}
}

func (r *MaxDrawdownRule) Name() string { return "max_drawdown" }

func (r *MaxDrawdownRule) Evaluate(order *Order, pf *Portfolio) (bool, string) {
	if order.Direction != DirectionBuy {
		return true, ""
	}
	peak := pf.PeakEquity()
	if !peak.IsPositive() {
		return true, ""
	}
	drawdown := peak.Sub(pf.TotalValue()).Div(peak)
	if drawdown.GreaterThan(r.MaxDrawdown) {
		return false, fmt.Sprintf("portfolio drawdown %s exceeds limit %s",
			drawdown.Round(4).String(), r.MaxDrawdown.String())
	}
	return true, ""
}
