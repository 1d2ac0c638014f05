package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// 滑点模型名称，配置中通过名称选择模型。
const (
	SlippageFixed   = "fixed"
	SlippageRatio   = "ratio"
	SlippageTick    = "tick"
	SlippageDynamic = "dynamic"
)

var (
	minTradePrice = decimal.NewFromFloat(0.01)

	defaultFixedAmount   = decimal.NewFromFloat(0.01)
	defaultSlippageRate  = decimal.NewFromFloat(0.001)
	defaultTickSize      = decimal.NewFromFloat(0.01)
	defaultImpactFactor  = decimal.NewFromFloat(0.1)
	maxDynamicSlipRatio  = decimal.NewFromFloat(0.02)
	fallbackDynamicRatio = decimal.NewFromFloat(0.001)
)

// SlippageModel 滑点模型。Apply 返回施加滑点后的价格，
// 不做小数位取整，取整由成本模型统一处理。
type SlippageModel interface {
	Name() string
	Apply(price decimal.Decimal, direction Direction, quantity int64, volume decimal.Decimal) decimal.Decimal
}

// FixedSlippage 固定价差滑点：买入加价、卖出减价一个固定金额。
type FixedSlippage struct {
	Amount decimal.Decimal
}

func (s *FixedSlippage) Name() string { return SlippageFixed }

func (s *FixedSlippage) Apply(price decimal.Decimal, direction Direction, _ int64, _ decimal.Decimal) decimal.Decimal {
	var p decimal.Decimal
	if direction == DirectionBuy {
		p = price.Add(s.Amount)
	} else {
		p = price.Sub(s.Amount)
	}
	if p.LessThan(minTradePrice) {
		return minTradePrice
	}
	return p
}

// RatioSlippage 比例滑点：按成交价的固定比例调整。
type RatioSlippage struct {
	Rate decimal.Decimal
}

func (s *RatioSlippage) Name() string { return SlippageRatio }

func (s *RatioSlippage) Apply(price decimal.Decimal, direction Direction, _ int64, _ decimal.Decimal) decimal.Decimal {
	if direction == DirectionBuy {
		return price.Mul(decimal.NewFromInt(1).Add(s.Rate))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(s.Rate))
}

// TickSlippage 跳价滑点：按最小报价单位的整数倍调整。
type TickSlippage struct {
	TickSize  decimal.Decimal
	TickCount int64
}

func (s *TickSlippage) Name() string { return SlippageTick }

func (s *TickSlippage) Apply(price decimal.Decimal, direction Direction, _ int64, _ decimal.Decimal) decimal.Decimal {
	offset := s.TickSize.Mul(decimal.NewFromInt(s.TickCount))
	var p decimal.Decimal
	if direction == DirectionBuy {
		p = price.Add(offset)
	} else {
		p = price.Sub(offset)
	}
	if p.LessThan(minTradePrice) {
		return minTradePrice
	}
	return p
}

// DynamicSlippage 动态滑点：按订单量占当根K线成交量的比例估算冲击成本，
// 比例上限 2%。成交量缺失时退化为固定比例。
type DynamicSlippage struct {
	ImpactFactor decimal.Decimal
}

func (s *DynamicSlippage) Name() string { return SlippageDynamic }

func (s *DynamicSlippage) Apply(price decimal.Decimal, direction Direction, quantity int64, volume decimal.Decimal) decimal.Decimal {
	ratio := fallbackDynamicRatio
	if volume.IsPositive() && quantity > 0 {
		ratio = decimal.NewFromInt(quantity).Div(volume).Mul(s.ImpactFactor)
		if ratio.GreaterThan(maxDynamicSlipRatio) {
			ratio = maxDynamicSlipRatio
		}
	}
	if direction == DirectionBuy {
		return price.Mul(decimal.NewFromInt(1).Add(ratio))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(ratio))
}

// SlippageConfig 滑点模型配置。数值参数为零值时使用各模型缺省值。
type SlippageConfig struct {
	Model        string          `json:"model"`
	FixedAmount  decimal.Decimal `json:"fixed_amount"`
	Rate         decimal.Decimal `json:"rate"`
	TickSize     decimal.Decimal `json:"tick_size"`
	TickCount    int64           `json:"tick_count"`
	ImpactFactor decimal.Decimal `json:"impact_factor"`
}

// NewSlippageModel 按配置构造滑点模型，模型名未知时返回配置错误。
func NewSlippageModel(cfg SlippageConfig) (SlippageModel, error) {
	switch cfg.Model {
	case SlippageFixed, "":
		amount := cfg.FixedAmount
		if amount.IsZero() {
			amount = defaultFixedAmount
		}
		return &FixedSlippage{Amount: amount}, nil
	case SlippageRatio:
		rate := cfg.Rate
		if rate.IsZero() {
			rate = defaultSlippageRate
		}
		return &RatioSlippage{Rate: rate}, nil
	case SlippageTick:
		size := cfg.TickSize
		if size.IsZero() {
			size = defaultTickSize
		}
		count := cfg.TickCount
		if count <= 0 {
			count = 1
		}
		return &TickSlippage{TickSize: size, TickCount: count}, nil
	case SlippageDynamic:
		impact := cfg.ImpactFactor
		if impact.IsZero() {
			impact = defaultImpactFactor
		}
		return &DynamicSlippage{ImpactFactor: impact}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlippageModel, cfg.Model)
	}
}

// CostConfig 交易成本参数，缺省值对应A股市场惯例。
type CostConfig struct {
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	MinCommission   decimal.Decimal `json:"min_commission"`
	StampTaxRate    decimal.Decimal `json:"stamp_tax_rate"`
	TransferFeeRate decimal.Decimal `json:"transfer_fee_rate"`
	FlowFee         decimal.Decimal `json:"flow_fee"`
	PriceDecimals   int32           `json:"price_decimals"`
}

// DefaultCostConfig 万三佣金下限五元、千一印花税、十万分之一过户费。
func DefaultCostConfig() CostConfig {
	return CostConfig{
		CommissionRate:  decimal.NewFromFloat(0.0003),
		MinCommission:   decimal.NewFromInt(5),
		StampTaxRate:    decimal.NewFromFloat(0.001),
		TransferFeeRate: decimal.NewFromFloat(0.00001),
		FlowFee:         decimal.NewFromFloat(0.1),
		PriceDecimals:   2,
	}
}

// CostBreakdown 单笔成交的费用构成。SlippageCost 已体现在成交价中，
// 仅用于归因展示，不计入 TotalFee。
type CostBreakdown struct {
	Commission   decimal.Decimal `json:"commission"`
	StampTax     decimal.Decimal `json:"stamp_tax"`
	TransferFee  decimal.Decimal `json:"transfer_fee"`
	FlowFee      decimal.Decimal `json:"flow_fee"`
	SlippageCost decimal.Decimal `json:"slippage_cost"`
	TotalFee     decimal.Decimal `json:"total_fee"`
}

// Quote 一笔成交的完整报价。
type Quote struct {
	Price       decimal.Decimal
	GrossAmount decimal.Decimal
	Cost        CostBreakdown
	// TotalCost 买入为总支出（成交额加费用），卖出为净收入（成交额减费用）。
	TotalCost decimal.Decimal
}

// CostModel 交易成本模型。先对参考价施加滑点并取整得到实际成交价，
// 各项费用一律按实际成交价计算。
type CostModel struct {
	cfg      CostConfig
	slippage SlippageModel
}

func NewCostModel(cfg CostConfig, slippage SlippageModel) *CostModel {
	return &CostModel{cfg: cfg, slippage: slippage}
}

// ExecutionPrice 返回滑点调整并按配置小数位四舍五入后的成交价。
func (m *CostModel) ExecutionPrice(refPrice decimal.Decimal, direction Direction, quantity int64, volume decimal.Decimal) decimal.Decimal {
	return m.slippage.Apply(refPrice, direction, quantity, volume).Round(m.cfg.PriceDecimals)
}

// QuoteOrder 对一笔订单计算实际成交价与费用明细，
// 数量或参考价非正时返回 InvalidOrderError。
func (m *CostModel) QuoteOrder(symbol string, direction Direction, quantity int64, refPrice, volume decimal.Decimal) (Quote, error) {
	if quantity <= 0 || !refPrice.IsPositive() {
		return Quote{}, &InvalidOrderError{Symbol: symbol, Quantity: quantity, Price: refPrice}
	}
	price := m.ExecutionPrice(refPrice, direction, quantity, volume)
	qty := decimal.NewFromInt(quantity)
	gross := price.Mul(qty)

	commission := gross.Mul(m.cfg.CommissionRate)
	if commission.LessThan(m.cfg.MinCommission) {
		commission = m.cfg.MinCommission
	}

	stampTax := decimal.Zero
	if direction == DirectionSell {
		stampTax = gross.Mul(m.cfg.StampTaxRate)
	}

	transferFee := decimal.Zero
	if isShanghai(symbol) {
		transferFee = gross.Mul(m.cfg.TransferFeeRate)
	}

	totalFee := commission.Add(stampTax).Add(transferFee).Add(m.cfg.FlowFee)
	slippageCost := price.Sub(refPrice).Abs().Mul(qty)

	total := gross.Add(totalFee)
	if direction == DirectionSell {
		total = gross.Sub(totalFee)
	}

	return Quote{
		Price:       price,
		GrossAmount: gross,
		Cost: CostBreakdown{
			Commission:   commission,
			StampTax:     stampTax,
			TransferFee:  transferFee,
			FlowFee:      m.cfg.FlowFee,
			SlippageCost: slippageCost,
			TotalFee:     totalFee,
		},
		TotalCost: total,
	}, nil
}

// isShanghai 判断是否沪市证券，兼容 sh.600000、600000、600000.SH 三种写法。
func isShanghai(symbol string) bool {
	s := strings.ToLower(symbol)
	return strings.HasPrefix(s, "sh.") || strings.HasPrefix(s, "6") || strings.HasSuffix(s, ".sh")
}

// IsTPlusZero 判断品种是否适用当日回转交易。场内基金不受 T+1 限制，
// 沪市 51/56/58、深市 15/16 开头的代码按场内基金处理。
func IsTPlusZero(symbol string) bool {
	code := bareCode(symbol)
	for _, prefix := range [...]string{"51", "56", "58", "15", "16"} {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}

// bareCode 剥离交易所前后缀，返回纯数字代码。
func bareCode(symbol string) string {
	s := strings.ToLower(symbol)
	s = strings.TrimPrefix(s, "sh.")
	s = strings.TrimPrefix(s, "sz.")
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	return s
}
