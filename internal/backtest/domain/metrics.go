package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// tradingDaysPerYear A股年化交易日数。
const tradingDaysPerYear = 252

// PerformanceReport 回测绩效报告。比率类指标为无量纲数，
// 带 Pct 后缀的指标为百分数，最大回撤为非正数。
// WinRate 在没有任何配对成交时为 nil，以区分"无交易"与"胜率为零"。
type PerformanceReport struct {
	InitialCapital  decimal.Decimal  `json:"initial_capital"`
	FinalEquity     decimal.Decimal  `json:"final_equity"`
	TotalReturnPct  decimal.Decimal  `json:"total_return_pct"`
	AnnualReturnPct decimal.Decimal  `json:"annual_return_pct"`
	VolatilityPct   decimal.Decimal  `json:"volatility_pct"`
	SharpeRatio     decimal.Decimal  `json:"sharpe_ratio"`
	SortinoRatio    decimal.Decimal  `json:"sortino_ratio"`
	MaxDrawdownPct  decimal.Decimal  `json:"max_drawdown_pct"`
	CalmarRatio     decimal.Decimal  `json:"calmar_ratio"`
	TradeCount      int              `json:"trade_count"`
	MatchedCount    int              `json:"matched_count"`
	WinCount        int              `json:"win_count"`
	LossCount       int              `json:"loss_count"`
	WinRate         *decimal.Decimal `json:"win_rate,omitempty"`
	AvgWin          decimal.Decimal  `json:"avg_win"`
	AvgLoss         decimal.Decimal  `json:"avg_loss"`
	ProfitLossRatio decimal.Decimal  `json:"profit_loss_ratio"`
	TotalFees       decimal.Decimal  `json:"total_fees"`
}

// MatchedTrade 一次先进先出配对：一笔卖出与最早未平的买入批次撮合。
// PnL 按价差乘配对数量计算，费用不摊入。
type MatchedTrade struct {
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	PnL       decimal.Decimal `json:"pnl"`
	OpenedAt  time.Time       `json:"opened_at"`
	ClosedAt  time.Time       `json:"closed_at"`
}

type openLot struct {
	quantity int64
	price    decimal.Decimal
	at       time.Time
}

// MatchTrades 按品种对成交流水做先进先出配对。
// 一笔卖出可拆分与多个买入批次配对，未配对的卖出余量被忽略。
func MatchTrades(trades []TradeRecord) []MatchedTrade {
	open := make(map[string][]*openLot)
	var matched []MatchedTrade
	for _, t := range trades {
		switch t.Direction {
		case DirectionBuy:
			open[t.Symbol] = append(open[t.Symbol], &openLot{
				quantity: t.Quantity, price: t.Price, at: t.Timestamp,
			})
		case DirectionSell:
			remaining := t.Quantity
			queue := open[t.Symbol]
			for remaining > 0 && len(queue) > 0 {
				head := queue[0]
				qty := min(head.quantity, remaining)
				matched = append(matched, MatchedTrade{
					Symbol:    t.Symbol,
					Quantity:  qty,
					BuyPrice:  head.price,
					SellPrice: t.Price,
					PnL:       t.Price.Sub(head.price).Mul(decimal.NewFromInt(qty)),
					OpenedAt:  head.at,
					ClosedAt:  t.Timestamp,
				})
				head.quantity -= qty
				remaining -= qty
				if head.quantity == 0 {
					queue = queue[1:]
				}
			}
			open[t.Symbol] = queue
		}
	}
	return matched
}

// ComputeMetrics 由权益曲线与成交流水计算绩效报告。
// riskFreeRate 为年化无风险利率，按交易日折算。
// 权益点不足两个时无法计算收益序列，返回仅含初始资金的空报告。
func ComputeMetrics(initialCapital, riskFreeRate decimal.Decimal, equity []EquitySnapshot, trades []TradeRecord) PerformanceReport {
	if len(equity) < 2 {
		return PerformanceReport{InitialCapital: initialCapital}
	}

	report := PerformanceReport{
		InitialCapital: initialCapital,
		FinalEquity:    equity[len(equity)-1].Equity,
		TradeCount:     len(trades),
	}
	for _, t := range trades {
		report.TotalFees = report.TotalFees.Add(t.TotalFee)
	}

	final := report.FinalEquity
	if initialCapital.IsPositive() {
		report.TotalReturnPct = final.Sub(initialCapital).Div(initialCapital).Mul(hundred)
	}

	returns := dailyReturns(equity)
	mean := meanOf(returns)
	std := sampleStd(returns)
	rfDaily := riskFreeRate.InexactFloat64() / tradingDaysPerYear
	sqrtDays := math.Sqrt(tradingDaysPerYear)

	report.VolatilityPct = fromFloat(std * sqrtDays * 100)
	if std > 0 {
		report.SharpeRatio = fromFloat((mean - rfDaily) / std * sqrtDays)
	}
	downside := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if downsideStd := sampleStd(downside); downsideStd > 0 {
		report.SortinoRatio = fromFloat((mean - rfDaily) / downsideStd * sqrtDays)
	}

	report.AnnualReturnPct = annualizedReturn(initialCapital, final,
		equity[0].Timestamp, equity[len(equity)-1].Timestamp)
	report.MaxDrawdownPct = maxDrawdown(equity)
	if !report.MaxDrawdownPct.IsZero() {
		report.CalmarRatio = report.AnnualReturnPct.Div(report.MaxDrawdownPct.Abs())
	}

	applyTradeStats(&report, MatchTrades(trades))
	return report
}

// dailyReturns 相邻权益点的简单收益率序列。
func dailyReturns(equity []EquitySnapshot) []float64 {
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity.InexactFloat64()
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		curr := equity[i].Equity.InexactFloat64()
		returns = append(returns, (curr-prev)/prev)
	}
	return returns
}

// annualizedReturn 复利年化收益率，百分数。区间不足一天或权益非正时为零。
func annualizedReturn(initial, final decimal.Decimal, start, end time.Time) decimal.Decimal {
	years := end.Sub(start).Hours() / 24 / 365
	if years <= 0 || !initial.IsPositive() {
		return decimal.Zero
	}
	ratio := final.InexactFloat64() / initial.InexactFloat64()
	if ratio <= 0 {
		return decimal.Zero
	}
	return fromFloat((math.Pow(ratio, 1/years) - 1) * 100)
}

// maxDrawdown 相对历史峰值的最大回撤，百分数，非正数。
func maxDrawdown(equity []EquitySnapshot) decimal.Decimal {
	peak := equity[0].Equity
	maxDD := decimal.Zero
	for _, snap := range equity {
		if snap.Equity.GreaterThan(peak) {
			peak = snap.Equity
		}
		if !peak.IsPositive() {
			continue
		}
		dd := snap.Equity.Sub(peak).Div(peak).Mul(hundred)
		if dd.LessThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

func applyTradeStats(report *PerformanceReport, matched []MatchedTrade) {
	report.MatchedCount = len(matched)
	if len(matched) == 0 {
		return
	}

	winSum, lossSum := decimal.Zero, decimal.Zero
	for _, m := range matched {
		switch {
		case m.PnL.IsPositive():
			report.WinCount++
			winSum = winSum.Add(m.PnL)
		case m.PnL.IsNegative():
			report.LossCount++
			lossSum = lossSum.Add(m.PnL)
		}
	}

	winRate := decimal.NewFromInt(int64(report.WinCount)).
		Div(decimal.NewFromInt(int64(len(matched)))).Mul(hundred)
	report.WinRate = &winRate

	if report.WinCount > 0 {
		report.AvgWin = winSum.Div(decimal.NewFromInt(int64(report.WinCount)))
	}
	// 无亏损交易时按 1 计算盈亏比，避免除零同时保留量级信息。
	avgLoss := decimal.NewFromInt(1)
	if report.LossCount > 0 {
		avgLoss = lossSum.Div(decimal.NewFromInt(int64(report.LossCount))).Abs()
		report.AvgLoss = avgLoss
	}
	if avgLoss.IsPositive() {
		report.ProfitLossRatio = report.AvgWin.Div(avgLoss)
	}
}

// meanOf 算术平均，空序列为零。
func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd 样本标准差（除以 n-1），元素不足两个时为零。
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := meanOf(xs)
	sumSq := 0.0
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// fromFloat 浮点指标转 decimal，非有限值归零。
func fromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}
