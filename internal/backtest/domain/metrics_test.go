package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradeAt(day int, symbol string, dir Direction, qty int64, price string) TradeRecord {
	return TradeRecord{
		Timestamp: time.Date(2024, 1, day, 15, 0, 0, 0, time.UTC),
		Symbol:    symbol,
		Direction: dir,
		Quantity:  qty,
		Price:     d(price),
		TotalFee:  d("5"),
	}
}

func equityPoint(day int, equity string) EquitySnapshot {
	return EquitySnapshot{
		Timestamp: time.Date(2024, 1, day, 15, 0, 0, 0, time.UTC),
		Equity:    d(equity),
	}
}

func TestMatchTrades_FIFOSplitsAcrossLots(t *testing.T) {
	trades := []TradeRecord{
		tradeAt(1, "600000", DirectionBuy, 100, "10"),
		tradeAt(2, "600000", DirectionBuy, 200, "11"),
		tradeAt(3, "600000", DirectionSell, 250, "12"),
	}

	matched := MatchTrades(trades)
	require.Len(t, matched, 2)

	assert.Equal(t, int64(100), matched[0].Quantity)
	assert.Equal(t, "10", matched[0].BuyPrice.String())
	assert.Equal(t, "200", matched[0].PnL.String())
	assert.Equal(t, trades[0].Timestamp, matched[0].OpenedAt)
	assert.Equal(t, trades[2].Timestamp, matched[0].ClosedAt)

	assert.Equal(t, int64(150), matched[1].Quantity)
	assert.Equal(t, "11", matched[1].BuyPrice.String())
	assert.Equal(t, "150", matched[1].PnL.String())
}

func TestMatchTrades_RemainderStaysOpen(t *testing.T) {
	trades := []TradeRecord{
		tradeAt(1, "600000", DirectionBuy, 100, "10"),
		tradeAt(2, "600000", DirectionBuy, 200, "11"),
		tradeAt(3, "600000", DirectionSell, 250, "12"),
		tradeAt(4, "600000", DirectionSell, 50, "9"),
	}

	matched := MatchTrades(trades)
	require.Len(t, matched, 3)
	// 第二笔卖出与剩余 50 股 @11 配对
	assert.Equal(t, int64(50), matched[2].Quantity)
	assert.Equal(t, "11", matched[2].BuyPrice.String())
	assert.Equal(t, "-100", matched[2].PnL.String())
}

func TestMatchTrades_IsolatesSymbols(t *testing.T) {
	trades := []TradeRecord{
		tradeAt(1, "600000", DirectionBuy, 100, "10"),
		tradeAt(1, "000001", DirectionBuy, 100, "5"),
		tradeAt(2, "000001", DirectionSell, 100, "6"),
	}

	matched := MatchTrades(trades)
	require.Len(t, matched, 1)
	assert.Equal(t, "000001", matched[0].Symbol)
	assert.Equal(t, "100", matched[0].PnL.String())
}

func TestMatchTrades_SellWithoutOpenLots(t *testing.T) {
	trades := []TradeRecord{
		tradeAt(1, "600000", DirectionSell, 100, "10"),
	}
	assert.Empty(t, MatchTrades(trades))
}

func TestComputeMetrics_RequiresTwoEquityPoints(t *testing.T) {
	report := ComputeMetrics(d("100000"), d("0.03"), []EquitySnapshot{equityPoint(1, "100000")}, nil)

	assert.Equal(t, "100000", report.InitialCapital.String())
	assert.True(t, report.FinalEquity.IsZero())
	assert.Nil(t, report.WinRate)
	assert.Zero(t, report.TradeCount)
}

func TestComputeMetrics_TotalAndDrawdown(t *testing.T) {
	equity := []EquitySnapshot{
		equityPoint(1, "1000000"),
		equityPoint(2, "1100000"),
		equityPoint(3, "990000"),
		equityPoint(4, "1045000"),
	}
	report := ComputeMetrics(d("1000000"), d("0.03"), equity, nil)

	assert.Equal(t, "4.5", report.TotalReturnPct.String())
	// 峰值 1100000 回落到 990000，回撤 -10%
	assert.Equal(t, "-10", report.MaxDrawdownPct.String())
	assert.True(t, report.AnnualReturnPct.IsPositive())
	assert.True(t, report.CalmarRatio.IsPositive())
	assert.True(t, report.VolatilityPct.IsPositive())
}

func TestComputeMetrics_FlatCurveHasZeroRatios(t *testing.T) {
	equity := []EquitySnapshot{
		equityPoint(1, "1000000"),
		equityPoint(2, "1000000"),
		equityPoint(3, "1000000"),
	}
	report := ComputeMetrics(d("1000000"), d("0.03"), equity, nil)

	// 收益率序列方差为零，夏普与索提诺按零处理
	assert.True(t, report.SharpeRatio.IsZero())
	assert.True(t, report.SortinoRatio.IsZero())
	assert.True(t, report.MaxDrawdownPct.IsZero())
	assert.True(t, report.TotalReturnPct.IsZero())
}

func TestComputeMetrics_TradeStats(t *testing.T) {
	equity := []EquitySnapshot{
		equityPoint(1, "1000000"),
		equityPoint(5, "1001000"),
	}
	trades := []TradeRecord{
		tradeAt(1, "600000", DirectionBuy, 100, "10"),
		tradeAt(2, "600000", DirectionSell, 100, "12"), // +200
		tradeAt(2, "600000", DirectionBuy, 100, "12"),
		tradeAt(3, "600000", DirectionSell, 100, "11"), // -100
		tradeAt(3, "000001", DirectionBuy, 100, "5"),
		tradeAt(4, "000001", DirectionSell, 100, "5.5"), // +50
	}
	report := ComputeMetrics(d("1000000"), d("0.03"), equity, trades)

	assert.Equal(t, 6, report.TradeCount)
	assert.Equal(t, 3, report.MatchedCount)
	assert.Equal(t, 2, report.WinCount)
	assert.Equal(t, 1, report.LossCount)
	require.NotNil(t, report.WinRate)
	assert.InDelta(t, 66.67, report.WinRate.InexactFloat64(), 0.01)
	assert.Equal(t, "125", report.AvgWin.String())
	assert.Equal(t, "100", report.AvgLoss.String())
	assert.Equal(t, "1.25", report.ProfitLossRatio.String())
	assert.Equal(t, "30", report.TotalFees.String())
}

func TestComputeMetrics_NoLossesUsesDefaultDenominator(t *testing.T) {
	equity := []EquitySnapshot{
		equityPoint(1, "1000000"),
		equityPoint(2, "1000200"),
	}
	trades := []TradeRecord{
		tradeAt(1, "600000", DirectionBuy, 100, "10"),
		tradeAt(2, "600000", DirectionSell, 100, "12"),
	}
	report := ComputeMetrics(d("1000000"), d("0.03"), equity, trades)

	assert.Equal(t, 1, report.WinCount)
	assert.Zero(t, report.LossCount)
	assert.True(t, report.AvgLoss.IsZero())
	// 无亏损时按 1 作分母
	assert.Equal(t, "200", report.ProfitLossRatio.String())
}

func TestSampleStd(t *testing.T) {
	assert.Zero(t, sampleStd(nil))
	assert.Zero(t, sampleStd([]float64{0.5}))
	// 样本方差 ((1-2)^2+(2-2)^2+(3-2)^2)/2 = 1
	assert.InDelta(t, 1.0, sampleStd([]float64{1, 2, 3}), 1e-9)
}

func TestAnnualizedReturn(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	// 一年翻倍，年化接近 100%
	annual := annualizedReturn(d("100"), d("200"), start, end)
	assert.InDelta(t, 100, annual.InexactFloat64(), 0.5)

	// 区间为零
	assert.True(t, annualizedReturn(d("100"), d("200"), start, start).IsZero())
}
