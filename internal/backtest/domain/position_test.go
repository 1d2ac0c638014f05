package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition_AddAveragesCost(t *testing.T) {
	pos := NewPosition("600000")
	pos.Add(100, d("10"), false)
	pos.Add(100, d("12"), false)

	assert.Equal(t, int64(200), pos.Quantity)
	assert.Equal(t, "11", pos.AvgCost.String())
	assert.Equal(t, int64(0), pos.Available, "T+1 买入当日锁定")
	assert.Equal(t, int64(200), pos.Locked())
}

func TestPosition_AddTPlusZeroUnlocksImmediately(t *testing.T) {
	pos := NewPosition("510300")
	pos.Add(1000, d("3.5"), true)

	assert.True(t, pos.TPlusZero)
	assert.Equal(t, int64(1000), pos.Available)
	assert.Equal(t, int64(0), pos.Locked())
}

func TestPosition_ReduceDistinguishesErrors(t *testing.T) {
	pos := NewPosition("600000")
	pos.Add(100, d("10"), false)

	// 超过持仓总量
	err := pos.Reduce(200)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	// 未超总量但超过可用数量
	err = pos.Reduce(50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPositionLocked)

	// 失败的减仓不留痕迹
	assert.Equal(t, int64(100), pos.Quantity)
	assert.Equal(t, int64(0), pos.Available)
}

func TestPosition_ReduceAfterUnlock(t *testing.T) {
	pos := NewPosition("600000")
	pos.Add(100, d("10"), false)
	pos.Unlock()

	require.NoError(t, pos.Reduce(60))
	assert.Equal(t, int64(40), pos.Quantity)
	assert.Equal(t, int64(40), pos.Available)
	assert.Equal(t, "10", pos.AvgCost.String(), "卖出不改变持仓成本")
}

func TestPosition_ReduceRejectsNonPositive(t *testing.T) {
	pos := NewPosition("600000")
	pos.Add(100, d("10"), false)
	pos.Unlock()

	assert.Error(t, pos.Reduce(0))
	assert.Error(t, pos.Reduce(-10))
}

func TestPosition_UnlockQuantityClampsToHolding(t *testing.T) {
	pos := NewPosition("600000")
	pos.Add(100, d("10"), false)

	pos.UnlockQuantity(60)
	assert.Equal(t, int64(60), pos.Available)

	pos.UnlockQuantity(999)
	assert.Equal(t, int64(100), pos.Available)
}

func TestPosition_Valuation(t *testing.T) {
	ts := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	pos := NewPosition("600000")
	pos.Add(100, d("10"), false)
	pos.MarkPrice(d("12.5"), ts)

	assert.Equal(t, "1250", pos.MarketValue().String())
	assert.Equal(t, "1000", pos.CostBasis().String())
	assert.Equal(t, "250", pos.UnrealizedPnL().String())
	assert.Equal(t, ts, pos.LastUpdate)
}

func TestSettlementMode_SameDayTradable(t *testing.T) {
	cases := []struct {
		name   string
		mode   SettlementMode
		symbol string
		want   bool
	}{
		{"auto 股票锁定", SettlementAuto, "600000", false},
		{"auto ETF 当日可卖", SettlementAuto, "510300", true},
		{"零值按 auto 处理", SettlementMode(""), "159915", true},
		{"t0 股票也当日可卖", SettlementT0, "600000", true},
		{"t1 ETF 也锁定", SettlementT1, "510300", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.mode.SameDayTradable(tc.symbol))
		})
	}
}
