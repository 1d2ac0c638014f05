package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// 内置策略名称。
const (
	StrategyMACross = "ma_cross"
	StrategyRSI     = "rsi"
)

var fullStrength = decimal.NewFromInt(1)

type maCrossParams struct {
	Fast int `json:"fast"`
	Slow int `json:"slow"`
}

// MACrossStrategy 双均线交叉策略。快线上穿慢线产生买入信号，
// 下穿产生卖出信号，前 slow+1 根K线为预热期不出信号。
// 均线持平后再次同向交叉时按最近信号方向去重。
type MACrossStrategy struct {
	fast       int
	slow       int
	closes     map[string][]decimal.Decimal
	lastSignal map[string]Direction
}

func NewMACrossStrategy(params json.RawMessage) (Strategy, error) {
	p := maCrossParams{Fast: 5, Slow: 20}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("parse ma_cross params: %w", err)
		}
	}
	if p.Fast <= 0 || p.Slow <= 0 {
		return nil, &ConfigError{Field: "strategy_params", Reason: "ma periods must be positive"}
	}
	if p.Fast >= p.Slow {
		return nil, &ConfigError{Field: "strategy_params",
			Reason: fmt.Sprintf("fast period %d must be less than slow period %d", p.Fast, p.Slow)}
	}
	return &MACrossStrategy{
		fast:       p.Fast,
		slow:       p.Slow,
		closes:     make(map[string][]decimal.Decimal),
		lastSignal: make(map[string]Direction),
	}, nil
}

func (s *MACrossStrategy) Name() string { return StrategyMACross }

// OnStart 清空均线窗口与最近信号方向。
func (s *MACrossStrategy) OnStart(context.Context) error {
	s.closes = make(map[string][]decimal.Decimal)
	s.lastSignal = make(map[string]Direction)
	return nil
}

func (s *MACrossStrategy) OnStop(context.Context) error { return nil }

func (s *MACrossStrategy) OnBar(_ context.Context, bar Bar) ([]Signal, error) {
	window := append(s.closes[bar.Symbol], bar.Close)
	if len(window) > s.slow+1 {
		window = window[1:]
	}
	s.closes[bar.Symbol] = window
	if len(window) < s.slow+1 {
		return nil, nil
	}

	currFast := meanTail(window, s.fast)
	currSlow := meanTail(window, s.slow)
	prev := window[:len(window)-1]
	prevFast := meanTail(prev, s.fast)
	prevSlow := meanTail(prev, s.slow)

	switch {
	case prevFast.LessThanOrEqual(prevSlow) && currFast.GreaterThan(currSlow):
		if s.lastSignal[bar.Symbol] == DirectionBuy {
			return nil, nil
		}
		s.lastSignal[bar.Symbol] = DirectionBuy
		return []Signal{{
			Symbol:    bar.Symbol,
			Direction: DirectionBuy,
			Strength:  fullStrength,
			Strategy:  s.Name(),
			Reason:    "golden cross",
			Timestamp: bar.Timestamp,
		}}, nil
	case prevFast.GreaterThanOrEqual(prevSlow) && currFast.LessThan(currSlow):
		if s.lastSignal[bar.Symbol] == DirectionSell {
			return nil, nil
		}
		s.lastSignal[bar.Symbol] = DirectionSell
		return []Signal{{
			Symbol:    bar.Symbol,
			Direction: DirectionSell,
			Strength:  fullStrength,
			Strategy:  s.Name(),
			Reason:    "death cross",
			Timestamp: bar.Timestamp,
		}}, nil
	}
	return nil, nil
}

// meanTail 计算序列末尾 n 个值的算术平均。
func meanTail(values []decimal.Decimal, n int) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values[len(values)-n:] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

type rsiParams struct {
	Period     int     `json:"period"`
	Overbought float64 `json:"overbought"`
	Oversold   float64 `json:"oversold"`
}

// RSIStrategy 相对强弱指标策略。RSI 自超卖区回升时买入，强度 1-RSI/100，
// 自超买区回落时卖出，强度 RSI/100，按品种持仓状态对同向信号去重。
type RSIStrategy struct {
	period     int
	overbought decimal.Decimal
	oversold   decimal.Decimal
	closes     map[string][]decimal.Decimal
	lastRSI    map[string]decimal.Decimal
	inPosition map[string]bool
}

func NewRSIStrategy(params json.RawMessage) (Strategy, error) {
	p := rsiParams{Period: 14, Overbought: 70, Oversold: 30}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("parse rsi params: %w", err)
		}
	}
	if p.Period < 2 {
		return nil, &ConfigError{Field: "strategy_params", Reason: "rsi period must be at least 2"}
	}
	if p.Oversold >= p.Overbought {
		return nil, &ConfigError{Field: "strategy_params",
			Reason: fmt.Sprintf("oversold %v must be less than overbought %v", p.Oversold, p.Overbought)}
	}
	return &RSIStrategy{
		period:     p.Period,
		overbought: decimal.NewFromFloat(p.Overbought),
		oversold:   decimal.NewFromFloat(p.Oversold),
		closes:     make(map[string][]decimal.Decimal),
		lastRSI:    make(map[string]decimal.Decimal),
		inPosition: make(map[string]bool),
	}, nil
}

func (s *RSIStrategy) Name() string { return StrategyRSI }

// OnStart 清空指标窗口与持仓标记。
func (s *RSIStrategy) OnStart(context.Context) error {
	s.closes = make(map[string][]decimal.Decimal)
	s.lastRSI = make(map[string]decimal.Decimal)
	s.inPosition = make(map[string]bool)
	return nil
}

func (s *RSIStrategy) OnStop(context.Context) error { return nil }

func (s *RSIStrategy) OnBar(_ context.Context, bar Bar) ([]Signal, error) {
	window := append(s.closes[bar.Symbol], bar.Close)
	if len(window) > s.period+1 {
		window = window[1:]
	}
	s.closes[bar.Symbol] = window
	if len(window) < s.period+1 {
		return nil, nil
	}

	rsi := relativeStrength(window)
	prev, hasPrev := s.lastRSI[bar.Symbol]
	s.lastRSI[bar.Symbol] = rsi
	if !hasPrev {
		return nil, nil
	}

	switch {
	case prev.LessThan(s.oversold) && rsi.GreaterThanOrEqual(s.oversold) && !s.inPosition[bar.Symbol]:
		s.inPosition[bar.Symbol] = true
		return []Signal{{
			Symbol:    bar.Symbol,
			Direction: DirectionBuy,
			Strength:  fullStrength.Sub(rsi.Div(hundred)),
			Strategy:  s.Name(),
			Reason:    fmt.Sprintf("rsi %s recovered from oversold %s", rsi.Round(2), s.oversold),
			Timestamp: bar.Timestamp,
		}}, nil
	case prev.GreaterThan(s.overbought) && rsi.LessThanOrEqual(s.overbought) && s.inPosition[bar.Symbol]:
		s.inPosition[bar.Symbol] = false
		return []Signal{{
			Symbol:    bar.Symbol,
			Direction: DirectionSell,
			Strength:  rsi.Div(hundred),
			Strategy:  s.Name(),
			Reason:    fmt.Sprintf("rsi %s retreated from overbought %s", rsi.Round(2), s.overbought),
			Timestamp: bar.Timestamp,
		}}, nil
	}
	return nil, nil
}

// relativeStrength 基于窗口内相邻收盘价差计算 RSI，
// 涨跌幅取简单平均，窗口内无下跌时 RSI 为 100。
func relativeStrength(window []decimal.Decimal) decimal.Decimal {
	gains, losses := decimal.Zero, decimal.Zero
	for i := 1; i < len(window); i++ {
		diff := window[i].Sub(window[i-1])
		if diff.IsPositive() {
			gains = gains.Add(diff)
		} else {
			losses = losses.Add(diff.Abs())
		}
	}
	if losses.IsZero() {
		return hundred
	}
	rs := gains.Div(losses)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}
