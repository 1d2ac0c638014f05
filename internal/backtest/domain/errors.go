package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrPositionLocked       = errors.New("position locked until next session")
	ErrPositionNotFound     = errors.New("position not found")
	ErrInvalidOrder         = errors.New("invalid order parameters")
	ErrInvalidSignal        = errors.New("invalid signal parameters")
	ErrNoMarketData         = errors.New("no market data for symbol")
	ErrEmptyDataFeed        = errors.New("data feed is empty")
	ErrStrategyNotFound     = errors.New("strategy not found")
	ErrRunNotFound          = errors.New("backtest run not found")
	ErrRunAborted           = errors.New("backtest run aborted")
	ErrInvalidConfig        = errors.New("invalid backtest config")
	ErrUnknownSlippageModel = errors.New("unknown slippage model")
	ErrUnknownAllocator     = errors.New("unknown capital allocator")
)

// InsufficientCashError 买入所需资金超过可用现金时返回，携带差额便于定位。
type InsufficientCashError struct {
	Symbol    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCashError) Error() string {
	return fmt.Sprintf("insufficient cash for %s: required %s, available %s",
		e.Symbol, e.Required.String(), e.Available.String())
}

func (e *InsufficientCashError) Unwrap() error { return ErrInsufficientCash }

// InsufficientPositionError 卖出数量超过持仓总量。
type InsufficientPositionError struct {
	Symbol    string
	Requested int64
	Held      int64
}

func (e *InsufficientPositionError) Error() string {
	return fmt.Sprintf("insufficient position for %s: requested %d, held %d",
		e.Symbol, e.Requested, e.Held)
}

func (e *InsufficientPositionError) Unwrap() error { return ErrInsufficientPosition }

// PositionLockedError 卖出数量超过可用数量，T+1 未解锁部分不可卖出。
type PositionLockedError struct {
	Symbol    string
	Requested int64
	Available int64
}

func (e *PositionLockedError) Error() string {
	return fmt.Sprintf("position locked for %s: requested %d, available %d",
		e.Symbol, e.Requested, e.Available)
}

func (e *PositionLockedError) Unwrap() error { return ErrPositionLocked }

// InvalidOrderError 订单数量或价格非法，成本模型拒绝计算。
type InvalidOrderError struct {
	Symbol   string
	Quantity int64
	Price    decimal.Decimal
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order parameters for %s: quantity %d, price %s",
		e.Symbol, e.Quantity, e.Price.String())
}

func (e *InvalidOrderError) Unwrap() error { return ErrInvalidOrder }

// ConfigError 回测配置校验失败，Field 标识出错的配置项。
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid backtest config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// RunError 回测运行过程中的不可恢复错误，记录出错的阶段与触发事件。
type RunError struct {
	Stage string
	Topic Topic
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("backtest aborted at stage %s (topic %s): %v", e.Stage, e.Topic, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
