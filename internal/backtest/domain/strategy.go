package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Strategy 交易策略。OnBar 消费一根K线，返回零或多个交易信号。
// 策略自行维护各品种的指标状态，引擎保证K线按时间顺序到达，
// 相同的K线序列必须产生相同的信号序列。
type Strategy interface {
	Name() string
	// OnStart 回测开始前调用，重置策略内部状态。
	OnStart(ctx context.Context) error
	OnBar(ctx context.Context, bar Bar) ([]Signal, error)
	// OnStop 回测结束后调用，中途失败的回测同样调用。
	OnStop(ctx context.Context) error
}

// StrategyFactory 按 JSON 参数构造策略实例，参数为空时使用缺省值。
type StrategyFactory func(params json.RawMessage) (Strategy, error)

// StrategyRegistry 策略注册表。内置策略在构造时注册，
// 调用方可追加自定义策略，同名注册后者覆盖前者。
type StrategyRegistry struct {
	factories map[string]StrategyFactory
}

func NewStrategyRegistry() *StrategyRegistry {
	r := &StrategyRegistry{factories: make(map[string]StrategyFactory)}
	r.Register(StrategyMACross, NewMACrossStrategy)
	r.Register(StrategyRSI, NewRSIStrategy)
	return r
}

// Register 注册策略工厂。
func (r *StrategyRegistry) Register(name string, factory StrategyFactory) {
	r.factories[name] = factory
}

// Create 按名称与参数实例化策略，名称未注册时返回 ErrStrategyNotFound。
func (r *StrategyRegistry) Create(name string, params json.RawMessage) (Strategy, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStrategyNotFound, name)
	}
	return factory(params)
}

// Names 返回已注册的策略名，按字典序。
func (r *StrategyRegistry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
