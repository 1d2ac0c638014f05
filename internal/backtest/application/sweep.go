package application

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

// 扫描目标函数取值。
const (
	ObjectiveSharpe      = "sharpe_ratio"
	ObjectiveTotalReturn = "total_return"
	ObjectiveCalmar      = "calmar_ratio"
)

// SweepSpec 参数扫描说明。Grid 按候选值列表做笛卡尔积展开，
// Random 在区间内随机采样，两者同时给出时 Grid 优先。
// 每组参数覆盖到基准配置的策略参数上，各自独立跑一次回测。
type SweepSpec struct {
	Config    domain.RunConfig `json:"config"`
	Grid      map[string][]any `json:"grid,omitempty"`
	Random    *RandomSearch    `json:"random,omitempty"`
	Objective string           `json:"objective,omitempty"`
	Workers   int              `json:"workers,omitempty"`
	// Seed 随机采样种子，0 取当前时间。
	Seed int64 `json:"seed,omitempty"`
}

// RandomSearch 随机采样说明。区间两端均为整数时按整数采样。
type RandomSearch struct {
	Samples int                   `json:"samples"`
	Ranges  map[string][2]float64 `json:"ranges"`
}

// SweepTrial 单组参数的试验结果。失败的试验记录错误原因，不中断扫描。
type SweepTrial struct {
	Params    map[string]any            `json:"params"`
	Objective float64                   `json:"objective"`
	Report    *domain.PerformanceReport `json:"report,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// SweepResult 扫描汇总。Trials 按目标值降序排列，失败的试验排在最后。
type SweepResult struct {
	Objective string       `json:"objective"`
	Best      *SweepTrial  `json:"best,omitempty"`
	Trials    []SweepTrial `json:"trials"`
	Workers   int          `json:"workers"`
	ElapsedMs int64        `json:"elapsed_ms"`
}

// RunSweep 对策略参数做网格或随机扫描。行情只加载一次，
// 各试验在 errgroup 工作池内并行复放，不落任务行。
func (s *CommandService) RunSweep(ctx context.Context, spec SweepSpec) (*SweepResult, error) {
	if err := spec.Config.Validate(); err != nil {
		return nil, err
	}
	objective, err := normalizeObjective(spec.Objective)
	if err != nil {
		return nil, err
	}
	combos, err := expandCombos(spec)
	if err != nil {
		return nil, err
	}

	workers := spec.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	bars, err := s.loadBars(ctx, spec.Config)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	s.logger.InfoContext(ctx, "parameter sweep started",
		"strategy", spec.Config.Strategy,
		"trials", len(combos),
		"workers", workers,
		"objective", objective)

	trials := make([]SweepTrial, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, combo := range combos {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				trials[i] = SweepTrial{Params: combo, Error: err.Error()}
				return nil
			}
			trials[i] = s.runTrial(gctx, spec.Config, bars, combo, objective)
			return nil
		})
	}
	// 试验失败记录在各自槽位，工作池本身不失败。
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(trials, func(i, j int) bool {
		if (trials[i].Error == "") != (trials[j].Error == "") {
			return trials[i].Error == ""
		}
		return trials[i].Objective > trials[j].Objective
	})

	result := &SweepResult{
		Objective: objective,
		Trials:    trials,
		Workers:   workers,
		ElapsedMs: time.Since(started).Milliseconds(),
	}
	if len(trials) > 0 && trials[0].Error == "" {
		result.Best = &trials[0]
	}
	s.logger.InfoContext(ctx, "parameter sweep finished",
		"trials", len(trials),
		"elapsed_ms", result.ElapsedMs,
		"best", bestParams(result.Best))
	return result, nil
}

// runTrial 用一组覆盖参数执行单次回测。
func (s *CommandService) runTrial(ctx context.Context, base domain.RunConfig, bars []domain.Bar, combo map[string]any, objective string) SweepTrial {
	trial := SweepTrial{Params: combo}

	params, err := mergeParams(base.StrategyParams, combo)
	if err != nil {
		trial.Error = err.Error()
		return trial
	}
	cfg := base
	cfg.StrategyParams = params

	strategy, err := s.registry.Create(cfg.Strategy, cfg.StrategyParams)
	if err != nil {
		trial.Error = err.Error()
		return trial
	}
	engine, err := domain.NewEngine(cfg, strategy, s.logger)
	if err != nil {
		trial.Error = err.Error()
		return trial
	}
	result, err := engine.Run(ctx, domain.NewSliceFeed(bars))
	if err != nil {
		trial.Error = err.Error()
		return trial
	}

	trial.Report = &result.Report
	trial.Objective = objectiveValue(&result.Report, objective)
	return trial
}

func normalizeObjective(objective string) (string, error) {
	switch objective {
	case "":
		return ObjectiveSharpe, nil
	case ObjectiveSharpe, ObjectiveTotalReturn, ObjectiveCalmar:
		return objective, nil
	default:
		return "", &domain.ConfigError{Field: "objective",
			Reason: fmt.Sprintf("unknown objective %q", objective)}
	}
}

func objectiveValue(report *domain.PerformanceReport, objective string) float64 {
	switch objective {
	case ObjectiveTotalReturn:
		return report.TotalReturnPct.InexactFloat64()
	case ObjectiveCalmar:
		return report.CalmarRatio.InexactFloat64()
	default:
		return report.SharpeRatio.InexactFloat64()
	}
}

// expandCombos 展开待试验的参数组合。
func expandCombos(spec SweepSpec) ([]map[string]any, error) {
	if len(spec.Grid) > 0 {
		return expandGrid(spec.Grid)
	}
	if spec.Random != nil {
		return sampleRandom(spec.Random, spec.Seed)
	}
	return nil, &domain.ConfigError{Field: "grid/random", Reason: "either grid or random required"}
}

// expandGrid 候选值列表的笛卡尔积，参数名按字典序展开保证组合顺序稳定。
func expandGrid(grid map[string][]any) ([]map[string]any, error) {
	names := make([]string, 0, len(grid))
	for name, values := range grid {
		if len(values) == 0 {
			return nil, &domain.ConfigError{Field: "grid",
				Reason: fmt.Sprintf("parameter %q has no candidate values", name)}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	combos := []map[string]any{{}}
	for _, name := range names {
		next := make([]map[string]any, 0, len(combos)*len(grid[name]))
		for _, combo := range combos {
			for _, value := range grid[name] {
				merged := make(map[string]any, len(combo)+1)
				for k, v := range combo {
					merged[k] = v
				}
				merged[name] = value
				next = append(next, merged)
			}
		}
		combos = next
	}
	return combos, nil
}

// sampleRandom 在各参数区间内独立均匀采样。
func sampleRandom(rs *RandomSearch, seed int64) ([]map[string]any, error) {
	if rs.Samples <= 0 {
		return nil, &domain.ConfigError{Field: "random.samples", Reason: "must be positive"}
	}
	if len(rs.Ranges) == 0 {
		return nil, &domain.ConfigError{Field: "random.ranges", Reason: "at least one range required"}
	}
	names := make([]string, 0, len(rs.Ranges))
	for name, bounds := range rs.Ranges {
		if bounds[0] > bounds[1] {
			return nil, &domain.ConfigError{Field: "random.ranges",
				Reason: fmt.Sprintf("parameter %q range inverted", name)}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	combos := make([]map[string]any, 0, rs.Samples)
	for i := 0; i < rs.Samples; i++ {
		combo := make(map[string]any, len(names))
		for _, name := range names {
			bounds := rs.Ranges[name]
			combo[name] = drawValue(rng, bounds[0], bounds[1])
		}
		combos = append(combos, combo)
	}
	return combos, nil
}

// drawValue 区间内均匀取值，两端均为整数时按整数采样，
// 保证整型策略参数反序列化不因小数落点失败。
func drawValue(rng *rand.Rand, low, high float64) any {
	if low == high {
		if isIntegral(low) {
			return int64(low)
		}
		return low
	}
	if isIntegral(low) && isIntegral(high) {
		return int64(low) + rng.Int63n(int64(high)-int64(low)+1)
	}
	return low + rng.Float64()*(high-low)
}

func isIntegral(v float64) bool {
	return v == math.Trunc(v)
}

// mergeParams 把扫描参数覆盖到基准策略参数上。
func mergeParams(base json.RawMessage, overrides map[string]any) (json.RawMessage, error) {
	merged := make(map[string]any, len(overrides))
	if len(base) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, &domain.ConfigError{Field: "strategy_params", Reason: err.Error()}
		}
	}
	for name, value := range overrides {
		merged[name] = value
	}
	return json.Marshal(merged)
}

func bestParams(best *SweepTrial) map[string]any {
	if best == nil {
		return nil
	}
	return best.Params
}
