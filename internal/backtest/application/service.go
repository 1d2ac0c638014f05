// Package application 回测应用层
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/messagequeue"

	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

// CommandService 回测命令服务。驱动内核执行回测，
// 持久化任务与结果，并通过 outbox 发布终态集成事件。
type CommandService struct {
	runRepo   domain.BacktestRunRepository
	barRepo   domain.BarRepository
	cache     domain.RunSummaryCache
	registry  *domain.StrategyRegistry
	publisher messagequeue.EventPublisher
	logger    *slog.Logger
}

// NewCommandService 创建命令服务
func NewCommandService(
	runRepo domain.BacktestRunRepository,
	barRepo domain.BarRepository,
	cache domain.RunSummaryCache,
	registry *domain.StrategyRegistry,
	publisher messagequeue.EventPublisher,
	logger *slog.Logger,
) *CommandService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandService{
		runRepo:   runRepo,
		barRepo:   barRepo,
		cache:     cache,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
	}
}

// RunBacktest 同步执行一次回测。配置错误与未知策略名即时返回，
// 不落任务行；执行期失败把任务置为 FAILED 后返回原始错误。
func (s *CommandService) RunBacktest(ctx context.Context, cfg domain.RunConfig) (string, *domain.Result, error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, err
	}
	strategy, err := s.registry.Create(cfg.Strategy, cfg.StrategyParams)
	if err != nil {
		return "", nil, err
	}

	runID := fmt.Sprintf("BT-%d", idgen.GenID())
	run, err := domain.NewBacktestRun(runID, cfg)
	if err != nil {
		return "", nil, err
	}
	if err := s.runRepo.Save(ctx, run); err != nil {
		return "", nil, fmt.Errorf("save backtest run: %w", err)
	}
	s.logger.InfoContext(ctx, "backtest run created",
		"run_id", runID, "strategy", cfg.Strategy, "symbols", cfg.Symbols)

	if err := run.Begin(); err != nil {
		return runID, nil, err
	}
	if err := s.runRepo.Update(ctx, run); err != nil {
		return runID, nil, fmt.Errorf("update backtest run: %w", err)
	}

	result, err := s.execute(ctx, run, cfg, strategy)
	if err != nil {
		run.Fail(err.Error())
		if finErr := s.finalize(ctx, run); finErr != nil {
			s.logger.ErrorContext(ctx, "failed to persist failed run",
				"run_id", runID, "error", finErr)
		}
		return runID, nil, err
	}

	if err := run.Complete(result); err != nil {
		return runID, result, err
	}
	if err := s.finalize(ctx, run); err != nil {
		return runID, result, fmt.Errorf("persist run result: %w", err)
	}
	s.refreshCache(ctx, run)

	s.logger.InfoContext(ctx, "backtest run completed",
		"run_id", runID,
		"bars", result.BarCount,
		"trades", result.Report.TradeCount,
		"total_return_pct", result.Report.TotalReturnPct)
	return runID, result, nil
}

// execute 加载行情并运行内核。
func (s *CommandService) execute(ctx context.Context, run *domain.BacktestRun, cfg domain.RunConfig, strategy domain.Strategy) (*domain.Result, error) {
	bars, err := s.loadBars(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine, err := domain.NewEngine(cfg, strategy, s.logger)
	if err != nil {
		return nil, err
	}
	result, err := engine.Run(ctx, domain.NewSliceFeed(bars))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", run.RunID, err)
	}
	return result, nil
}

func (s *CommandService) loadBars(ctx context.Context, cfg domain.RunConfig) ([]domain.Bar, error) {
	var bars []domain.Bar
	for _, symbol := range cfg.Symbols {
		part, err := s.barRepo.GetHistoricalData(ctx, symbol, cfg.Start, cfg.End)
		if err != nil {
			return nil, fmt.Errorf("load bars for %s: %w", symbol, err)
		}
		bars = append(bars, part...)
	}
	return bars, nil
}

// finalize 在单个事务里落任务终态并发布集成事件。
func (s *CommandService) finalize(ctx context.Context, run *domain.BacktestRun) error {
	return s.runRepo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.runRepo.Update(txCtx, run); err != nil {
			return err
		}
		if s.publisher == nil {
			return nil
		}
		event := domain.RunCompletedEvent{
			RunID:      run.RunID,
			Strategy:   run.Strategy,
			Symbols:    run.SymbolList(),
			Status:     run.Status,
			ErrorMsg:   run.ErrorMsg,
			OccurredOn: time.Now(),
		}
		if run.Status == domain.RunStatusCompleted {
			if summary, err := run.Summary(); err == nil && summary.Report != nil {
				event.TotalReturnPct = summary.Report.TotalReturnPct.String()
				event.SharpeRatio = summary.Report.SharpeRatio.InexactFloat64()
			}
		}
		return s.publisher.PublishInTx(ctx, contextx.GetTx(txCtx), domain.RunCompletedEventType, run.RunID, event)
	})
}

// refreshCache 刷新摘要缓存，失败只记日志。
func (s *CommandService) refreshCache(ctx context.Context, run *domain.BacktestRun) {
	if s.cache == nil {
		return
	}
	summary, err := run.Summary()
	if err != nil {
		s.logger.WarnContext(ctx, "failed to build run summary", "run_id", run.RunID, "error", err)
		return
	}
	if err := s.cache.Save(ctx, summary); err != nil {
		s.logger.WarnContext(ctx, "failed to cache run summary", "run_id", run.RunID, "error", err)
	}
}

// ImportBars 批量导入历史K线，品种与时间补齐由调用方负责。
func (s *CommandService) ImportBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	for i := range bars {
		if bars[i].Symbol == "" || bars[i].Timestamp.IsZero() {
			return &domain.ConfigError{Field: "bars", Reason: fmt.Sprintf("bar %d missing symbol or timestamp", i)}
		}
	}
	if err := s.barRepo.SaveBars(ctx, bars); err != nil {
		return fmt.Errorf("save bars: %w", err)
	}
	s.logger.InfoContext(ctx, "bars imported", "count", len(bars))
	return nil
}

// DeleteRun 删除回测任务并失效摘要缓存。
func (s *CommandService) DeleteRun(ctx context.Context, runID string) error {
	run, err := s.runRepo.FindByRunID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	if err := s.runRepo.Delete(ctx, runID); err != nil {
		return fmt.Errorf("delete backtest run: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, runID); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate run summary cache", "run_id", runID, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "backtest run deleted", "run_id", runID)
	return nil
}
