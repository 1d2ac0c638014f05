package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

// QueryService 回测查询服务。摘要读取走 Redis 缓存，未命中回源 MySQL 并回填。
type QueryService struct {
	runRepo  domain.BacktestRunRepository
	cache    domain.RunSummaryCache
	registry *domain.StrategyRegistry
	logger   *slog.Logger
}

// NewQueryService 创建查询服务
func NewQueryService(
	runRepo domain.BacktestRunRepository,
	cache domain.RunSummaryCache,
	registry *domain.StrategyRegistry,
	logger *slog.Logger,
) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		runRepo:  runRepo,
		cache:    cache,
		registry: registry,
		logger:   logger,
	}
}

// GetRun 获取回测摘要。
func (s *QueryService) GetRun(ctx context.Context, runID string) (*domain.RunSummary, error) {
	if s.cache != nil {
		summary, err := s.cache.Get(ctx, runID)
		if err != nil {
			s.logger.WarnContext(ctx, "run summary cache read failed", "run_id", runID, "error", err)
		} else if summary != nil {
			return summary, nil
		}
	}

	run, err := s.runRepo.FindByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	summary, err := run.Summary()
	if err != nil {
		return nil, err
	}
	if s.cache != nil && run.Status == domain.RunStatusCompleted {
		if err := s.cache.Save(ctx, summary); err != nil {
			s.logger.WarnContext(ctx, "run summary cache backfill failed", "run_id", runID, "error", err)
		}
	}
	return summary, nil
}

// GetResult 获取全量回测结果，含权益曲线、成交与拒单明细。
func (s *QueryService) GetResult(ctx context.Context, runID string) (*domain.Result, error) {
	run, err := s.runRepo.FindByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return run.Result()
}

// ListRuns 分页列出回测任务，status 为空时不过滤。
func (s *QueryService) ListRuns(ctx context.Context, status domain.RunStatus, page, size int) ([]*domain.RunSummary, int64, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	runs, total, err := s.runRepo.List(ctx, status, (page-1)*size, size)
	if err != nil {
		return nil, 0, err
	}
	summaries := make([]*domain.RunSummary, 0, len(runs))
	for _, run := range runs {
		summary, err := run.Summary()
		if err != nil {
			s.logger.WarnContext(ctx, "skip run with broken result payload", "run_id", run.RunID, "error", err)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, total, nil
}

// ListStrategies 列出已注册的策略名。
func (s *QueryService) ListStrategies() []string {
	return s.registry.Names()
}
