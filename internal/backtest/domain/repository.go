package domain

import (
	"context"
)

// BacktestRunRepository 回测任务仓储接口
type BacktestRunRepository interface {
	Save(ctx context.Context, run *BacktestRun) error
	Update(ctx context.Context, run *BacktestRun) error
	FindByRunID(ctx context.Context, runID string) (*BacktestRun, error)
	List(ctx context.Context, status RunStatus, offset, limit int) ([]*BacktestRun, int64, error)
	Delete(ctx context.Context, runID string) error
	// WithTx 在单个数据库事务内执行 fn，事务句柄通过 context 向下传递。
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// RunSummaryCache 回测摘要读模型缓存
type RunSummaryCache interface {
	Save(ctx context.Context, summary *RunSummary) error
	Get(ctx context.Context, runID string) (*RunSummary, error)
	Delete(ctx context.Context, runID string) error
}
