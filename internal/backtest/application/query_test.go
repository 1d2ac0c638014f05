package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

func newQueryFixture() (*QueryService, *memoryRunRepo, *memoryCache) {
	runRepo := &memoryRunRepo{}
	cache := newMemoryCache()
	svc := NewQueryService(runRepo, cache, domain.NewStrategyRegistry(), testLogger())
	return svc, runRepo, cache
}

// completedRun 构造已完成的任务实体，结果为空报告。
func completedRun(t *testing.T, runID string) *domain.BacktestRun {
	t.Helper()
	cfg := domain.DefaultRunConfig()
	cfg.Symbols = []string{"600000"}
	cfg.Start = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cfg.End = cfg.Start.AddDate(0, 1, 0)

	run, err := domain.NewBacktestRun(runID, cfg)
	require.NoError(t, err)
	require.NoError(t, run.Begin())
	require.NoError(t, run.Complete(&domain.Result{Config: cfg}))
	return run
}

func TestGetRunBackfillsCache(t *testing.T) {
	svc, runRepo, cache := newQueryFixture()
	require.NoError(t, runRepo.Save(context.Background(), completedRun(t, "BT-1001")))

	summary, err := svc.GetRun(context.Background(), "BT-1001")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, summary.Status)
	require.NotNil(t, summary.Report)

	cached, err := cache.Get(context.Background(), "BT-1001")
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

func TestGetRunCacheHit(t *testing.T) {
	svc, _, cache := newQueryFixture()
	require.NoError(t, cache.Save(context.Background(), &domain.RunSummary{
		RunID:  "BT-7",
		Status: domain.RunStatusCompleted,
	}))

	// 仓储为空，命中缓存才可能成功。
	summary, err := svc.GetRun(context.Background(), "BT-7")
	require.NoError(t, err)
	assert.Equal(t, "BT-7", summary.RunID)
}

func TestGetRunNotFound(t *testing.T) {
	svc, _, _ := newQueryFixture()
	_, err := svc.GetRun(context.Background(), "BT-404")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestGetResult(t *testing.T) {
	svc, runRepo, _ := newQueryFixture()
	require.NoError(t, runRepo.Save(context.Background(), completedRun(t, "BT-2")))

	result, err := svc.GetResult(context.Background(), "BT-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"600000"}, result.Config.Symbols)

	_, err = svc.GetResult(context.Background(), "BT-404")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestListRunsPaging(t *testing.T) {
	svc, runRepo, _ := newQueryFixture()
	for i := 0; i < 5; i++ {
		require.NoError(t, runRepo.Save(context.Background(), completedRun(t, fmt.Sprintf("BT-%d", i))))
	}

	items, total, err := svc.ListRuns(context.Background(), "", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, items, 2)

	items, total, err = svc.ListRuns(context.Background(), "", 3, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, items, 1)

	// 非法分页参数回落到默认值。
	items, total, err = svc.ListRuns(context.Background(), "", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, items, 5)

	items, total, err = svc.ListRuns(context.Background(), domain.RunStatusFailed, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestListStrategies(t *testing.T) {
	svc, _, _ := newQueryFixture()
	assert.Equal(t, []string{domain.StrategyMACross, domain.StrategyRSI}, svc.ListStrategies())
}
