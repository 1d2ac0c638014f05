package application

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

// memoryRunRepo 内存任务仓储。
type memoryRunRepo struct {
	mu   sync.Mutex
	runs []*domain.BacktestRun
}

func (r *memoryRunRepo) Save(_ context.Context, run *domain.BacktestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *memoryRunRepo) Update(_ context.Context, run *domain.BacktestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].RunID == run.RunID {
			r.runs[i] = run
		}
	}
	return nil
}

func (r *memoryRunRepo) FindByRunID(_ context.Context, runID string) (*domain.BacktestRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.RunID == runID {
			return run, nil
		}
	}
	return nil, nil
}

func (r *memoryRunRepo) List(_ context.Context, status domain.RunStatus, offset, limit int) ([]*domain.BacktestRun, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var filtered []*domain.BacktestRun
	for _, run := range r.runs {
		if status == "" || run.Status == status {
			filtered = append(filtered, run)
		}
	}
	total := int64(len(filtered))
	if offset >= len(filtered) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], total, nil
}

func (r *memoryRunRepo) Delete(_ context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.runs[:0]
	for _, run := range r.runs {
		if run.RunID != runID {
			kept = append(kept, run)
		}
	}
	r.runs = kept
	return nil
}

func (r *memoryRunRepo) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// memoryBarRepo 内存行情仓储。
type memoryBarRepo struct {
	mu   sync.Mutex
	bars []domain.Bar
}

func (r *memoryBarRepo) GetHistoricalData(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Bar
	for _, bar := range r.bars {
		if bar.Symbol == symbol && !bar.Timestamp.Before(start) && !bar.Timestamp.After(end) {
			out = append(out, bar)
		}
	}
	return out, nil
}

func (r *memoryBarRepo) SaveBars(_ context.Context, bars []domain.Bar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars = append(r.bars, bars...)
	return nil
}

// memoryCache 内存摘要缓存，未命中返回 nil。
type memoryCache struct {
	mu        sync.Mutex
	summaries map[string]*domain.RunSummary
}

func newMemoryCache() *memoryCache {
	return &memoryCache{summaries: make(map[string]*domain.RunSummary)}
}

func (c *memoryCache) Save(_ context.Context, summary *domain.RunSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries[summary.RunID] = summary
	return nil
}

func (c *memoryCache) Get(_ context.Context, runID string) (*domain.RunSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaries[runID], nil
}

func (c *memoryCache) Delete(_ context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.summaries, runID)
	return nil
}

type publishedEvent struct {
	topic string
	key   string
	event any
}

// capturePublisher 记录发布调用的事件发布者。
type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *capturePublisher) Publish(_ context.Context, topic string, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, key: key, event: event})
	return nil
}

func (p *capturePublisher) PublishInTx(ctx context.Context, _ any, topic string, key string, event any) error {
	return p.Publish(ctx, topic, key, event)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// trendBars 构造涨跌交替的日线序列，保证均线类策略在窗口内出现交叉。
func trendBars(symbol string, n int) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	price := decimal.NewFromInt(10)
	step := decimal.NewFromFloat(0.3)
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		if i%12 < 6 {
			price = price.Add(step)
		} else {
			price = price.Sub(step)
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      price,
			High:      price.Add(step),
			Low:       price.Sub(step),
			Close:     price,
			Volume:    decimal.NewFromInt(1_000_000),
		})
	}
	return bars
}

func testConfig(bars []domain.Bar) domain.RunConfig {
	cfg := domain.DefaultRunConfig()
	cfg.Symbols = []string{bars[0].Symbol}
	cfg.Start = bars[0].Timestamp
	cfg.End = bars[len(bars)-1].Timestamp
	cfg.StrategyParams = json.RawMessage(`{"fast":2,"slow":6}`)
	return cfg
}

func newTestService(bars []domain.Bar) (*CommandService, *memoryRunRepo, *memoryBarRepo, *memoryCache, *capturePublisher) {
	runRepo := &memoryRunRepo{}
	barRepo := &memoryBarRepo{bars: bars}
	cache := newMemoryCache()
	publisher := &capturePublisher{}
	svc := NewCommandService(runRepo, barRepo, cache, domain.NewStrategyRegistry(), publisher, testLogger())
	return svc, runRepo, barRepo, cache, publisher
}

func TestRunBacktestLifecycle(t *testing.T) {
	bars := trendBars("600000", 40)
	svc, runRepo, _, cache, publisher := newTestService(bars)

	runID, result, err := svc.RunBacktest(context.Background(), testConfig(bars))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, strings.HasPrefix(runID, "BT-"))
	assert.Equal(t, 40, result.BarCount)

	run, err := runRepo.FindByRunID(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.NotEmpty(t, run.ResultJSON)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, domain.RunCompletedEventType, publisher.events[0].topic)
	assert.Equal(t, runID, publisher.events[0].key)
	event, ok := publisher.events[0].event.(domain.RunCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusCompleted, event.Status)
	assert.Empty(t, event.ErrorMsg)

	cached, err := cache.Get(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, domain.RunStatusCompleted, cached.Status)
	assert.NotNil(t, cached.Report)
}

func TestRunBacktestEmptyFeedFails(t *testing.T) {
	svc, runRepo, _, _, publisher := newTestService(nil)
	cfg := testConfig(trendBars("600000", 10))

	runID, result, err := svc.RunBacktest(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmptyDataFeed)
	assert.Nil(t, result)
	require.NotEmpty(t, runID)

	run, err := runRepo.FindByRunID(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMsg)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, publisher.events, 1)
	event, ok := publisher.events[0].event.(domain.RunCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusFailed, event.Status)
	assert.NotEmpty(t, event.ErrorMsg)
}

func TestRunBacktestInvalidConfig(t *testing.T) {
	svc, runRepo, _, _, publisher := newTestService(nil)

	runID, _, err := svc.RunBacktest(context.Background(), domain.DefaultRunConfig())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Empty(t, runID)
	assert.Empty(t, runRepo.runs)
	assert.Empty(t, publisher.events)
}

func TestRunBacktestUnknownStrategy(t *testing.T) {
	bars := trendBars("600000", 10)
	svc, runRepo, _, _, _ := newTestService(bars)
	cfg := testConfig(bars)
	cfg.Strategy = "no_such_strategy"

	runID, _, err := svc.RunBacktest(context.Background(), cfg)
	assert.ErrorIs(t, err, domain.ErrStrategyNotFound)
	assert.Empty(t, runID)
	assert.Empty(t, runRepo.runs)
}

func TestImportBars(t *testing.T) {
	svc, _, barRepo, _, _ := newTestService(nil)

	require.NoError(t, svc.ImportBars(context.Background(), nil))
	assert.Empty(t, barRepo.bars)

	require.NoError(t, svc.ImportBars(context.Background(), trendBars("600519", 5)))
	assert.Len(t, barRepo.bars, 5)

	err := svc.ImportBars(context.Background(), []domain.Bar{{Timestamp: time.Now()}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestDeleteRun(t *testing.T) {
	bars := trendBars("600000", 40)
	svc, runRepo, _, cache, _ := newTestService(bars)

	runID, _, err := svc.RunBacktest(context.Background(), testConfig(bars))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRun(context.Background(), runID))
	run, err := runRepo.FindByRunID(context.Background(), runID)
	require.NoError(t, err)
	assert.Nil(t, run)
	cached, err := cache.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Nil(t, cached)

	assert.ErrorIs(t, svc.DeleteRun(context.Background(), runID), domain.ErrRunNotFound)
}
