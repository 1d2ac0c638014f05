package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

// RunSummaryCache 基于 Redis 的回测摘要读模型缓存。
type RunSummaryCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRunSummaryCache 创建回测摘要缓存。
func NewRunSummaryCache(client redis.UniversalClient) *RunSummaryCache {
	return &RunSummaryCache{
		client: client,
		prefix: "backtest:summary:",
		ttl:    time.Hour,
	}
}

func (c *RunSummaryCache) Save(ctx context.Context, summary *domain.RunSummary) error {
	if summary == nil {
		return nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	return c.client.Set(ctx, c.prefix+summary.RunID, data, c.ttl).Err()
}

func (c *RunSummaryCache) Get(ctx context.Context, runID string) (*domain.RunSummary, error) {
	data, err := c.client.Get(ctx, c.prefix+runID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run summary from redis: %w", err)
	}
	var summary domain.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
	}
	return &summary, nil
}

func (c *RunSummaryCache) Delete(ctx context.Context, runID string) error {
	return c.client.Del(ctx, c.prefix+runID).Err()
}
