package domain

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Bar 单根K线。
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// BarRepository 历史行情仓储。
type BarRepository interface {
	// GetHistoricalData 获取指定品种在时间区间内的K线，按时间升序返回。
	GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
	// SaveBars 批量写入K线。
	SaveBars(ctx context.Context, bars []Bar) error
}

// BarFeed 按时间顺序逐根提供K线的行情源。
type BarFeed interface {
	// Next 返回下一根K线，行情耗尽时第二个返回值为 false。
	Next() (Bar, bool)
	// Len 返回行情源中的K线总数。
	Len() int
}

// SliceFeed 内存行情源。构造时按时间戳稳定排序，
// 同一时刻多品种K线保持输入顺序。
type SliceFeed struct {
	bars []Bar
	next int
}

func NewSliceFeed(bars []Bar) *SliceFeed {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &SliceFeed{bars: sorted}
}

func (f *SliceFeed) Next() (Bar, bool) {
	if f.next >= len(f.bars) {
		return Bar{}, false
	}
	bar := f.bars[f.next]
	f.next++
	return bar, true
}

func (f *SliceFeed) Len() int { return len(f.bars) }

// Reset 重置游标，供同一份行情多次回放。
func (f *SliceFeed) Reset() { f.next = 0 }

// SameSession 判断两个时刻是否属于同一交易日。
// 交易日以K线时间戳的日历日期为准，跨日即触发 T+1 解锁。
func SameSession(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
