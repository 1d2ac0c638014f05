package mysql

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

// BarPO K线持久化对象
type BarPO struct {
	ID        uint            `gorm:"primarykey"`
	Symbol    string          `gorm:"column:symbol;type:varchar(20);index:idx_symbol_time;not null"`
	Timestamp time.Time       `gorm:"column:timestamp;index:idx_symbol_time;not null"`
	Open      decimal.Decimal `gorm:"column:open;type:decimal(32,18);not null"`
	High      decimal.Decimal `gorm:"column:high;type:decimal(32,18);not null"`
	Low       decimal.Decimal `gorm:"column:low;type:decimal(32,18);not null"`
	Close     decimal.Decimal `gorm:"column:close;type:decimal(32,18);not null"`
	Volume    decimal.Decimal `gorm:"column:volume;type:decimal(32,18);not null"`
	CreatedAt time.Time
}

// TableName 表名
func (BarPO) TableName() string { return "backtest_bars" }

func (po *BarPO) ToDomain() domain.Bar {
	return domain.Bar{
		Symbol:    po.Symbol,
		Timestamp: po.Timestamp,
		Open:      po.Open,
		High:      po.High,
		Low:       po.Low,
		Close:     po.Close,
		Volume:    po.Volume,
	}
}

func (po *BarPO) FromDomain(bar domain.Bar) {
	po.Symbol = bar.Symbol
	po.Timestamp = bar.Timestamp
	po.Open = bar.Open
	po.High = bar.High
	po.Low = bar.Low
	po.Close = bar.Close
	po.Volume = bar.Volume
}

type barRepository struct {
	db *gorm.DB
}

// NewBarRepository 创建历史行情仓储
func NewBarRepository(db *gorm.DB) domain.BarRepository {
	return &barRepository{db: db}
}

func (r *barRepository) GetHistoricalData(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var pos []BarPO
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timestamp >= ? AND timestamp <= ?", symbol, start, end).
		Order("timestamp ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	bars := make([]domain.Bar, 0, len(pos))
	for i := range pos {
		bars = append(bars, pos[i].ToDomain())
	}
	return bars, nil
}

func (r *barRepository) SaveBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	pos := make([]BarPO, len(bars))
	for i := range bars {
		pos[i].FromDomain(bars[i])
	}
	return r.db.WithContext(ctx).CreateInBatches(pos, 500).Error
}
