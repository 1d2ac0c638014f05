// 生成摘要：实现回测服务的 MySQL 仓储层，基于 GORM。
// 变更说明：任务仓储支持分页查询与事务内更新，事务句柄经 context 传递，
// 终态落库与 outbox 事件写入共用同一事务。

package mysql

import (
	"context"
	"errors"

	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"

	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

type runRepository struct {
	db *gorm.DB
}

// NewBacktestRunRepository 创建回测任务仓储
func NewBacktestRunRepository(db *gorm.DB) domain.BacktestRunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

func (r *runRepository) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}

func (r *runRepository) Save(ctx context.Context, run *domain.BacktestRun) error {
	return r.getDB(ctx).WithContext(ctx).Create(run).Error
}

func (r *runRepository) Update(ctx context.Context, run *domain.BacktestRun) error {
	return r.getDB(ctx).WithContext(ctx).Save(run).Error
}

func (r *runRepository) FindByRunID(ctx context.Context, runID string) (*domain.BacktestRun, error) {
	var run domain.BacktestRun
	err := r.getDB(ctx).WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) List(ctx context.Context, status domain.RunStatus, offset, limit int) ([]*domain.BacktestRun, int64, error) {
	query := r.getDB(ctx).WithContext(ctx).Model(&domain.BacktestRun{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var runs []*domain.BacktestRun
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (r *runRepository) Delete(ctx context.Context, runID string) error {
	return r.getDB(ctx).WithContext(ctx).Where("run_id = ?", runID).Delete(&domain.BacktestRun{}).Error
}
