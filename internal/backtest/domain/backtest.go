package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// RunStatus 回测任务状态。
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// RunCompletedEventType 回测终态集成事件主题，成功与失败共用，以 Status 区分。
const RunCompletedEventType = "backtest.completed"

// RunRequestTopic 异步回测请求主题，消息体为 RunConfig JSON。
const RunRequestTopic = "backtest.requests"

// RunCompletedEvent 回测终态集成事件，随结果行同事务写入 outbox。
type RunCompletedEvent struct {
	RunID          string    `json:"run_id"`
	Strategy       string    `json:"strategy"`
	Symbols        []string  `json:"symbols"`
	Status         RunStatus `json:"status"`
	TotalReturnPct string    `json:"total_return_pct,omitempty"`
	SharpeRatio    float64   `json:"sharpe_ratio,omitempty"`
	ErrorMsg       string    `json:"error_msg,omitempty"`
	OccurredOn     time.Time `json:"occurred_on"`
}

// BacktestRun 回测任务实体，记录一次回测的配置、状态与结果。
type BacktestRun struct {
	gorm.Model
	RunID      string     `gorm:"column:run_id;type:varchar(32);uniqueIndex;not null"`
	Strategy   string     `gorm:"column:strategy;type:varchar(64);index;not null"`
	Symbols    string     `gorm:"column:symbols;type:varchar(512);not null"` // 逗号分隔
	StartTime  time.Time  `gorm:"column:start_time;not null"`
	EndTime    time.Time  `gorm:"column:end_time;not null"`
	Status     RunStatus  `gorm:"column:status;type:varchar(16);not null;default:'PENDING'"`
	ConfigJSON string     `gorm:"column:config_json;type:json"`
	ResultJSON string     `gorm:"column:result_json;type:json"`
	ErrorMsg   string     `gorm:"column:error_msg;type:varchar(512)"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
}

// TableName 表名
func (BacktestRun) TableName() string {
	return "backtest_runs"
}

// NewBacktestRun 由配置创建待执行的回测任务。
func NewBacktestRun(runID string, cfg RunConfig) (*BacktestRun, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal run config: %w", err)
	}
	return &BacktestRun{
		RunID:      runID,
		Strategy:   cfg.Strategy,
		Symbols:    strings.Join(cfg.Symbols, ","),
		StartTime:  cfg.Start,
		EndTime:    cfg.End,
		Status:     RunStatusPending,
		ConfigJSON: string(raw),
	}, nil
}

// Begin 任务开始执行。
func (r *BacktestRun) Begin() error {
	if r.Status != RunStatusPending {
		return fmt.Errorf("run %s cannot begin in status %s", r.RunID, r.Status)
	}
	r.Status = RunStatusRunning
	return nil
}

// Complete 任务执行成功，落盘结果。
func (r *BacktestRun) Complete(result *Result) error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("run %s cannot complete in status %s", r.RunID, r.Status)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	now := time.Now()
	r.Status = RunStatusCompleted
	r.ResultJSON = string(raw)
	r.FinishedAt = &now
	return nil
}

// Fail 任务执行失败，记录失败原因。
func (r *BacktestRun) Fail(reason string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.ErrorMsg = reason
	r.FinishedAt = &now
}

// SymbolList 拆出品种列表。
func (r *BacktestRun) SymbolList() []string {
	if r.Symbols == "" {
		return nil
	}
	return strings.Split(r.Symbols, ",")
}

// Config 反序列化任务配置。
func (r *BacktestRun) Config() (RunConfig, error) {
	cfg := DefaultRunConfig()
	if r.ConfigJSON == "" {
		return cfg, fmt.Errorf("run %s has no config", r.RunID)
	}
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal run config: %w", err)
	}
	return cfg, nil
}

// Result 反序列化全量回测结果，仅已完成的任务持有结果。
func (r *BacktestRun) Result() (*Result, error) {
	if r.ResultJSON == "" {
		return nil, fmt.Errorf("run %s has no result (status %s)", r.RunID, r.Status)
	}
	var result Result
	if err := json.Unmarshal([]byte(r.ResultJSON), &result); err != nil {
		return nil, fmt.Errorf("unmarshal run result: %w", err)
	}
	return &result, nil
}

// RunSummary 回测摘要读模型，只含绩效报告，不带权益曲线与成交明细。
type RunSummary struct {
	RunID      string             `json:"run_id"`
	Strategy   string             `json:"strategy"`
	Symbols    []string           `json:"symbols"`
	Status     RunStatus          `json:"status"`
	Report     *PerformanceReport `json:"report,omitempty"`
	ErrorMsg   string             `json:"error_msg,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// Summary 从任务实体提取摘要。已完成任务附带绩效报告。
func (r *BacktestRun) Summary() (*RunSummary, error) {
	summary := &RunSummary{
		RunID:      r.RunID,
		Strategy:   r.Strategy,
		Symbols:    r.SymbolList(),
		Status:     r.Status,
		ErrorMsg:   r.ErrorMsg,
		CreatedAt:  r.CreatedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Status == RunStatusCompleted && r.ResultJSON != "" {
		var result struct {
			Report PerformanceReport `json:"report"`
		}
		if err := json.Unmarshal([]byte(r.ResultJSON), &result); err != nil {
			return nil, fmt.Errorf("unmarshal run result: %w", err)
		}
		summary.Report = &result.Report
	}
	return summary, nil
}
