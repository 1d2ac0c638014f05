package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/quantbacktest/internal/backtest/application"
	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

// RunRequestHandler 消费回测请求消息，提供异步提交入口。
type RunRequestHandler struct {
	command *application.CommandService
}

func NewRunRequestHandler(command *application.CommandService) *RunRequestHandler {
	return &RunRequestHandler{command: command}
}

// Handle 消息体为回测配置 JSON，在默认配置之上覆盖。
// 回测失败已落库并发布事件，不再触发消息重试。
func (h *RunRequestHandler) Handle(ctx context.Context, msg kafka.Message) error {
	cfg := domain.DefaultRunConfig()
	if err := json.Unmarshal(msg.Value, &cfg); err != nil {
		slog.Error("failed to decode backtest request", "error", err)
		return err
	}

	slog.Info("handling backtest request", "strategy", cfg.Strategy, "symbols", cfg.Symbols)

	runID, _, err := h.command.RunBacktest(ctx, cfg)
	if err != nil {
		slog.Error("backtest request failed", "run_id", runID, "error", err)
		return nil
	}

	slog.Info("backtest request completed", "run_id", runID)
	return nil
}
