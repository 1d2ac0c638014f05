package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/quantbacktest/internal/backtest/application"
	"github.com/wyfcoding/quantbacktest/internal/backtest/domain"
)

// BacktestHandler 回测 HTTP 接口。
type BacktestHandler struct {
	command *application.CommandService
	query   *application.QueryService
}

func NewBacktestHandler(command *application.CommandService, query *application.QueryService) *BacktestHandler {
	return &BacktestHandler{command: command, query: query}
}

func (h *BacktestHandler) RegisterRoutes(r *gin.RouterGroup) {
	backtests := r.Group("/backtests")
	{
		backtests.POST("", h.RunBacktest)
		backtests.POST("/sweep", h.RunSweep)
		backtests.GET("", h.ListRuns)
		backtests.GET("/:id", h.GetRun)
		backtests.GET("/:id/result", h.GetResult)
		backtests.DELETE("/:id", h.DeleteRun)
	}
	r.GET("/strategies", h.ListStrategies)
	r.POST("/bars", h.ImportBars)
}

// RunBacktest 同步执行一次回测，请求体在默认配置之上覆盖。
func (h *BacktestHandler) RunBacktest(c *gin.Context) {
	cfg := domain.DefaultRunConfig()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID, result, err := h.command.RunBacktest(c.Request.Context(), cfg)
	if err != nil {
		resp := gin.H{"error": err.Error()}
		if runID != "" {
			resp["run_id"] = runID
		}
		c.JSON(statusFromError(err), resp)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run_id": runID, "result": result})
}

// RunSweep 执行参数扫描并返回排行。
func (h *BacktestHandler) RunSweep(c *gin.Context) {
	spec := application.SweepSpec{Config: domain.DefaultRunConfig()}
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.command.RunSweep(c.Request.Context(), spec)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *BacktestHandler) ListRuns(c *gin.Context) {
	status := domain.RunStatus(c.Query("status"))
	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil {
		page = p
	}
	size := 20
	if s, err := strconv.Atoi(c.Query("size")); err == nil {
		size = s
	}

	items, total, err := h.query.ListRuns(c.Request.Context(), status, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "page": page, "size": size, "items": items})
}

func (h *BacktestHandler) GetRun(c *gin.Context) {
	summary, err := h.query.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetResult 返回完整回测结果，含权益曲线与成交明细。
func (h *BacktestHandler) GetResult(c *gin.Context) {
	result, err := h.query.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *BacktestHandler) DeleteRun(c *gin.Context) {
	runID := c.Param("id")
	if err := h.command.DeleteRun(c.Request.Context(), runID); err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "run deleted", "run_id": runID})
}

func (h *BacktestHandler) ListStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": h.query.ListStrategies()})
}

type importBarsRequest struct {
	Bars []barPayload `json:"bars" binding:"required"`
}

type barPayload struct {
	Symbol    string          `json:"symbol" binding:"required"`
	Timestamp time.Time       `json:"timestamp" binding:"required"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// ImportBars 导入历史 K 线，供后续回测使用。
func (h *BacktestHandler) ImportBars(c *gin.Context) {
	var req importBarsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bars := make([]domain.Bar, 0, len(req.Bars))
	for _, p := range req.Bars {
		bars = append(bars, domain.Bar{
			Symbol:    p.Symbol,
			Timestamp: p.Timestamp,
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
			Volume:    p.Volume,
		})
	}

	if err := h.command.ImportBars(c.Request.Context(), bars); err != nil {
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imported": len(bars)})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrStrategyNotFound),
		errors.Is(err, domain.ErrUnknownSlippageModel),
		errors.Is(err, domain.ErrUnknownAllocator),
		errors.Is(err, domain.ErrEmptyDataFeed),
		errors.Is(err, domain.ErrNoMarketData):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
