// Package http 运维 HTTP 接口：探活、就绪、指标、管道状态与最新行情查询
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/application"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/config"
	"github.com/wyfcoding/marketfeed/pkg/middleware"
)

// SubscriberStatus 消费端状态来源
type SubscriberStatus interface {
	State() application.State
	Status() application.SubscriberStatus
}

// IngestStatus 采集端状态来源
type IngestStatus interface {
	LastReport() application.CycleReport
}

// BrokerHealth 发布端 Broker 健康状态
type BrokerHealth interface {
	Unavailable() bool
}

// LatestTicks 最新行情读取
type LatestTicks interface {
	Latest(ctx context.Context, symbol string) (domain.Tick, bool, error)
}

// Check 就绪检查
type Check func(ctx context.Context) error

// Options 处理器依赖，按进程模式可以为空
type Options struct {
	Service    string
	Subscriber SubscriberStatus
	Ingestor   IngestStatus
	Publisher  BrokerHealth
	Latest     LatestTicks
	Checks     map[string]Check
	// Prometheus 抓取接口
	Metrics     http.Handler
	MetricsPath string
}

// Handler 运维 HTTP 处理器
type Handler struct {
	opts      Options
	logger    *slog.Logger
	startedAt time.Time
}

// NewHandler 创建处理器
func NewHandler(opts Options, logger *slog.Logger) *Handler {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Handler{opts: opts, logger: logger, startedAt: time.Now()}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if h.opts.Metrics != nil {
		r.GET(h.opts.MetricsPath, gin.WrapH(h.opts.Metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", h.GetStatus)
		v1.GET("/ticks/latest", h.GetLatestTick)
	}
}

// NewRouter 创建带中间件的 Gin 引擎
func NewRouter(h *Handler, env string, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if env == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(middleware.GinLogging(logger), middleware.GinRecovery(logger))
	h.RegisterRoutes(r)
	return r
}

// NewServer 创建 HTTP Server
func NewServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Healthz 进程存活
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.opts.Service})
}

// Readyz 依赖与管道是否就绪
func (h *Handler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failures := gin.H{}
	for name, check := range h.opts.Checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if s := h.opts.Subscriber; s != nil {
		switch st := s.State(); st {
		case application.StateAssigned, application.StateConsuming:
		default:
			failures["subscriber"] = "state " + st.String()
		}
	}
	if p := h.opts.Publisher; p != nil && p.Unavailable() {
		failures["broker"] = "unavailable beyond alert threshold"
	}

	if len(failures) > 0 {
		h.logger.WarnContext(ctx, "readiness check failed", "failures", failures)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "failures": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GetStatus 管道状态
func (h *Handler) GetStatus(c *gin.Context) {
	resp := gin.H{
		"service": h.opts.Service,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	}
	if s := h.opts.Subscriber; s != nil {
		st := s.Status()
		halted := make([]int, 0)
		for _, p := range st.Partitions {
			if p.Halted {
				halted = append(halted, p.Partition)
			}
		}
		resp["subscriber"] = st
		resp["halted_partitions"] = halted
	}
	if i := h.opts.Ingestor; i != nil {
		resp["last_cycle"] = i.LastReport()
	}
	if p := h.opts.Publisher; p != nil {
		resp["broker_unavailable"] = p.Unavailable()
	}
	c.JSON(http.StatusOK, resp)
}

// GetLatestTick 从缓存读取代码的最新行情
func (h *Handler) GetLatestTick(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	if h.opts.Latest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache sink is not enabled"})
		return
	}

	tick, ok, err := h.opts.Latest.Latest(c.Request.Context(), symbol)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "latest tick lookup failed", "symbol", symbol, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "tick not found"})
		return
	}

	payload, err := domain.EncodeTick(tick)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}
