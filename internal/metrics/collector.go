// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/evalflow/job"
	"github.com/BaSui01/evalflow/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// BatchOutcome 批量中单个输入的结局
type BatchOutcome string

const (
	BatchAppended BatchOutcome = "appended"
	BatchFailed   BatchOutcome = "failed"
	// 前序失败后仍成功的模拟，不追加
	BatchDropped BatchOutcome = "dropped"
)

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 作业与模拟指标
	jobSettlements     *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	simulationsTotal   *prometheus.CounterVec
	simulationDuration *prometheus.HistogramVec

	// 批量与会话指标
	batchRunsTotal     *prometheus.CounterVec
	batchItemsTotal    *prometheus.CounterVec
	sessionStarts      *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，所有指标注册到 registerer。
// registerer 为 nil 时使用 prometheus.DefaultRegisterer。
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 作业与模拟指标
	c.jobSettlements = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_settlements_total",
			Help:      "Total number of settled job runners",
		},
		[]string{"job", "status"},
	)
	c.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to settlement in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"job"},
	)
	c.simulationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulations_total",
			Help:      "Total number of simulated copilot responses",
		},
		[]string{"outcome"},
	)
	c.simulationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_duration_seconds",
			Help:      "Simulation duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	// 批量与会话指标
	c.batchRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Total number of batch executions",
		},
		[]string{"status"},
	)
	c.batchItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Total number of batch inputs by outcome",
		},
		[]string{"outcome"},
	)
	c.sessionStarts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Total number of evaluation session starts",
		},
		[]string{"status"},
	)
	c.sessionTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of evaluation session status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)
	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)
	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// ⚙️ 作业与模拟指标记录
// =============================================================================

// RecordJobSettlement 签名与 job.SettleHook 一致，可直接作为钩子注册
func (c *Collector) RecordJobSettlement(name string, status job.Status, duration time.Duration) {
	c.jobSettlements.WithLabelValues(name, string(status)).Inc()
	c.jobDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordSimulation 记录一次模拟，err 为 nil 视为成功
func (c *Collector) RecordSimulation(err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if code := types.GetErrorCode(err); code != "" {
			outcome = string(code)
		}
	}
	c.simulationsTotal.WithLabelValues(outcome).Inc()
	c.simulationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// =============================================================================
// 🧮 批量与会话指标记录
// =============================================================================

// RecordBatchRun 记录一次批量执行
func (c *Collector) RecordBatchRun(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.batchRunsTotal.WithLabelValues(status).Inc()
}

// RecordBatchItem 记录单个输入的结局
func (c *Collector) RecordBatchItem(outcome BatchOutcome) {
	c.batchItemsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordSessionStart 记录会话启动后的首个状态
func (c *Collector) RecordSessionStart(status types.SessionStatus) {
	c.sessionStarts.WithLabelValues(string(status)).Inc()
}

// RecordSessionTransition 签名与 session.TransitionHook 一致
func (c *Collector) RecordSessionTransition(from, to types.SessionStatus) {
	c.sessionTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// =============================================================================
// 💾 缓存与数据库指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码归类
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
