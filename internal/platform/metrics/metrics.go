package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务指标集合，使用独立 registry 以便测试
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	nodeVisits    *prometheus.CounterVec
	walkOutcomes  *prometheus.CounterVec
	validations   *prometheus.CounterVec
	functionCalls *prometheus.HistogramVec
}

// New 创建并注册全部指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellibotic_http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intellibotic_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		nodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellibotic_simulator_node_visits_total",
			Help: "Nodes visited by the conversation simulator, by kind",
		}, []string{"kind"}),
		walkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellibotic_simulator_walks_total",
			Help: "Simulator walks by outcome",
		}, []string{"outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellibotic_flow_validation_issues_total",
			Help: "Flow validation issues by code",
		}, []string{"code", "severity"}),
		functionCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intellibotic_code_function_duration_seconds",
			Help:    "Duration of registered code-node functions",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5},
		}, []string{"function", "status"}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.nodeVisits, m.walkOutcomes, m.validations, m.functionCalls,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 registry（测试用）
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware 记录请求数与耗时，按 chi 路由模板聚合
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// NodeVisited 模拟器访问节点
func (m *Metrics) NodeVisited(kind string) {
	if m == nil {
		return
	}
	m.nodeVisits.WithLabelValues(kind).Inc()
}

// WalkFinished 模拟器一次遍历结束
func (m *Metrics) WalkFinished(outcome string) {
	if m == nil {
		return
	}
	m.walkOutcomes.WithLabelValues(outcome).Inc()
}

// ValidationIssue 记录一条校验问题
func (m *Metrics) ValidationIssue(code, severity string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(code, severity).Inc()
}

// FunctionCall 记录 code 节点函数耗时
func (m *Metrics) FunctionCall(name string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.functionCalls.WithLabelValues(name, status).Observe(d.Seconds())
}
