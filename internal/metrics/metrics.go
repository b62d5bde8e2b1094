package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/docstore"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
)

// Chat request outcomes, the values of the outcome label on chat_requests_total.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeBadRequest  = "bad_request"
	OutcomeLLMError    = "llm_error"
	OutcomeUnavailable = "unavailable"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	// burst guard in front of every route
	floodDeniedTotal   prometheus.Counter
	floodCapacityTotal prometheus.Counter

	// chat
	chatRequestsTotal    *prometheus.CounterVec
	chatRateLimitedTotal *prometheus.CounterVec
	ratelimitBackendErrs prometheus.Counter
	llmDuration          *prometheus.HistogramVec

	// portfolio reads
	docstoreDuration *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec

	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{128, 256, 512, 1024, 4096, 16384, 65536, 262144},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		floodDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the per-address burst guard",
		}),
		floodCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total requests folded into the overflow bucket because the burst guard table was full",
		}),
		chatRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		chatRateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "Chat requests rejected by the daily message limit",
		}, []string{"endpoint"}),
		ratelimitBackendErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_ratelimit_backend_errors_total",
			Help: "Rate limiter backend failures; requests are allowed while the backend is down",
		}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Language model call latency by endpoint",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"endpoint"}),
		docstoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docstore_operation_duration_seconds",
			Help:    "Document store operation latency by backend, op and outcome (ok|not_found|error)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"backend", "op", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Read cache lookups by cache and result (hit|miss)",
		}, []string{"cache", "result"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.floodDeniedTotal,
		m.floodCapacityTotal,
		m.chatRequestsTotal,
		m.chatRateLimitedTotal,
		m.ratelimitBackendErrs,
		m.llmDuration,
		m.docstoreDuration,
		m.cacheLookups,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncFloodDenied() {
	m.floodDeniedTotal.Inc()
}

func (m *ServerMetrics) IncFloodCapacity() {
	m.floodCapacityTotal.Inc()
}

// IncChatRequest counts one chat request. endpoint is "public" or "admin".
func (m *ServerMetrics) IncChatRequest(endpoint, outcome string) {
	m.chatRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func (m *ServerMetrics) IncChatRateLimited(endpoint string) {
	m.chatRateLimitedTotal.WithLabelValues(endpoint).Inc()
}

func (m *ServerMetrics) IncRateLimitBackendError() {
	m.ratelimitBackendErrs.Inc()
}

func (m *ServerMetrics) ObserveLLM(endpoint string, d time.Duration) {
	m.llmDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveDocstore has the docstore.Observer signature.
func (m *ServerMetrics) ObserveDocstore(backend, op string, d time.Duration, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	m.docstoreDuration.WithLabelValues(backend, op, outcome).Observe(d.Seconds())
}

// ObserveCache has the portfolio.CacheObserver signature.
func (m *ServerMetrics) ObserveCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
