package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	accessTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_request_transitions_total",
			Help: "Access request state transitions by resulting status.",
		},
		[]string{"status"},
	)

	resolverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "access_resolver_duration_seconds",
			Help:    "Time spent computing accessible owner sets.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"role"},
	)

	resolverCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_resolver_cache_total",
			Help: "Resolver cache lookups by result.",
		},
		[]string{"result"},
	)

	resolverFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_resolver_fallbacks_total",
		Help: "Resolver calls that degraded to the viewer-only set after a store failure.",
	})

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})

	initOnce sync.Once
)

// Init registers service metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			accessTransitions, resolverDuration, resolverCache, resolverFallbacks,
			readyGauge,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// ObserveTransition counts an access request reaching status.
func ObserveTransition(status string) {
	accessTransitions.WithLabelValues(status).Inc()
}

// ObserveResolver records how long one owner-set resolution took.
func ObserveResolver(role string, d time.Duration) {
	resolverDuration.WithLabelValues(role).Observe(d.Seconds())
}

// ObserveResolverCache counts a cache hit or miss.
func ObserveResolverCache(hit bool) {
	if hit {
		resolverCache.WithLabelValues("hit").Inc()
		return
	}
	resolverCache.WithLabelValues("miss").Inc()
}

// ObserveResolverFallback counts a degraded resolution.
func ObserveResolverFallback() {
	resolverFallbacks.Inc()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// idSegments lists collection names whose next path segment is an identifier.
var idSegments = map[string]struct{}{
	"requests": {},
	"users":    {},
}

// CanonicalPath collapses identifiers so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if _, ok := idSegments[parts[i-1]]; !ok {
			continue
		}
		if isStaticSegment(parts[i]) {
			continue
		}
		parts[i] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}

func isStaticSegment(s string) bool {
	switch s {
	case "pending", "sent":
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
