package metrics

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/logging"
)

const namespace = "safety_rules"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Collector collects the metrics of a safety rules engine.
// A nil *Collector discards everything.
type Collector struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	epoch          prometheus.Gauge
	lastVotedRound prometheus.Gauge
	preferredRound prometheus.Gauge
}

// NewCollector creates the metrics and registers them with registerer.
func NewCollector(registerer prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "number of requests handled by the engine, by operation and outcome",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "time spent handling a request, including storage writes",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"operation"}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "current epoch of the safety data",
		}),
		lastVotedRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_voted_round",
			Help:      "last voted round of the safety data",
		}),
		preferredRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preferred_round",
			Help:      "preferred round of the safety data",
		}),
	}
	registerer.MustRegister(c.requests, c.latency, c.epoch, c.lastVotedRound, c.preferredRound)
	return c
}

// Observe records the outcome and duration of an operation that started at start.
func (c *Collector) Observe(operation string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	c.requests.WithLabelValues(operation, Outcome(err)).Inc()
}

// SetSafetyData updates the safety data gauges.
func (c *Collector) SetSafetyData(sd safetyrules.SafetyData) {
	if c == nil {
		return
	}
	c.epoch.Set(float64(sd.Epoch))
	c.lastVotedRound.Set(float64(sd.LastVotedRound))
	c.preferredRound.Set(float64(sd.PreferredRound))
}

// Outcome returns the outcome label for err: "success", the error kind, or "error".
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	kind, _ := safetyrules.Classify(err)
	if kind == safetyrules.KindUnknown {
		return OutcomeError
	}
	return strings.ReplaceAll(kind.String(), " ", "_")
}

// Serve serves the metrics of gatherer on addr until the server is closed.
func Serve(addr string, gatherer prometheus.Gatherer, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server failed: %v", err)
		}
	}()
	return srv
}
