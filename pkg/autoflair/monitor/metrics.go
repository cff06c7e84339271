package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the monitor's Prometheus collectors.
type Metrics struct {
	Posts      *prometheus.CounterVec
	Backoffs   prometheus.Counter
	State      prometheus.Gauge
	Confidence prometheus.Histogram
}

// Post outcomes recorded on the posts counter.
const (
	OutcomeTagged      = "tagged"
	OutcomeLabeled     = "labeled"
	OutcomeLabeledLate = "labeled_during_wait"
	OutcomeDuplicate   = "duplicate"
	OutcomeSkipped     = "skipped_encoding"
	OutcomeRejected    = "rejected"
)

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Posts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoflair",
			Name:      "posts_total",
			Help:      "Submissions seen on the stream, by outcome.",
		}, []string{"outcome"}),
		Backoffs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "autoflair",
			Name:      "backoffs_total",
			Help:      "Feed errors that triggered a backoff.",
		}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "autoflair",
			Name:      "monitor_state",
			Help:      "Current monitor state (0 streaming, 1 debounce wait, 2 backoff).",
		}),
		Confidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autoflair",
			Name:      "prediction_confidence",
			Help:      "Probability of the applied flair.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
}
