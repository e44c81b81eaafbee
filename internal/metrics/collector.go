// Package metrics exposes the coordinator's round counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MansoorButt/kube-infra/internal/model"
)

const namespace = "fl_exchange"

// Collector owns its own registry so several coordinators (tests) can coexist.
type Collector struct {
	registry *prometheus.Registry

	connectionsAdmitted  prometheus.Counter
	connectionsRejected  prometheus.Counter
	participantsRemoved  *prometheus.CounterVec
	broadcasts           *prometheus.CounterVec
	submissions          prometheus.Counter
	duplicateSubmissions prometheus.Counter
	payloadBytes         *prometheus.CounterVec
	roundState           prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		connectionsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_admitted_total",
			Help:      "Connections admitted into the cohort",
		}),
		connectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections turned away because the cohort was full",
		}),
		participantsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participants_removed_total",
			Help:      "Participants dropped after a failure",
		}, []string{"reason"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcasts sent to the cohort",
		}, []string{"kind"}),
		submissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Trained updates accepted",
		}),
		duplicateSubmissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_submissions_total",
			Help:      "Trained updates drained because the participant had already submitted",
		}),
		payloadBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Model bytes moved over the wire",
		}, []string{"direction"}),
		roundState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round_state",
			Help:      "Current round state (0=AwaitingCohort ... 5=Stopped)",
		}),
	}
}

func (c *Collector) ConnectionAdmitted() {
	c.connectionsAdmitted.Inc()
}

func (c *Collector) ConnectionRejected() {
	c.connectionsRejected.Inc()
}

func (c *Collector) ParticipantRemoved(reason string) {
	c.participantsRemoved.WithLabelValues(reason).Inc()
}

func (c *Collector) Broadcast(kind string) {
	c.broadcasts.WithLabelValues(kind).Inc()
}

func (c *Collector) SubmissionAccepted(size int) {
	c.submissions.Inc()
	c.payloadBytes.WithLabelValues("received").Add(float64(size))
}

func (c *Collector) SubmissionDuplicate() {
	c.duplicateSubmissions.Inc()
}

func (c *Collector) ArtifactSent(size int) {
	c.payloadBytes.WithLabelValues("sent").Add(float64(size))
}

func (c *Collector) RoundState(state model.RoundState) {
	c.roundState.Set(float64(state))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
