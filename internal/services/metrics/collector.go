package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

const namespace = "plexus"

var states = []models.SessionState{
	models.StateInitializing,
	models.StateReady,
	models.StateRenewing,
	models.StateBusy,
}

// Collector keeps prometheus metrics in step with session events.
// Each collector owns its registry so several apps can coexist in one process.
type Collector struct {
	registry *prometheus.Registry
	logger   arbor.ILogger

	state          *prometheus.GaugeVec
	quota          prometheus.Gauge
	renewals       *prometheus.CounterVec
	renewalSeconds prometheus.Histogram
}

// NewCollector creates the collector and subscribes it to session events
func NewCollector(eventService interfaces.EventService, logger arbor.ILogger) (*Collector, error) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger,
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state, 1 for the active state.",
		}, []string{"state"}),
		quota: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_quota_remaining",
			Help:      "Quota-consuming queries left on the current credentials.",
		}),
		renewals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renewals_total",
			Help:      "Credential renewals by outcome and trigger.",
		}, []string{"outcome", "trigger"}),
		renewalSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "renewal_duration_seconds",
			Help:      "Wall time of credential renewals.",
			Buckets:   []float64{15, 30, 60, 90, 120, 180, 300, 600},
		}),
	}
	c.setState(models.StateInitializing)

	if eventService == nil {
		return c, nil
	}
	if err := eventService.Subscribe(interfaces.EventSessionStateChanged, c.onState); err != nil {
		return nil, err
	}
	if err := eventService.Subscribe(interfaces.EventRenewalCompleted, c.onRenewal); err != nil {
		return nil, err
	}
	if err := eventService.Subscribe(interfaces.EventRenewalFailed, c.onRenewal); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler serves the collector's registry in the prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) setState(current models.SessionState) {
	for _, s := range states {
		value := 0.0
		if s == current {
			value = 1
		}
		c.state.WithLabelValues(string(s)).Set(value)
	}
}

func (c *Collector) onState(ctx context.Context, event interfaces.Event) error {
	var status models.SessionStatus
	switch p := event.Payload.(type) {
	case models.SessionStatus:
		status = p
	case *models.SessionStatus:
		if p == nil {
			return nil
		}
		status = *p
	default:
		c.logger.Debug().Str("event_type", string(event.Type)).Msg("Ignoring state event with unexpected payload")
		return nil
	}

	c.setState(status.State)
	c.quota.Set(float64(status.QuotaRemaining))
	return nil
}

func (c *Collector) onRenewal(ctx context.Context, event interfaces.Event) error {
	var record *models.RenewalRecord
	switch p := event.Payload.(type) {
	case *models.RenewalRecord:
		record = p
	case models.RenewalRecord:
		record = &p
	}
	if record == nil {
		return nil
	}

	outcome := "success"
	if event.Type == interfaces.EventRenewalFailed || !record.Success {
		outcome = "failure"
	}
	c.renewals.WithLabelValues(outcome, record.Trigger).Inc()
	c.renewalSeconds.Observe(record.Duration.Seconds())
	return nil
}
