package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the pusher's delivery counters.
type Metrics struct {
	consumed   prometheus.Counter
	delivered  prometheus.Counter
	failed     prometheus.Counter
	retried    prometheus.Counter
	truncated  prometheus.Counter
	suppressed prometheus.Counter
}

// New registers the counters with reg. Pass prometheus.DefaultRegisterer in
// the service, a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "apns_pusher",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		consumed:   counter("envelopes_consumed_total", "Envelopes consumed from the broker."),
		delivered:  counter("notifications_delivered_total", "Frames written to the gateway."),
		failed:     counter("notifications_failed_total", "Notifications that could not be delivered."),
		retried:    counter("sends_retried_total", "Gateway writes that were retried."),
		truncated:  counter("alerts_truncated_total", "Alerts shortened to fit the payload ceiling."),
		suppressed: counter("tokens_suppressed_total", "Device tokens marked undeliverable."),
	}
}

func (m *Metrics) IncConsumed()   { m.consumed.Inc() }
func (m *Metrics) IncDelivered()  { m.delivered.Inc() }
func (m *Metrics) IncFailed()     { m.failed.Inc() }
func (m *Metrics) IncRetried()    { m.retried.Inc() }
func (m *Metrics) IncTruncated()  { m.truncated.Inc() }
func (m *Metrics) IncSuppressed() { m.suppressed.Inc() }
