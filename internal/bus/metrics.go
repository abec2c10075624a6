package bus

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistd",
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Total events published per channel",
		},
		[]string{"channel"},
	)

	deliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistd",
			Subsystem: "bus",
			Name:      "delivered_total",
			Help:      "Total per-subscriber deliveries per channel",
		},
		[]string{"channel"},
	)

	subscriberGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "assistd",
			Subsystem: "bus",
			Name:      "subscribers",
			Help:      "Currently registered subscribers per channel",
		},
		[]string{"channel"},
	)
)

func init() {
	prometheus.MustRegister(publishedTotal, deliveredTotal, subscriberGauge)
}
