package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "brokersync"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	connects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "connects_total",
		Help:      "Total number of completed session connects.",
	})
	messagesDecoded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "messages_decoded_total",
		Help:      "Total number of inbound protocol frames decoded.",
	})
	requestsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "requests_started_total",
		Help:      "Total number of blocking requests started.",
	})
	requestsResolved := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "requests_resolved_total",
		Help:      "Total number of blocking requests resolved.",
	})
	requestsTimedOut := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "requests_timed_out_total",
		Help:      "Total number of blocking requests abandoned on deadline.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of new orders placed.",
	})
	ordersModified := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_modified_total",
		Help:      "Total number of order modifications sent.",
	})
	ordersCancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_cancelled_total",
		Help:      "Total number of order cancels sent.",
	})

	registry.MustRegister(connects, messagesDecoded, requestsStarted,
		requestsResolved, requestsTimedOut, ordersPlaced, ordersModified, ordersCancelled)

	m := &Metrics{
		Connects:         promCounter{connects},
		MessagesDecoded:  promCounter{messagesDecoded},
		RequestsStarted:  promCounter{requestsStarted},
		RequestsResolved: promCounter{requestsResolved},
		RequestsTimedOut: promCounter{requestsTimedOut},
		OrdersPlaced:     promCounter{ordersPlaced},
		OrdersModified:   promCounter{ordersModified},
		OrdersCancelled:  promCounter{ordersCancelled},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
