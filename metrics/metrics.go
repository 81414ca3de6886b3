package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ListReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family_hub",
		Name:      "list_reloads_total",
		Help:      "Number of list reloads by list and result.",
	}, []string{"list", "result"})

	ChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family_hub",
		Name:      "change_events_total",
		Help:      "Number of change events published by collection and event.",
	}, []string{"collection", "event"})

	DroppedSubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "family_hub",
		Name:      "dropped_subscriptions_total",
		Help:      "Number of subscriptions dropped by the change feed.",
	})

	Resubscribes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family_hub",
		Name:      "resubscribes_total",
		Help:      "Number of resubscribe attempts by collection and result.",
	}, []string{"collection", "result"})

	ChatRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "family_hub",
		Name:      "chat_rejections_total",
		Help:      "Number of chat messages rejected before sending, by reason.",
	}, []string{"reason"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "family_hub",
		Name:      "websocket_clients",
		Help:      "Number of connected realtime clients.",
	})
)
