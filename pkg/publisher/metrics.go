package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 破棄理由のラベル値。
const (
	dropReasonBufferFull = "buffer_full"
	dropReasonClosed     = "closed"
	dropReasonEncode     = "encode_error"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopgate",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of events delivered to the broker",
	}, []string{"topic"})

	eventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopgate",
		Subsystem: "events",
		Name:      "failed_total",
		Help:      "Total number of events the broker rejected or could not receive",
	}, []string{"topic"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopgate",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total number of events dropped before reaching the worker",
	}, []string{"reason"})

	eventsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shopgate",
		Subsystem: "events",
		Name:      "queue_depth",
		Help:      "Number of events waiting for the publish worker",
	})

	brokerConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopgate",
		Subsystem: "events",
		Name:      "broker_connects_total",
		Help:      "Total number of broker connection attempts",
	}, []string{"broker", "result"})
)
