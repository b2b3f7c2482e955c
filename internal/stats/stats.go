package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats 管道运行计数器，失败只计数不中断
type Stats struct {
	registry *prometheus.Registry

	SamplesCollected   prometheus.Counter
	CollectionFailures prometheus.Counter
	AlertsFired        *prometheus.CounterVec
	BrokerFailures     *prometheus.CounterVec
	DecodeFailures     prometheus.Counter
	ViewerFailures     prometheus.Counter
	TopicDrops         *prometheus.CounterVec
	ViewersConnected   prometheus.Gauge
	LinkDegraded       prometheus.Gauge
}

// New 每个实例使用独立的 registry，避免重复注册
func New() *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),
		SamplesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_samples_collected_total",
			Help: "Samples successfully collected from the platform source.",
		}),
		CollectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_collection_failures_total",
			Help: "Sampler ticks skipped because the metrics source failed.",
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_alerts_fired_total",
			Help: "Alert events derived from samples.",
		}, []string{"type"}),
		BrokerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_broker_failures_total",
			Help: "Broker or TTL store operations that failed.",
		}, []string{"op"}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_decode_failures_total",
			Help: "Malformed broker messages dropped by the listener.",
		}),
		ViewerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_viewer_delivery_failures_total",
			Help: "Messages that could not be delivered to a live viewer.",
		}),
		TopicDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_topic_dropped_total",
			Help: "Events dropped because an internal consumer was full.",
		}, []string{"topic"}),
		ViewersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_viewers_connected",
			Help: "Currently connected live viewers.",
		}),
		LinkDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_link_degraded",
			Help: "1 when the broker link is degraded, 0 otherwise.",
		}),
	}

	s.registry.MustRegister(
		s.SamplesCollected,
		s.CollectionFailures,
		s.AlertsFired,
		s.BrokerFailures,
		s.DecodeFailures,
		s.ViewerFailures,
		s.TopicDrops,
		s.ViewersConnected,
		s.LinkDegraded,
	)
	return s
}

// Registry 返回内部 registry
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// Handler 暴露 /metrics
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
