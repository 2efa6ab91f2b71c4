package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bbu"

// Metrics 服务的 Prometheus 指标。nil 接收者的所有方法都是空操作，
// 组件在未配置指标时可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	udpMessages      *prometheus.CounterVec
	decodeErrors     prometheus.Counter
	commandsSent     *prometheus.CounterVec
	devices          *prometheus.GaugeVec
	watchdogOffline  prometheus.Counter
	campaignPhase    *prometheus.GaugeVec
	eventsPublished  *prometheus.CounterVec
	droppedListeners *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		udpMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "messages_total",
			Help:      "Inbound UDP datagrams by detected message type",
		}, []string{"type"}),

		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "decode_errors_total",
			Help:      "Inbound datagrams that could not be decoded",
		}),

		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands sent to devices by command name and result",
		}, []string{"command", "result"}), // result: success, error

		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Known devices by state",
		}, []string{"state"}),

		watchdogOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "transitions_total",
			Help:      "Devices marked OFFLINE by the watchdog",
		}),

		campaignPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "phase",
			Help:      "Current phase number of a running campaign, 0 when finished",
		}, []string{"campaign"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "published_total",
			Help:      "Events published by topic",
		}, []string{"topic"}),

		droppedListeners: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dropped_subscribers_total",
			Help:      "Subscribers removed after reporting they are gone",
		}, []string{"topic"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.udpMessages,
		m.decodeErrors,
		m.commandsSent,
		m.devices,
		m.watchdogOffline,
		m.campaignPhase,
		m.eventsPublished,
		m.droppedListeners,
	)
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) UDPMessage(msgType string) {
	if m == nil {
		return
	}
	m.udpMessages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// CommandSent records one send attempt
func (m *Metrics) CommandSent(command string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.commandsSent.WithLabelValues(command, result).Inc()
}

// SetDeviceCounts 用快照覆盖各状态的设备数
func (m *Metrics) SetDeviceCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.devices.Reset()
	for state, n := range counts {
		m.devices.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) WatchdogOffline() {
	if m == nil {
		return
	}
	m.watchdogOffline.Inc()
}

func (m *Metrics) CampaignPhase(campaign string, phase int) {
	if m == nil {
		return
	}
	m.campaignPhase.WithLabelValues(campaign).Set(float64(phase))
}

func (m *Metrics) EventPublished(topic string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(topic).Inc()
}

func (m *Metrics) SubscriberDropped(topic string) {
	if m == nil {
		return
	}
	m.droppedListeners.WithLabelValues(topic).Inc()
}
