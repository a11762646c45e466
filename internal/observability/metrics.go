package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	channelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "probectl",
			Subsystem: "channel",
			Name:      "connected",
			Help:      "1 while the collector channel is connected, 0 otherwise.",
		},
		[]string{"service"},
	)
	channelRebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probectl",
			Subsystem: "channel",
			Name:      "rebuilds_total",
			Help:      "Collector channel rebuilds by selected endpoint.",
		},
		[]string{"service", "endpoint"},
	)
	commandsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probectl",
			Subsystem: "commands",
			Name:      "dispatched_total",
			Help:      "Commands handed to an executor, by command kind.",
		},
		[]string{"service", "kind"},
	)
	commandsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probectl",
			Subsystem: "commands",
			Name:      "dropped_total",
			Help:      "Commands dropped before execution, by reason.",
		},
		[]string{"service", "reason"},
	)
	configSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probectl",
			Subsystem: "dynamic",
			Name:      "syncs_total",
			Help:      "Configuration sync attempts against the collector.",
		},
		[]string{"service", "outcome"},
	)
	watcherNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probectl",
			Subsystem: "dynamic",
			Name:      "watcher_notifications_total",
			Help:      "Configuration change notifications delivered to watchers.",
		},
		[]string{"service", "event"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			channelState, channelRebuilds,
			commandsDispatched, commandsDropped,
			configSyncs, watcherNotifications,
		)
	})
}

func RecordChannelState(service string, connected bool) {
	RegisterMetrics()
	v := 0.0
	if connected {
		v = 1.0
	}
	channelState.WithLabelValues(service).Set(v)
}

func RecordChannelRebuild(service, endpoint string) {
	RegisterMetrics()
	channelRebuilds.WithLabelValues(service, endpoint).Inc()
}

func RecordCommandDispatched(service, kind string) {
	RegisterMetrics()
	commandsDispatched.WithLabelValues(service, kind).Inc()
}

func RecordCommandDropped(service, reason string) {
	RegisterMetrics()
	commandsDropped.WithLabelValues(service, reason).Inc()
}

func RecordConfigSync(service, outcome string) {
	RegisterMetrics()
	configSyncs.WithLabelValues(service, outcome).Inc()
}

func RecordWatcherNotification(service, event string) {
	RegisterMetrics()
	watcherNotifications.WithLabelValues(service, event).Inc()
}
