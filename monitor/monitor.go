// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	EventsReceived     *prometheus.CounterVec
	EventsUndecodable  *prometheus.CounterVec
	HandlerLatency     *prometheus.HistogramVec
	TxSent             *prometheus.CounterVec
	TxFailed           *prometheus.CounterVec
	GuardMisses        *prometheus.CounterVec
	NotificationsSent  prometheus.Counter
	NotificationFailed prometheus.Counter
	WatcherState       *prometheus.GaugeVec
	Reconnects         *prometheus.CounterVec
	GamesResolved      *prometheus.CounterVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Chain events delivered to handlers",
		}, []string{"event"}),
		EventsUndecodable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_undecodable_total",
			Help:      "Logs skipped because they could not be decoded",
		}, []string{"event"}),
		HandlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_latency_seconds",
			Help:      "Event handler latency, including transaction confirmation",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"event"}),
		TxSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_calls_total",
			Help:      "Contract write calls confirmed on chain",
		}, []string{"method"}),
		TxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_call_failures_total",
			Help:      "Contract write calls that failed to send, reverted or timed out",
		}, []string{"method"}),
		GuardMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_guard_misses_total",
			Help:      "Guarded ledger writes skipped because the precondition did not hold",
		}, []string{"op"}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Player notifications delivered",
		}),
		NotificationFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Player notifications that could not be delivered",
		}),
		WatcherState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_connection_state",
			Help:      "0 disconnected, 1 reconnecting, 2 connected",
		}, []string{"watcher"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_reconnects_total",
			Help:      "Reconnect attempts per streaming watcher",
		}, []string{"watcher"}),
		GamesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_resolved_total",
			Help:      "Games that reached the resolved state",
		}, []string{"kind", "verdict"}),
	}

	reg.MustRegister(
		m.EventsReceived,
		m.EventsUndecodable,
		m.HandlerLatency,
		m.TxSent,
		m.TxFailed,
		m.GuardMisses,
		m.NotificationsSent,
		m.NotificationFailed,
		m.WatcherState,
		m.Reconnects,
		m.GamesResolved,
	)

	return m
}

type Monitor struct {
	metrics    *Metrics
	gatherer   prometheus.Gatherer
	startTime  time.Time
	eventCount int64
	mutex      sync.Mutex
}

var publishOnce sync.Once

// NewMonitor registers the metrics on the default prometheus registry.
func NewMonitor(namespace string) *Monitor {
	return NewMonitorWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func NewMonitorWithRegistry(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	// 添加expvar指标，只发布一次
	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
		expvar.Publish("events", expvar.Func(func() interface{} {
			return m.EventCount()
		}))
	})

	return m
}

// NewTestMonitor uses a private registry so repeated construction is safe.
func NewTestMonitor() *Monitor {
	reg := prometheus.NewRegistry()
	return NewMonitorWithRegistry("test", reg, reg)
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Handler serves the gathered metrics in the prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}

func (m *Monitor) EventCount() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.eventCount
}

func (m *Monitor) IncEventsReceived(event string) {
	m.metrics.EventsReceived.WithLabelValues(event).Inc()
	m.mutex.Lock()
	m.eventCount++
	m.mutex.Unlock()
}

func (m *Monitor) IncEventsUndecodable(event string) {
	m.metrics.EventsUndecodable.WithLabelValues(event).Inc()
}

func (m *Monitor) ObserveHandlerLatency(event string, duration time.Duration) {
	m.metrics.HandlerLatency.WithLabelValues(event).Observe(duration.Seconds())
}

func (m *Monitor) IncTxSent(method string) {
	m.metrics.TxSent.WithLabelValues(method).Inc()
}

func (m *Monitor) IncTxFailed(method string) {
	m.metrics.TxFailed.WithLabelValues(method).Inc()
}

func (m *Monitor) IncGuardMiss(op string) {
	m.metrics.GuardMisses.WithLabelValues(op).Inc()
}

func (m *Monitor) IncNotifications(ok bool) {
	if ok {
		m.metrics.NotificationsSent.Inc()
		return
	}
	m.metrics.NotificationFailed.Inc()
}

func (m *Monitor) SetWatcherState(watcher string, state int) {
	m.metrics.WatcherState.WithLabelValues(watcher).Set(float64(state))
}

func (m *Monitor) IncReconnects(watcher string) {
	m.metrics.Reconnects.WithLabelValues(watcher).Inc()
}

func (m *Monitor) IncGamesResolved(kind, verdict string) {
	m.metrics.GamesResolved.WithLabelValues(kind, verdict).Inc()
}
