package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics содержит метрики движка синхронизации заказов.
type SyncMetrics struct {
	// Счётчики событий push-канала
	eventsReceived *prometheus.CounterVec

	// Счётчики применения обновлений
	mergesApplied    prometheus.Counter
	mergesRejected   prometheus.Counter
	optimisticApply  prometheus.Counter
	selfHeals        prometheus.Counter
	channelReconnect prometheus.Counter

	// Счётчики refresh-циклов
	refreshesScheduled prometheus.Counter
	refreshesCompleted prometheus.Counter
	refreshesFailed    prometheus.Counter

	// Гистограмма времени authoritative refetch
	refreshDuration prometheus.Histogram

	// Gauge отслеживаемых заказов
	trackedOrders prometheus.Gauge
}

// NewSyncMetrics создаёт новый экземпляр метрик синхронизации.
func NewSyncMetrics() *SyncMetrics {
	return newSyncMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSyncMetricsWithRegisterer(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SyncMetrics{
		eventsReceived: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "osync_events_received_total",
			Help: "Total number of push events received grouped by event name",
		}, []string{"event"}),
		mergesApplied: registerCounter(registerer, prometheus.CounterOpts{
			Name: "osync_merges_applied_total",
			Help: "Total number of event deltas merged directly into the snapshot store",
		}),
		mergesRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "osync_merges_rejected_total",
			Help: "Total number of event deltas rejected by the state machine",
		}),
		optimisticApply: registerCounter(registerer, prometheus.CounterOpts{
			Name: "osync_optimistic_applies_total",
			Help: "Total number of customer actions applied optimistically before corroboration",
		}),
		selfHeals: registerCounter(registerer, prometheus.CounterOpts{
			Name: "osync_self_heals_total",
			Help: "Total number of refreshes triggered by a missing corroborating event",
		}),
		channelReconnect: registerCounter(registerer, prometheus.CounterOpts{
			Name: "osync_channel_reconnects_total",
			Help: "Total number of push channel reconnects observed",
		}),
		refreshesScheduled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "osync_refreshes_scheduled_total",
			Help: "Total number of authoritative refreshes scheduled",
		}),
		refreshesCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "osync_refreshes_completed_total",
			Help: "Total number of authoritative refreshes completed successfully",
		}),
		refreshesFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "osync_refreshes_failed_total",
			Help: "Total number of authoritative refreshes failed or timed out",
		}),
		refreshDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "osync_refresh_duration_seconds",
			Help:    "Duration of authoritative refresh requests in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		trackedOrders: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "osync_tracked_orders",
			Help: "Number of orders currently tracked by the reconciliation engine",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordEventReceived увеличивает счётчик полученных событий.
func (m *SyncMetrics) RecordEventReceived(event string) {
	m.eventsReceived.WithLabelValues(event).Inc()
}

// RecordMergeApplied увеличивает счётчик применённых дельт.
func (m *SyncMetrics) RecordMergeApplied() {
	m.mergesApplied.Inc()
}

// RecordMergeRejected увеличивает счётчик отклонённых дельт.
func (m *SyncMetrics) RecordMergeRejected() {
	m.mergesRejected.Inc()
}

// RecordOptimisticApply увеличивает счётчик оптимистичных применений.
func (m *SyncMetrics) RecordOptimisticApply() {
	m.optimisticApply.Inc()
}

// RecordSelfHeal увеличивает счётчик self-heal refresh'ей.
func (m *SyncMetrics) RecordSelfHeal() {
	m.selfHeals.Inc()
}

// RecordChannelReconnect увеличивает счётчик переподключений канала.
func (m *SyncMetrics) RecordChannelReconnect() {
	m.channelReconnect.Inc()
}

// RecordRefreshScheduled увеличивает счётчик запланированных refresh'ей.
func (m *SyncMetrics) RecordRefreshScheduled() {
	m.refreshesScheduled.Inc()
}

// RecordRefreshCompleted фиксирует успешный refresh и его длительность.
func (m *SyncMetrics) RecordRefreshCompleted(duration time.Duration) {
	m.refreshesCompleted.Inc()
	m.refreshDuration.Observe(duration.Seconds())
}

// RecordRefreshFailed увеличивает счётчик неудачных refresh'ей.
func (m *SyncMetrics) RecordRefreshFailed() {
	m.refreshesFailed.Inc()
}

// SetTrackedOrders обновляет gauge отслеживаемых заказов.
func (m *SyncMetrics) SetTrackedOrders(count int) {
	m.trackedOrders.Set(float64(count))
}
