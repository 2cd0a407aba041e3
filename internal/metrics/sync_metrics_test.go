package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewSyncMetrics(t *testing.T) {
	metrics := newSyncMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("NewSyncMetrics should not return nil")
	}
	if metrics.eventsReceived == nil {
		t.Error("eventsReceived counter vec should not be nil")
	}
	if metrics.mergesApplied == nil {
		t.Error("mergesApplied counter should not be nil")
	}
	if metrics.mergesRejected == nil {
		t.Error("mergesRejected counter should not be nil")
	}
	if metrics.refreshesScheduled == nil {
		t.Error("refreshesScheduled counter should not be nil")
	}
	if metrics.refreshDuration == nil {
		t.Error("refreshDuration histogram should not be nil")
	}
	if metrics.trackedOrders == nil {
		t.Error("trackedOrders gauge should not be nil")
	}
}

// Повторная регистрация с тем же registerer переиспользует коллекторы.
func TestNewSyncMetrics_AlreadyRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := newSyncMetricsWithRegisterer(reg)
	second := newSyncMetricsWithRegisterer(reg)

	if first.mergesApplied != second.mergesApplied {
		t.Error("expected the same counter instance on re-registration")
	}
}

func TestRecordCounters(t *testing.T) {
	metrics := newSyncMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordMergeApplied()
	metrics.RecordMergeApplied()
	metrics.RecordMergeRejected()
	metrics.RecordRefreshScheduled()
	metrics.RecordRefreshCompleted(50 * time.Millisecond)
	metrics.RecordRefreshFailed()
	metrics.RecordSelfHeal()
	metrics.RecordChannelReconnect()
	metrics.RecordOptimisticApply()
	metrics.SetTrackedOrders(3)

	metric := &dto.Metric{}
	if err := metrics.mergesApplied.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected merges applied 2.0, got %f", metric.Counter.GetValue())
	}

	gauge := &dto.Metric{}
	if err := metrics.trackedOrders.Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.Gauge.GetValue() != 3.0 {
		t.Errorf("expected tracked orders 3.0, got %f", gauge.Gauge.GetValue())
	}
}

func TestRecordEventReceived(t *testing.T) {
	metrics := newSyncMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordEventReceived("ORDER_CONFIRMED")
	metrics.RecordEventReceived("ORDER_CONFIRMED")
	metrics.RecordEventReceived("ORDER_READY")

	metric := &dto.Metric{}
	counter, err := metrics.eventsReceived.GetMetricWithLabelValues("ORDER_CONFIRMED")
	if err != nil {
		t.Fatalf("failed to get labelled counter: %v", err)
	}
	if err := counter.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected 2 ORDER_CONFIRMED events, got %f", metric.Counter.GetValue())
	}
}
