package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) != len(labels) {
		return false
	}
	for _, pair := range metric.GetLabel() {
		if labels[pair.GetName()] != pair.GetValue() {
			return false
		}
	}
	return true
}

func TestSalesMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSalesMetricsWithRegisterer(reg)

	m.RecordOrderSubmitted(true)
	m.RecordOrderSubmitted(false)
	m.RecordRejected("customer_not_found")
	m.RecordStatusUpdate("packed")
	m.RecordStatusConflict("packed")
	m.RecordMessage("sales.submit-order", OutcomeDLQ)
	m.ObserveHandler("submit_order", 15*time.Millisecond)

	if got := gatherValue(t, reg, "oms_sales_orders_submitted_total", nil).GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected 2 submitted orders, got %v", got)
	}
	if got := gatherValue(t, reg, "oms_sales_discounts_applied_total", nil).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 discount, got %v", got)
	}
	if got := gatherValue(t, reg, "oms_sales_orders_rejected_total", map[string]string{"reason": "customer_not_found"}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := gatherValue(t, reg, "oms_sales_status_updates_total", map[string]string{"flag": "packed"}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 status update, got %v", got)
	}
	if got := gatherValue(t, reg, "oms_sales_consumer_messages_total", map[string]string{"topic": "sales.submit-order", "outcome": OutcomeDLQ}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 dlq message, got %v", got)
	}
	if got := gatherValue(t, reg, "oms_sales_handler_duration_seconds", map[string]string{"handler": "submit_order"}).GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("expected 1 observation, got %v", got)
	}
}

func TestSalesMetrics_ReRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewSalesMetricsWithRegisterer(reg)
	second := NewSalesMetricsWithRegisterer(reg)

	first.RecordOrderSubmitted(false)
	second.RecordOrderSubmitted(false)

	if got := gatherValue(t, reg, "oms_sales_orders_submitted_total", nil).GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func TestSalesMetrics_NilReceiver(t *testing.T) {
	var m *SalesMetrics

	m.RecordOrderSubmitted(true)
	m.RecordRejected("x")
	m.RecordStatusUpdate("x")
	m.RecordStatusConflict("x")
	m.ObserveHandler("x", time.Second)
	m.RecordMessage("t", OutcomeProcessed)
}
