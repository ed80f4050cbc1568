package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) []*io_prometheus_client.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	return mfs
}

// Helper to find a metric family by name
func findMetricFamily(mfs []*io_prometheus_client.MetricFamily, name string) *io_prometheus_client.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func mustFamily(t *testing.T, mfs []*io_prometheus_client.MetricFamily, name string) *io_prometheus_client.MetricFamily {
	t.Helper()
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		t.Fatalf("%s not found", name)
	}
	return mf
}

// Helper to get counter value with specific labels
func getCounterValue(mf *io_prometheus_client.MetricFamily, labels map[string]string) float64 {
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) {
			if metric.Counter != nil {
				return metric.Counter.GetValue()
			}
		}
	}
	return 0
}

func getGaugeValue(mf *io_prometheus_client.MetricFamily, labels map[string]string) float64 {
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) && metric.Gauge != nil {
			return metric.Gauge.GetValue()
		}
	}
	return 0
}

func getHistogramCount(mf *io_prometheus_client.MetricFamily, labels map[string]string) uint64 {
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) && metric.Histogram != nil {
			return metric.Histogram.GetSampleCount()
		}
	}
	return 0
}

// Helper to check if metric labels match expected labels
func matchLabels(metricLabels []*io_prometheus_client.LabelPair, expected map[string]string) bool {
	if len(metricLabels) != len(expected) {
		return false
	}
	for _, lp := range metricLabels {
		if expected[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
