package testsupport

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metricPrefix = "gatekeeper_"

// GetMetricValue returns the current value of a gatekeeper_ metric from the
// default registry, summed over every series matching labelFilter. Counters
// and gauges report their value, histograms their sample count. A partial
// filter therefore aggregates, e.g. all results of rule_evaluations_total.
func GetMetricValue(t *testing.T, metricName string, labelFilter map[string]string) float64 {
	t.Helper()
	require.True(t, strings.HasPrefix(metricName, metricPrefix), "metric %q is outside the gatekeeper namespace", metricName)

	mf := gatherFamily(t, metricName)
	if mf == nil {
		return 0
	}

	var total float64
	for _, m := range mf.GetMetric() {
		if !matchesLabels(m, labelFilter) {
			continue
		}
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			total += m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			total += m.GetGauge().GetValue()
		case dto.MetricType_HISTOGRAM:
			total += float64(m.GetHistogram().GetSampleCount())
		default:
			t.Fatalf("metric %s has unsupported type %s", metricName, mf.GetType())
		}
	}
	return total
}

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "gather metrics")
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(m *dto.Metric, filter map[string]string) bool {
	for name, want := range filter {
		found := false
		for _, pair := range m.GetLabel() {
			if pair.GetName() == name {
				found = pair.GetValue() == want
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AssertMetricDelta asserts that fn moved a metric by exactly expectedDelta.
func AssertMetricDelta(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()
	after := GetMetricValue(t, metricName, labels)

	assert.Equal(t, expectedDelta, after-before, "metric %s%v delta mismatch", metricName, labels)
}

// AssertHistogramRecorded asserts that a histogram has at least one sample.
func AssertHistogramRecorded(t *testing.T, metricName string, labels map[string]string) {
	t.Helper()

	assert.Positive(t, GetMetricValue(t, metricName, labels), "histogram %s%v has no samples", metricName, labels)
}

// AssertMetricsLint runs the Prometheus linter over every gatekeeper_ family
// currently exported by the default registry.
func AssertMetricsLint(t *testing.T) {
	t.Helper()

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "gather metrics")

	var names []string
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), metricPrefix) {
			names = append(names, mf.GetName())
		}
	}
	require.NotEmpty(t, names, "no gatekeeper metrics registered")

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer, names...)
	require.NoError(t, err)
	for _, p := range problems {
		t.Errorf("metric %s: %s", p.Metric, p.Text)
	}
}
