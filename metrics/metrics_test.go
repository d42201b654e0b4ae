package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums a gathered counter family across the given label value.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncTransition("suspended")
	m.IncTransition("suspended")
	m.ObserveNotification("arrears_suspension", nil)
	m.ObserveNotification("arrears_suspension", errors.New("smtp down"))
	m.ObserveJob("arrears", "completed", time.Now())

	assert.Equal(t, 2.0, counterValue(t, reg, "membership_transitions_total", "suspended"))
	assert.Equal(t, 1.0, counterValue(t, reg, "membership_notifications_sent_total", "arrears_suspension"))
	assert.Equal(t, 1.0, counterValue(t, reg, "membership_notification_errors_total", "arrears_suspension"))
	assert.Equal(t, 1.0, counterValue(t, reg, "membership_job_runs_total", "completed"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncTransition("active")
		m.IncInvoice("annual")
		m.IncClaimDecision("approved")
		m.ObserveNotification("x", nil)
		m.ObserveJob("x", "completed", time.Now())
	})
}
