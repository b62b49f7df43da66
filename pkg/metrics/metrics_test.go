package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.IncIntent("schedule_reminder", "ok")
	m.IncIntent("schedule_reminder", "ok")
	m.IncFiring("early", "sent")
	m.IncBriefing("failed")
	m.SetJobs(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.intents.WithLabelValues("schedule_reminder", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reminders.WithLabelValues("early", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.briefings.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeJobs))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncIntent("chat", "ok")
		m.IncExtraction("error")
		m.IncFiring("on_time", "missed")
		m.SetJobs(1)
		m.IncBriefing("sent")
	})
}
