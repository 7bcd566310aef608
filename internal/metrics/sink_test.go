package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSink_CounterAccumulates(t *testing.T) {
	s := NewPrometheusSink("synctest_counter")
	c := s.Counter("jobs_processed_total", map[string]string{"tenant": "t1"})
	c.Inc(1)
	c.Inc(2)

	m := &dto.Metric{}
	require.NoError(t, s.counters["jobs_processed_total"].WithLabelValues("t1").Write(m))
	assert.Equal(t, float64(3), m.GetCounter().GetValue())
}

func TestPrometheusSink_GaugeSetsLatestValue(t *testing.T) {
	s := NewPrometheusSink("synctest_gauge")
	g := s.Gauge("active_jobs", map[string]string{"tenant": "t1"})
	g.Set(5)
	g.Set(2)

	m := &dto.Metric{}
	require.NoError(t, s.gauges["active_jobs"].WithLabelValues("t1").Write(m))
	assert.Equal(t, float64(2), m.GetGauge().GetValue())
}
