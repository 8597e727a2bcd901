package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/marmos91/dsserver/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	metrics.InitRegistry()
	reg := metrics.GetRegistry()
	require.NotNil(t, reg)

	sm := NewServerMetrics()
	pm := NewPoolMetrics()

	sm.RecordRequest("GET_NUM_CLIENTS", 2*time.Millisecond, nil)
	sm.RecordRequest("PAYLOAD", time.Millisecond, errors.New("boom"))
	sm.SetActiveClients(2)
	sm.RecordConnectionAccepted()
	sm.RecordAcceptTimeout()

	pm.SetWorkers(3, 1, 2)
	pm.RecordWorkerCreated()
	pm.RecordWorkerRetired("pruned")
	pm.RecordTaskDuration(50 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			key := f.GetName()
			for _, lp := range m.GetLabel() {
				key += "/" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 1.0, values["dsserver_requests_total/GET_NUM_CLIENTS/success"])
	assert.Equal(t, 1.0, values["dsserver_requests_total/PAYLOAD/error"])
	assert.Equal(t, 2.0, values["dsserver_active_clients"])
	assert.Equal(t, 1.0, values["dsserver_accept_timeouts_total"])
	assert.Equal(t, 2.0, values["dsserver_pool_workers/busy"])
	assert.Equal(t, 1.0, values["dsserver_pool_workers_retired_total/pruned"])
	assert.Equal(t, 1.0, values["dsserver_pool_task_duration_seconds"])
}
