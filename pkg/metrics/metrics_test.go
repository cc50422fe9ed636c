package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.TasksSubmitted.WithLabelValues("http").Add(3)
	r.WorkerPoolSize.WithLabelValues("http").Set(4)
	r.ConnectionsRejected.WithLabelValues("hello", "rate_limited").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(r.TasksSubmitted.WithLabelValues("http")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.WorkerPoolSize.WithLabelValues("http")))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["hellopool_workerpool_tasks_submitted_total"])
	assert.True(t, names["hellopool_server_connections_rejected_total"])
}

func TestConfigBuild(t *testing.T) {
	assert.Nil(t, Config{Enabled: false}.Build())
	assert.Same(t, DefaultRegistry, Config{Enabled: true}.Build())

	reg := prometheus.NewRegistry()
	r := Config{Enabled: true, Registry: reg, Namespace: "edge"}.Build()
	require.NotNil(t, r)
	r.Responses.WithLabelValues("hello", "200").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "edge_server_responses_total", families[0].GetName())
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)
	assert.Panics(t, func() { NewRegistry(reg) })
}
