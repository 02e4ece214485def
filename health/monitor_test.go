package health

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want State
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewUnhealthy("a", ""), NewDegraded("b", "")}, StateUnhealthy},
		{"unhealthy after degraded", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, got.State)
			assert.Equal(t, "system", got.Component)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_CopiesSubStatuses(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	agg := Aggregate("system", subs)
	subs[0].State = StateUnhealthy
	assert.True(t, agg.SubStatuses[0].IsHealthy())
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("pipeline", nil).IsHealthy())

	st := FromError("nats", stderrors.New("dial nats://10.0.0.1:4222 refused"))
	assert.True(t, st.IsUnhealthy())
	assert.Equal(t, "dial [URL] refused", st.Message)
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, 0, m.Count())

	m.Update("pipeline", Status{Component: "other", State: StateHealthy, Message: "running"})
	got, ok := m.Get("pipeline")
	require.True(t, ok)
	assert.Equal(t, "pipeline", got.Component)
	assert.False(t, got.Timestamp.IsZero())

	m.UpdateDegraded("nats", "reconnecting")
	agg := m.AggregateHealth("stagerun")
	assert.True(t, agg.IsDegraded())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "nats", agg.SubStatuses[0].Component)
	assert.Equal(t, "pipeline", agg.SubStatuses[1].Component)

	m.UpdateUnhealthy("pipeline", "failed")
	assert.True(t, m.AggregateHealth("stagerun").IsUnhealthy())

	m.Remove("pipeline")
	_, ok = m.Get("pipeline")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Count())
}

func TestMonitor_ConcurrentUpdates(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.UpdateHealthy("pipeline", "running")
		}()
		go func() {
			defer wg.Done()
			_ = m.AggregateHealth("stagerun")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, m.Count())
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("pipeline", "running")

	rec := httptest.NewRecorder()
	m.Handler("stagerun").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StateHealthy, body.State)
	assert.Equal(t, "stagerun", body.Component)

	m.UpdateUnhealthy("pipeline", "failed")
	rec = httptest.NewRecorder()
	m.Handler("stagerun").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
