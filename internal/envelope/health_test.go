package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitor_FlipsUnhealthyAtFailureThreshold(t *testing.T) {
	m := NewHealthMonitor(HealthOptions{FailureThreshold: 3, SuccessThreshold: 2, ProbeInterval: time.Hour})
	t.Cleanup(m.Close)

	m.RecordFailure("k", time.Millisecond, "boom")
	m.RecordFailure("k", time.Millisecond, "boom")
	rec, ok := m.Snapshot("k")
	require.True(t, ok)
	assert.True(t, rec.IsHealthy)

	m.RecordFailure("k", time.Millisecond, "boom")
	rec, _ = m.Snapshot("k")
	assert.False(t, rec.IsHealthy)
	assert.Equal(t, 3, rec.ConsecutiveFailures)
}

func TestHealthMonitor_RecoversAtSuccessThreshold(t *testing.T) {
	m := NewHealthMonitor(HealthOptions{FailureThreshold: 1, SuccessThreshold: 2, ProbeInterval: time.Hour})
	t.Cleanup(m.Close)

	m.RecordFailure("k", time.Millisecond, "boom")
	rec, _ := m.Snapshot("k")
	assert.False(t, rec.IsHealthy)

	m.RecordSuccess("k", time.Millisecond)
	rec, _ = m.Snapshot("k")
	assert.False(t, rec.IsHealthy)

	m.RecordSuccess("k", time.Millisecond)
	rec, _ = m.Snapshot("k")
	assert.True(t, rec.IsHealthy)
}

func TestHealthMonitor_BoundsCheckEventRing(t *testing.T) {
	m := NewHealthMonitor(HealthOptions{ProbeInterval: time.Hour})
	t.Cleanup(m.Close)

	for i := 0; i < maxCheckEvents+10; i++ {
		m.RecordSuccess("k", time.Millisecond)
	}
	rec, _ := m.Snapshot("k")
	assert.Len(t, rec.events, maxCheckEvents)
}
