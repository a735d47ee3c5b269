package envelope

import (
	"context"
	"sync"
	"time"

	"github.com/memori-ai/memori/internal/llm"
)

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 2
	defaultProbeInterval    = 60 * time.Second
	maxCheckEvents          = 50
)

// CheckEvent is one entry in a provider's bounded health-check ring (spec
// §4.2 Health Monitor: bounded ring of check events retained for
// diagnostics).
type CheckEvent struct {
	At       time.Time
	Success  bool
	Duration time.Duration
	Err      string
}

// HealthRecord is the per-provider health state (spec §4.2 Health
// Monitor).
type HealthRecord struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	TotalRequests        int
	FailedRequests       int
	AverageResponseTime  time.Duration
	LastError            string
	IsHealthy            bool

	events []CheckEvent
}

// HealthMonitor tracks per-provider health records and runs a single
// liveness-probe ticker that probes every registered provider in turn
// (spec §4.2 Health Monitor).
type HealthMonitor struct {
	mu               sync.Mutex
	records          map[string]*HealthRecord
	failureThreshold int
	successThreshold int
	probeInterval    time.Duration

	stopProbe chan struct{}
	probed    map[string]llm.Provider
}

// HealthOptions configures a HealthMonitor; zero values take spec
// defaults.
type HealthOptions struct {
	FailureThreshold int
	SuccessThreshold int
	ProbeInterval    time.Duration
}

// NewHealthMonitor builds a HealthMonitor and starts its probe timer.
func NewHealthMonitor(opts HealthOptions) *HealthMonitor {
	ft := opts.FailureThreshold
	if ft <= 0 {
		ft = defaultFailureThreshold
	}
	st := opts.SuccessThreshold
	if st <= 0 {
		st = defaultSuccessThreshold
	}
	interval := opts.ProbeInterval
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	m := &HealthMonitor{
		records:          make(map[string]*HealthRecord),
		failureThreshold: ft,
		successThreshold: st,
		probeInterval:    interval,
		stopProbe:        make(chan struct{}),
		probed:           make(map[string]llm.Provider),
	}
	go m.probeLoop()
	return m
}

// Close stops the probe timer.
func (m *HealthMonitor) Close() {
	close(m.stopProbe)
}

// Register enrolls provider under key for the independent liveness-probe
// timer.
func (m *HealthMonitor) Register(key string, provider llm.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probed[key] = provider
	if _, ok := m.records[key]; !ok {
		m.records[key] = &HealthRecord{IsHealthy: true}
	}
}

func (m *HealthMonitor) probeLoop() {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopProbe:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

func (m *HealthMonitor) probeAll() {
	m.mu.Lock()
	snapshot := make(map[string]llm.Provider, len(m.probed))
	for k, v := range m.probed {
		snapshot[k] = v
	}
	m.mu.Unlock()

	ctx := context.Background()
	for key, provider := range snapshot {
		start := time.Now()
		ok := provider.IsHealthy(ctx)
		dur := time.Since(start)
		if ok {
			m.RecordSuccess(key, dur)
		} else {
			m.RecordFailure(key, dur, "liveness probe reported unhealthy")
		}
	}
}

// RecordSuccess records a successful call outcome for key (spec §4.2:
// callers record success/failure; isHealthy recovers at
// consecutiveSuccesses ≥ successThreshold).
func (m *HealthMonitor) RecordSuccess(key string, dur time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordLocked(key)
	r.TotalRequests++
	r.ConsecutiveSuccesses++
	r.ConsecutiveFailures = 0
	r.AverageResponseTime = averageResponseTime(r, dur)
	if r.ConsecutiveSuccesses >= m.successThreshold {
		r.IsHealthy = true
	}
	r.events = appendBounded(r.events, CheckEvent{At: time.Now(), Success: true, Duration: dur})
}

// RecordFailure records a failed call outcome for key (spec §4.2:
// isHealthy flips false at consecutiveFailures ≥ failureThreshold).
func (m *HealthMonitor) RecordFailure(key string, dur time.Duration, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordLocked(key)
	r.TotalRequests++
	r.FailedRequests++
	r.ConsecutiveFailures++
	r.ConsecutiveSuccesses = 0
	r.LastError = errMsg
	r.AverageResponseTime = averageResponseTime(r, dur)
	if r.ConsecutiveFailures >= m.failureThreshold {
		r.IsHealthy = false
	}
	r.events = appendBounded(r.events, CheckEvent{At: time.Now(), Success: false, Duration: dur, Err: errMsg})
}

func (m *HealthMonitor) recordLocked(key string) *HealthRecord {
	r, ok := m.records[key]
	if !ok {
		r = &HealthRecord{IsHealthy: true}
		m.records[key] = r
	}
	return r
}

// Snapshot returns a copy of the health record for key, if any exists.
func (m *HealthMonitor) Snapshot(key string) (HealthRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return HealthRecord{}, false
	}
	cp := *r
	cp.events = append([]CheckEvent(nil), r.events...)
	return cp, true
}

func averageResponseTime(r *HealthRecord, latest time.Duration) time.Duration {
	if r.TotalRequests <= 1 {
		return latest
	}
	total := int64(r.AverageResponseTime) * int64(r.TotalRequests-1)
	return time.Duration((total + int64(latest)) / int64(r.TotalRequests))
}

func appendBounded(events []CheckEvent, e CheckEvent) []CheckEvent {
	events = append(events, e)
	if len(events) > maxCheckEvents {
		events = events[len(events)-maxCheckEvents:]
	}
	return events
}
