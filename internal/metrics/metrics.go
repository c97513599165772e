package metrics

import (
	"sort"
	"sync"
	"time"
)

// maxDurationSamples caps the per-target duration window used for
// percentile calculation.
const maxDurationSamples = 1000

type Metrics struct {
	mutex          sync.RWMutex
	totalRequests  int64
	noRoute        int64
	requests       map[string]int64
	outcomes       map[string]map[string]int64
	bytesToBackend map[string]int64
	bytesToClient  map[string]int64
	durations      map[string][]time.Duration
	statusCodes    map[string]map[int]int64
	startTime      time.Time
}

type Snapshot struct {
	TotalRequests int64                    `json:"total_requests"`
	NoRoute       int64                    `json:"no_route"`
	Uptime        time.Duration            `json:"uptime"`
	Targets       map[string]TargetMetrics `json:"targets"`
}

type TargetMetrics struct {
	Requests       int64            `json:"requests"`
	Outcomes       map[string]int64 `json:"outcomes"`
	BytesToBackend int64            `json:"bytes_to_backend"`
	BytesToClient  int64            `json:"bytes_to_client"`
	AvgDuration    time.Duration    `json:"avg_duration"`
	P50Duration    time.Duration    `json:"p50_duration"`
	P95Duration    time.Duration    `json:"p95_duration"`
	P99Duration    time.Duration    `json:"p99_duration"`
	StatusCodes    map[int]int64    `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:       make(map[string]int64),
		outcomes:       make(map[string]map[string]int64),
		bytesToBackend: make(map[string]int64),
		bytesToClient:  make(map[string]int64),
		durations:      make(map[string][]time.Duration),
		statusCodes:    make(map[string]map[int]int64),
		startTime:      time.Now(),
	}
}

func (m *Metrics) IncrementRequests() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.totalRequests++
}

func (m *Metrics) RecordNoRoute() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.noRoute++
}

// RecordOutcome records one finished request against its resolved target.
func (m *Metrics) RecordOutcome(target, outcome string, duration time.Duration, statusCode int, bytesToBackend, bytesToClient int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests[target]++
	m.bytesToBackend[target] += bytesToBackend
	m.bytesToClient[target] += bytesToClient

	if m.outcomes[target] == nil {
		m.outcomes[target] = make(map[string]int64)
	}
	m.outcomes[target][outcome]++

	if statusCode != 0 {
		if m.statusCodes[target] == nil {
			m.statusCodes[target] = make(map[int]int64)
		}
		m.statusCodes[target][statusCode]++
	}

	m.durations[target] = append(m.durations[target], duration)
	if len(m.durations[target]) > maxDurationSamples {
		m.durations[target] = m.durations[target][1:]
	}
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalRequests: m.totalRequests,
		NoRoute:       m.noRoute,
		Uptime:        time.Since(m.startTime),
		Targets:       make(map[string]TargetMetrics, len(m.requests)),
	}

	for target, count := range m.requests {
		tm := TargetMetrics{
			Requests:       count,
			Outcomes:       make(map[string]int64, len(m.outcomes[target])),
			BytesToBackend: m.bytesToBackend[target],
			BytesToClient:  m.bytesToClient[target],
			StatusCodes:    make(map[int]int64, len(m.statusCodes[target])),
		}
		for outcome, n := range m.outcomes[target] {
			tm.Outcomes[outcome] = n
		}
		for code, n := range m.statusCodes[target] {
			tm.StatusCodes[code] = n
		}

		if samples := m.durations[target]; len(samples) > 0 {
			var total time.Duration
			for _, d := range samples {
				total += d
			}
			tm.AvgDuration = total / time.Duration(len(samples))
			tm.P50Duration = percentile(samples, 0.50)
			tm.P95Duration = percentile(samples, 0.95)
			tm.P99Duration = percentile(samples, 0.99)
		}

		snap.Targets[target] = tm
	}

	return snap
}

// percentile returns the p-th percentile of samples. Callers must hold at
// least a read lock; the slice is copied before sorting.
func percentile(samples []time.Duration, p float64) time.Duration {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
