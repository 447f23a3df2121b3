package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex          sync.RWMutex
	dispatches     map[string]int64
	failures       map[string]int64
	responseTimes  map[string][]time.Duration
	demotions      map[string]int64
	revivals       map[string]int64
	probes         map[string]int64
	probeSuccesses map[string]int64
	active         map[string]bool
	startTime      time.Time
}

type Snapshot struct {
	TotalDispatches int64                       `json:"total_dispatches"`
	Uptime          time.Duration               `json:"uptime"`
	Connectors      map[string]ConnectorMetrics `json:"connectors"`
	Strategy        string                      `json:"strategy"`
}

type ConnectorMetrics struct {
	Dispatches     int64         `json:"dispatches"`
	Failures       int64         `json:"failures"`
	Demotions      int64         `json:"demotions"`
	Revivals       int64         `json:"revivals"`
	Probes         int64         `json:"probes"`
	ProbeSuccesses int64         `json:"probe_successes"`
	Active         bool          `json:"active"`
	AvgResponse    time.Duration `json:"avg_response"`
	P50Response    time.Duration `json:"p50_response"`
	P95Response    time.Duration `json:"p95_response"`
	P99Response    time.Duration `json:"p99_response"`
}

func (m *Metrics) RecordDispatch(connector string, duration time.Duration, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.dispatches[connector]++
	if !success {
		m.failures[connector]++
	}

	m.responseTimes[connector] = append(m.responseTimes[connector], duration)
	if len(m.responseTimes[connector]) > maxSamples {
		m.responseTimes[connector] = m.responseTimes[connector][1:]
	}
}

func (m *Metrics) RecordDemotion(connector string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.demotions[connector]++
	m.active[connector] = false
}

func (m *Metrics) RecordRevival(connector string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.revivals[connector]++
	m.active[connector] = true
}

func (m *Metrics) RecordProbe(connector string, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.probes[connector]++
	if success {
		m.probeSuccesses[connector]++
	}
}

func (m *Metrics) SetActive(connector string, active bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.active[connector] = active
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:     time.Since(m.startTime),
		Connectors: make(map[string]ConnectorMetrics),
		Strategy:   strategy,
	}

	all := make(map[string]bool)
	for _, set := range []map[string]int64{m.dispatches, m.demotions, m.revivals, m.probes} {
		for c := range set {
			all[c] = true
		}
	}
	for c := range m.active {
		all[c] = true
	}

	for c := range all {
		snap.TotalDispatches += m.dispatches[c]

		cm := ConnectorMetrics{
			Dispatches:     m.dispatches[c],
			Failures:       m.failures[c],
			Demotions:      m.demotions[c],
			Revivals:       m.revivals[c],
			Probes:         m.probes[c],
			ProbeSuccesses: m.probeSuccesses[c],
			Active:         m.active[c],
		}

		durations := m.responseTimes[c]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			cm.AvgResponse = average(sorted)
			cm.P50Response = percentile(sorted, 0.50)
			cm.P95Response = percentile(sorted, 0.95)
			cm.P99Response = percentile(sorted, 0.99)
		}

		snap.Connectors[c] = cm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		dispatches:     make(map[string]int64),
		failures:       make(map[string]int64),
		responseTimes:  make(map[string][]time.Duration),
		demotions:      make(map[string]int64),
		revivals:       make(map[string]int64),
		probes:         make(map[string]int64),
		probeSuccesses: make(map[string]int64),
		active:         make(map[string]bool),
		startTime:      time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
