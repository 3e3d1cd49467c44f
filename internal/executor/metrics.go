package executor

import (
	"sync"
	"time"
)

// ExecutorMetrics tracks statistics about step execution.
type ExecutorMetrics struct {
	StepsExecuted    int
	StepsSucceeded   int
	StepsFailed      int
	TotalDuration    time.Duration
	LongestStepTime  time.Duration
	ShortestStepTime time.Duration

	mu sync.Mutex // Protects metrics updates
}

func (m *ExecutorMetrics) recordSuccess(durationMS int64) {
	m.record(durationMS)
	m.mu.Lock()
	m.StepsSucceeded++
	m.mu.Unlock()
}

func (m *ExecutorMetrics) recordFailure(durationMS int64) {
	m.record(durationMS)
	m.mu.Lock()
	m.StepsFailed++
	m.mu.Unlock()
}

func (m *ExecutorMetrics) record(durationMS int64) {
	d := time.Duration(durationMS) * time.Millisecond

	m.mu.Lock()
	defer m.mu.Unlock()

	m.StepsExecuted++
	m.TotalDuration += d
	if d > m.LongestStepTime {
		m.LongestStepTime = d
	}
	if m.ShortestStepTime == 0 || d < m.ShortestStepTime {
		m.ShortestStepTime = d
	}
}

// Copy returns a copy without the mutex.
func (m *ExecutorMetrics) Copy() ExecutorMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ExecutorMetrics{
		StepsExecuted:    m.StepsExecuted,
		StepsSucceeded:   m.StepsSucceeded,
		StepsFailed:      m.StepsFailed,
		TotalDuration:    m.TotalDuration,
		LongestStepTime:  m.LongestStepTime,
		ShortestStepTime: m.ShortestStepTime,
	}
}
