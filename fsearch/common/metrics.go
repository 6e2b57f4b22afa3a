package common

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of VolumeMetrics
type MetricsSnapshot struct {
	Builds        int64
	FailedBuilds  int64
	Updates       int64
	Finds         int64
	Cancelled     int64
	Examined      int64
	Records       int
	LastBuild     time.Time
	LastBuildTime time.Duration
	LastUpdate    time.Time
	LastFind      time.Time
	LastError     string
}

// VolumeMetrics tracks index and search activity of one volume
type VolumeMetrics struct {
	mu sync.RWMutex
	s  MetricsSnapshot
}

// RecordBuild is called after every build attempt.
func (m *VolumeMetrics) RecordBuild(start time.Time, records int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.s.Builds++
	m.s.LastBuild = time.Now()
	m.s.LastBuildTime = time.Since(start)
	if err != nil {
		m.s.FailedBuilds++
		m.s.LastError = err.Error()
		return
	}
	m.s.Records = records
}

// RecordUpdate is called after every incremental update.
func (m *VolumeMetrics) RecordUpdate(records int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.s.Updates++
	m.s.LastUpdate = time.Now()
	if err != nil {
		m.s.LastError = err.Error()
		return
	}
	m.s.Records = records
}

// RecordFind is called after every search pass.
func (m *VolumeMetrics) RecordFind(examined int, cancelled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.s.Finds++
	m.s.LastFind = time.Now()
	if cancelled {
		m.s.Cancelled++
		return
	}
	m.s.Examined += int64(examined)
}

// Snapshot returns a copy that is safe to read without locking.
func (m *VolumeMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s
}
