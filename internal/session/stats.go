package session

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// StatsSnapshot represents a snapshot of current render loop statistics
type StatsSnapshot struct {
	RendersPerSec float64
	AvgRenderMs   float64
	CellsPerSec   float64
	MutationCount int64
	Timestamp     time.Time
	State         string
}

// RenderStats tracks render loop statistics with thread-safe operations
type RenderStats struct {
	mu             sync.Mutex
	renderCount    int64
	renderNanos    int64
	cellCount      int64
	mutationCount  int64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
}

// NewRenderStats creates a new RenderStats instance
func NewRenderStats() *RenderStats {
	now := time.Now()
	return &RenderStats{
		lastReset: now,
		startTime: now,
	}
}

// AddRender records one completed render pass and the number of valid
// depth cells it consumed
func (rs *RenderStats) AddRender(elapsed time.Duration, validCells int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.renderCount++
	rs.renderNanos += elapsed.Nanoseconds()
	rs.cellCount += int64(validCells)
}

// AddMutation records one accepted profile mutation
func (rs *RenderStats) AddMutation() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.mutationCount++
}

// GetAndReset returns current stats and resets counters
func (rs *RenderStats) GetAndReset() (renders int64, renderNanos int64, cells int64, mutations int64, duration time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := time.Now()
	duration = now.Sub(rs.lastReset)
	renders = rs.renderCount
	renderNanos = rs.renderNanos
	cells = rs.cellCount
	mutations = rs.mutationCount

	rs.renderCount = 0
	rs.renderNanos = 0
	rs.cellCount = 0
	rs.mutationCount = 0
	rs.lastReset = now

	return
}

// LogStats logs formatted statistics and stores snapshot for web interface
func (rs *RenderStats) LogStats(state string) {
	renders, renderNanos, cells, mutations, duration := rs.GetAndReset()
	if renders > 0 || mutations > 0 {
		rendersPerSec := float64(renders) / duration.Seconds()
		cellsPerSec := float64(cells) / duration.Seconds()
		avgRenderMs := 0.0
		if renders > 0 {
			avgRenderMs = float64(renderNanos) / float64(renders) / 1e6
		}

		// Store snapshot for web interface
		rs.mu.Lock()
		rs.latestSnapshot = &StatsSnapshot{
			RendersPerSec: rendersPerSec,
			AvgRenderMs:   avgRenderMs,
			CellsPerSec:   cellsPerSec,
			MutationCount: mutations,
			Timestamp:     time.Now(),
			State:         state,
		}
		rs.mu.Unlock()

		var logMsg string
		if renders > 0 {
			logMsg = fmt.Sprintf("Session stats (/sec): %.1f frames, %s cells, %.2f ms avg render",
				rendersPerSec, FormatWithCommas(int64(cellsPerSec)), avgRenderMs)
		} else {
			logMsg = "Session stats: no frames rendered"
		}

		if mutations > 0 {
			logMsg += fmt.Sprintf(", %d profile updates", mutations)
		}

		log.Print(logMsg)
	}
}

// GetUptime returns the time since the stats were created
func (rs *RenderStats) GetUptime() time.Duration {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return time.Since(rs.startTime)
}

// GetLatestSnapshot returns the most recent stats snapshot for web interface
func (rs *RenderStats) GetLatestSnapshot() *StatsSnapshot {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.latestSnapshot == nil {
		return nil
	}
	// Return a copy to avoid race conditions
	snapshot := *rs.latestSnapshot
	return &snapshot
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
