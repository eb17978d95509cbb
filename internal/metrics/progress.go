package metrics

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Counters are shared between the workers of a job and the collector
type Counters struct {
	rows    atomic.Int64
	tuples  atomic.Int64
	batches atomic.Int64
}

// CounterSnapshot is a point-in-time copy of Counters
type CounterSnapshot struct {
	Rows    int64
	Tuples  int64
	Batches int64
}

// AddBatch records one finished batch
func (c *Counters) AddBatch(rows, tuples int64) {
	c.rows.Add(rows)
	c.tuples.Add(tuples)
	c.batches.Add(1)
}

// Snapshot reads all counters
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Rows:    c.rows.Load(),
		Tuples:  c.tuples.Load(),
		Batches: c.batches.Load(),
	}
}

// ProgressTracker tracks progress for long-running operations
type ProgressTracker struct {
	total       int64
	startTime   time.Time
	description string
}

// NewProgressTracker creates a tracker for total units of work.
// total may be 0 when unknown.
func NewProgressTracker(total int64, description string) *ProgressTracker {
	return &ProgressTracker{
		total:       total,
		startTime:   time.Now(),
		description: description,
	}
}

// Progress holds current progress information
type Progress struct {
	Current     int64
	Total       int64
	Percentage  float64
	Elapsed     time.Duration
	ETA         time.Duration
	Throughput  float64 // units per second
	Description string
}

// Calculate returns progress after current units are done
func (p *ProgressTracker) Calculate(current int64) Progress {
	return p.calculateAt(current, time.Since(p.startTime))
}

func (p *ProgressTracker) calculateAt(current int64, elapsed time.Duration) Progress {
	var percentage, throughput float64
	var eta time.Duration

	if elapsed.Seconds() > 0 {
		throughput = float64(current) / elapsed.Seconds()
	}

	if p.total > 0 && current > 0 {
		percentage = float64(current) / float64(p.total) * 100
		if percentage > 100 {
			percentage = 100
		}
		if remaining := p.total - current; remaining > 0 && throughput > 0 {
			eta = time.Duration(float64(remaining) / throughput * float64(time.Second))
		}
	}

	return Progress{
		Current:     current,
		Total:       p.total,
		Percentage:  percentage,
		Elapsed:     elapsed.Round(time.Second),
		ETA:         eta.Round(time.Second),
		Throughput:  throughput,
		Description: p.description,
	}
}

// FormatETA formats the ETA duration in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}

// FormatBytes formats bytes in a human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
