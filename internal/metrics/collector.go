// Package metrics keeps running totals for the transfers the endpoint
// server has handled.
package metrics

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

type Direction string

const (
	Download Direction = "download"
	Upload   Direction = "upload"
)

const (
	bucketWidth = 10 * time.Millisecond
	bucketCount = 1000
)

type DurationSummary struct {
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	Count int64   `json:"count"`
}

type TransferStats struct {
	Count      int64           `json:"count"`
	Bytes      int64           `json:"bytes"`
	BytesHuman string          `json:"bytes_human"`
	Duration   DurationSummary `json:"duration"`
}

type Snapshot struct {
	UptimeSeconds float64       `json:"uptime_seconds"`
	Download      TransferStats `json:"download"`
	Upload        TransferStats `json:"upload"`
	Rejected      int64         `json:"rejected"`
}

type directionStats struct {
	count int64
	bytes int64
	hist  *durationHistogram
}

// Collector is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	started  time.Time
	stats    map[Direction]*directionStats
	rejected int64
	now      func() time.Time
}

func NewCollector() *Collector {
	c := &Collector{now: time.Now}
	c.Reset()
	return c
}

// RecordTransfer counts one completed transfer of n bytes that took d.
func (c *Collector) RecordTransfer(dir Direction, n int64, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[dir]
	if !ok {
		return
	}
	s.count++
	s.bytes += n
	s.hist.record(d)
}

// RecordRejected counts a transfer refused because the server was at its
// concurrency cap.
func (c *Collector) RecordRejected() {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		UptimeSeconds: c.now().Sub(c.started).Seconds(),
		Download:      c.stats[Download].snapshot(),
		Upload:        c.stats[Upload].snapshot(),
		Rejected:      c.rejected,
	}
}

func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = c.now()
	c.rejected = 0
	c.stats = map[Direction]*directionStats{
		Download: {hist: newDurationHistogram(bucketWidth, bucketCount)},
		Upload:   {hist: newDurationHistogram(bucketWidth, bucketCount)},
	}
}

func (s *directionStats) snapshot() TransferStats {
	return TransferStats{
		Count:      s.count,
		Bytes:      s.bytes,
		BytesHuman: humanize.IBytes(uint64(s.bytes)),
		Duration:   s.hist.summary(),
	}
}
