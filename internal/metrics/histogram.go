package metrics

import "time"

// durationHistogram buckets samples into fixed-width bins. Samples past the
// last bucket count as overflow.
type durationHistogram struct {
	bucketWidth time.Duration
	buckets     []uint32
	overflow    uint32
	count       int64
	sum         time.Duration
	min         time.Duration
	max         time.Duration
}

func newDurationHistogram(bucketWidth time.Duration, bucketCount int) *durationHistogram {
	if bucketWidth <= 0 {
		bucketWidth = time.Millisecond
	}
	if bucketCount <= 0 {
		bucketCount = 1
	}
	return &durationHistogram{
		bucketWidth: bucketWidth,
		buckets:     make([]uint32, bucketCount),
	}
}

func (h *durationHistogram) record(sample time.Duration) {
	if sample < 0 {
		sample = 0
	}
	if h.count == 0 || sample < h.min {
		h.min = sample
	}
	if sample > h.max {
		h.max = sample
	}
	h.count++
	h.sum += sample

	index := int(sample / h.bucketWidth)
	if index >= len(h.buckets) {
		h.overflow++
		return
	}
	h.buckets[index]++
}

func (h *durationHistogram) summary() DurationSummary {
	if h.count == 0 {
		return DurationSummary{}
	}
	maxMs := toMs(h.max)
	return DurationSummary{
		MinMs: toMs(h.min),
		MaxMs: maxMs,
		AvgMs: toMs(h.sum) / float64(h.count),
		P50Ms: h.percentile(0.50, maxMs),
		P95Ms: h.percentile(0.95, maxMs),
		P99Ms: h.percentile(0.99, maxMs),
		Count: h.count,
	}
}

// percentile reports the upper edge of the bucket holding the ratio-th
// sample, or the observed max when that sample overflowed.
func (h *durationHistogram) percentile(ratio, maxMs float64) float64 {
	target := int64(float64(h.count)*ratio) + 1
	if target > h.count {
		target = h.count
	}

	var seen int64
	for i, c := range h.buckets {
		seen += int64(c)
		if seen >= target {
			return toMs(time.Duration(i+1) * h.bucketWidth)
		}
	}
	return maxMs
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
