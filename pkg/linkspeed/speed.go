package linkspeed

import (
	"math"
	"strconv"
)

var speedUnits = [...]string{"bps", "kbps", "Mbps", "Gbps", "Tbps", "Pbps", "Ebps", "Zbps", "Ybps"}

// Throughput is a bits-per-second figure plus its display form.
type Throughput struct {
	BitsPerSecond float64 `json:"bits_per_second"`
	HumanReadable string  `json:"human_readable"`
}

// Mbps returns the rate in decimal megabits per second.
func (t Throughput) Mbps() float64 {
	return t.BitsPerSecond / 1_000_000
}

// FormatSpeed renders bytes transferred over seconds as a binary-scaled
// bit rate with one decimal, e.g. "32.0 Mbps". Non-positive durations
// render as the floor value "0.1 bps".
func FormatSpeed(bytes int64, seconds float64) string {
	var speed float64
	if seconds > 0 {
		speed = float64(bytes) * 8 / seconds
	}
	return FormatBitsPerSecond(speed)
}

// FormatBitsPerSecond renders an already computed bit rate the same way as
// FormatSpeed.
func FormatBitsPerSecond(speed float64) string {
	if math.IsNaN(speed) {
		speed = 0
	}
	unit := 0
	for speed > 1024 && unit < len(speedUnits)-1 {
		speed /= 1024
		unit++
	}
	return strconv.FormatFloat(math.Max(speed, 0.1), 'f', 1, 64) + " " + speedUnits[unit]
}

// CalculateSpeed converts a payload size and elapsed seconds into a
// Throughput. A zero duration yields +Inf (NaN for an empty payload).
func CalculateSpeed(size int64, seconds float64) Throughput {
	return Throughput{
		BitsPerSecond: float64(size) * 8 / seconds,
		HumanReadable: FormatSpeed(size, seconds),
	}
}
