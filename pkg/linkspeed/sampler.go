package linkspeed

import (
	"context"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"

	lserrors "github.com/saveenergy/linkspeed/pkg/errors"
)

// Probe is one timed network operation. It must not return until the
// response body has been fully consumed.
type Probe func(ctx context.Context) error

type sampler struct {
	now func() time.Time
}

var defaultSampler = sampler{now: time.Now}

// Sample runs probe count times, one after another, and returns the mean
// duration in milliseconds. The first probe error is returned unchanged and
// stops sampling.
func Sample(ctx context.Context, probe Probe, count int) (float64, error) {
	return defaultSampler.run(ctx, "", probe, count, nil)
}

func (s sampler) run(ctx context.Context, phase Phase, probe Probe, count int, observe Observer) (float64, error) {
	if count < 1 {
		return 0, lserrors.ErrInvalidConfig(fmt.Sprintf("samples must be >= 1, got %d", count))
	}

	durations := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		start := s.now()
		if err := probe(ctx); err != nil {
			return 0, err
		}
		elapsed := s.now().Sub(start)

		durations = append(durations, float64(elapsed)/float64(time.Millisecond))
		if observe != nil {
			observe(Progress{Phase: phase, Sample: i + 1, Count: count, Elapsed: elapsed})
		}
	}

	return stats.Mean(durations)
}
