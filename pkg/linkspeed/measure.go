// Package linkspeed estimates link quality by timing a handful of HTTP
// requests: a near-empty ping, a blob download and a blob upload.
//
// Usage:
//
//	result, err := linkspeed.Measure(ctx)
//	result, err := linkspeed.Measure(ctx,
//		linkspeed.WithSamples(3),
//		linkspeed.WithBaseURL("https://speed.example.com"))
//
// Each phase samples its probe sequentially and averages the timings. The
// phases run one after another; the first failure aborts the measurement.
package linkspeed

import (
	"context"

	"github.com/pkg/errors"
)

// Result is the outcome of one full measurement.
type Result struct {
	RoundTripMs float64    `json:"round_trip_ms"`
	Download    Throughput `json:"download"`
	Upload      Throughput `json:"upload"`
}

// Measure overlays opts onto DefaultConfig and runs ping, download and
// upload in that order.
func Measure(ctx context.Context, opts ...Option) (*Result, error) {
	return MeasureConfig(ctx, NewConfig(opts...))
}

// MeasureConfig is Measure for a fully built Config. Errors are wrapped
// with the failing phase; errors.As still reaches the cause.
func MeasureConfig(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rtt, err := Ping(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, string(PhasePing))
	}
	down, err := Download(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, string(PhaseDownload))
	}
	up, err := Upload(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, string(PhaseUpload))
	}

	return &Result{RoundTripMs: rtt, Download: down, Upload: up}, nil
}
