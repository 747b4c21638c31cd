// Package diagnostic grades a link measurement and turns the raw figures
// into ratings, suitability tags and concerns for people and agents.
package diagnostic

import (
	"fmt"
	"strings"

	"github.com/saveenergy/linkspeed/pkg/linkspeed"
)

type Interpretation struct {
	Grade          string   `json:"grade"`
	Summary        string   `json:"summary"`
	LatencyRating  string   `json:"latency_rating"`
	DownloadRating string   `json:"download_rating"`
	UploadRating   string   `json:"upload_rating"`
	SuitableFor    []string `json:"suitable_for"`
	Concerns       []string `json:"concerns"`
}

// Params are the raw metrics to interpret. Zero means not measured.
type Params struct {
	RoundTripMs  float64
	DownloadMbps float64
	UploadMbps   float64
}

// FromResult converts a measurement into Params.
func FromResult(r *linkspeed.Result) Params {
	if r == nil {
		return Params{}
	}
	return Params{
		RoundTripMs:  r.RoundTripMs,
		DownloadMbps: r.Download.Mbps(),
		UploadMbps:   r.Upload.Mbps(),
	}
}

func Interpret(p Params) *Interpretation {
	interp := &Interpretation{
		LatencyRating:  rateLatency(p.RoundTripMs),
		DownloadRating: rateSpeed(p.DownloadMbps, 100, 25, 5),
		UploadRating:   rateSpeed(p.UploadMbps, 50, 10, 2),
		SuitableFor:    suitability(p),
		Concerns:       concerns(p),
	}
	interp.Grade = computeGrade(interp.LatencyRating, interp.DownloadRating, interp.UploadRating)
	interp.Summary = buildSummary(interp.Grade, p)
	return interp
}

func rateLatency(ms float64) string {
	switch {
	case ms <= 0:
		return "unknown"
	case ms <= 20:
		return "excellent"
	case ms <= 50:
		return "good"
	case ms <= 100:
		return "fair"
	default:
		return "poor"
	}
}

func rateSpeed(mbps, fast, good, moderate float64) string {
	switch {
	case mbps <= 0:
		return "unknown"
	case mbps >= fast:
		return "fast"
	case mbps >= good:
		return "good"
	case mbps >= moderate:
		return "moderate"
	default:
		return "slow"
	}
}

func suitability(p Params) []string {
	s := []string{}
	latencyKnown := p.RoundTripMs > 0

	if (p.DownloadMbps >= 1 || p.UploadMbps >= 1) && (!latencyKnown || p.RoundTripMs < 200) {
		s = append(s, "web_browsing")
	}
	if p.DownloadMbps >= 5 && p.UploadMbps >= 2 && latencyKnown && p.RoundTripMs < 100 {
		s = append(s, "video_conferencing")
	}
	if p.DownloadMbps >= 25 {
		s = append(s, "streaming_4k")
	} else if p.DownloadMbps >= 5 {
		s = append(s, "streaming_hd")
	}
	if latencyKnown && p.RoundTripMs < 50 && p.DownloadMbps >= 3 {
		s = append(s, "gaming")
	}
	if p.DownloadMbps >= 50 || p.UploadMbps >= 50 {
		s = append(s, "large_transfers")
	}
	return s
}

func concerns(p Params) []string {
	c := []string{}
	if p.RoundTripMs > 100 {
		c = append(c, "high_latency")
	}
	if p.DownloadMbps > 0 && p.DownloadMbps < 5 {
		c = append(c, "slow_download")
	}
	if p.UploadMbps > 0 && p.UploadMbps < 2 {
		c = append(c, "slow_upload")
	}
	// Heavily asymmetric links stall uploads of backups and video calls.
	if p.UploadMbps > 0 && p.DownloadMbps >= 20*p.UploadMbps {
		c = append(c, "asymmetric_link")
	}
	return c
}

var ratingScore = map[string]int{
	"excellent": 4,
	"fast":      4,
	"good":      3,
	"fair":      2,
	"moderate":  2,
	"poor":      0,
	"slow":      0,
	"unknown":   2,
}

// computeGrade maps the summed rating scores (max 12) onto A-F.
func computeGrade(ratings ...string) string {
	score := 0
	for _, r := range ratings {
		score += ratingScore[r]
	}
	switch {
	case score >= 11:
		return "A"
	case score >= 9:
		return "B"
	case score >= 6:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}

var gradeDesc = map[string]string{
	"A": "Excellent",
	"B": "Good",
	"C": "Fair",
	"D": "Poor",
	"F": "Very poor",
}

func buildSummary(grade string, p Params) string {
	parts := []string{}
	if p.DownloadMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f Mbps down", p.DownloadMbps))
	}
	if p.UploadMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f Mbps up", p.UploadMbps))
	}
	if p.RoundTripMs > 0 {
		parts = append(parts, fmt.Sprintf("%.0fms round trip", p.RoundTripMs))
	}

	summary := gradeDesc[grade] + " connection"
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	return summary
}
