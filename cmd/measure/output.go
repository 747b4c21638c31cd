package measure

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/saveenergy/linkspeed/internal/logging"
	"github.com/saveenergy/linkspeed/pkg/diagnostic"
	"github.com/saveenergy/linkspeed/pkg/linkspeed"
)

// Report is what the command prints: the measurement, how it was taken,
// its interpretation and, with --save, where it was stored.
type Report struct {
	Result     *linkspeed.Result          `json:"result"`
	Samples    int                        `json:"samples"`
	BlobSize   int64                      `json:"blob_size"`
	Diagnostic *diagnostic.Interpretation `json:"diagnostic"`
	Saved      *SavedResult               `json:"saved,omitempty"`
}

type SavedResult struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func newReport(r *linkspeed.Result, o *Options) *Report {
	return &Report{
		Result:     r,
		Samples:    o.Samples,
		BlobSize:   o.BlobSize,
		Diagnostic: diagnostic.Interpret(diagnostic.FromResult(r)),
	}
}

func writeJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

var gradeColor = map[string]string{
	"A": "\033[32m",
	"B": "\033[32m",
	"C": "\033[33m",
	"D": "\033[31m",
	"F": "\033[31m",
}

func writeTable(w io.Writer, rep *Report, noColor bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value", "Detail"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	r := rep.Result
	table.Append([]string{"Round trip", strconv.FormatFloat(r.RoundTripMs, 'f', 1, 64) + " ms", ""})
	table.Append([]string{"Download", r.Download.HumanReadable, mbps(r.Download)})
	table.Append([]string{"Upload", r.Upload.HumanReadable, mbps(r.Upload)})
	table.Append([]string{"Samples", humanize.Comma(int64(rep.Samples)), humanize.IBytes(uint64(rep.BlobSize)) + " blob"})
	table.Render()

	d := rep.Diagnostic
	grade := d.Grade
	if !noColor {
		grade = gradeColor[grade] + grade + "\033[0m"
	}
	fmt.Fprintf(w, "\nGrade %s  %s\n", grade, d.Summary)
	if len(d.Concerns) > 0 {
		fmt.Fprintf(w, "Concerns: %v\n", d.Concerns)
	}
	if rep.Saved != nil {
		fmt.Fprintf(w, "Saved: %s\n", rep.Saved.URL)
	}
}

func mbps(t linkspeed.Throughput) string {
	return humanize.CommafWithDigits(t.Mbps(), 2) + " Mbit/s"
}

const clearProgress = "\r\033[K"

// progressObserver redraws a single status line per completed sample.
func progressObserver(w io.Writer) linkspeed.Observer {
	return func(p linkspeed.Progress) {
		fmt.Fprintf(w, clearProgress+"%-8s %d/%d  %s", p.Phase, p.Sample, p.Count, p.Elapsed.Round(time.Millisecond))
		if p.Phase == linkspeed.PhaseUpload && p.Sample == p.Count {
			fmt.Fprint(w, clearProgress)
		}
	}
}

// verboseObserver logs every sample at debug level.
func verboseObserver(logger *logging.Logger) linkspeed.Observer {
	return func(p linkspeed.Progress) {
		logger.Debug("sample complete",
			logging.String("phase", string(p.Phase)),
			logging.Int("sample", p.Sample),
			logging.Int("count", p.Count),
			logging.Duration("elapsed", p.Elapsed))
	}
}

func chainObservers(obs ...linkspeed.Observer) linkspeed.Observer {
	var active []linkspeed.Observer
	for _, o := range obs {
		if o != nil {
			active = append(active, o)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return func(p linkspeed.Progress) {
		for _, o := range active {
			o(p)
		}
	}
}
