// Package measure implements `linkspeed measure`: one link measurement
// against the public service or a self-hosted linkspeed server.
package measure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/saveenergy/linkspeed/internal/logging"
	"github.com/saveenergy/linkspeed/internal/transport"
	lserrors "github.com/saveenergy/linkspeed/pkg/errors"
	"github.com/saveenergy/linkspeed/pkg/linkspeed"
)

const (
	exitSuccess   = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInterrupt = 130
)

// env carries the process surroundings so tests can substitute them.
type env struct {
	stdout     io.Writer
	stderr     io.Writer
	isTTY      bool
	configPath string
}

func Run(args []string, version string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, args, version, env{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		isTTY:      term.IsTerminal(int(os.Stdout.Fd())),
		configPath: getConfigPath(),
	})
}

type parsedFlags struct {
	opts       Options
	server     string
	blobSize   string
	configPath string
	version    bool
	changed    func(string) bool
}

func parseFlags(args []string, defaultConfigPath string, out io.Writer) (*parsedFlags, error) {
	pf := &parsedFlags{}
	d := defaultOptions()

	fs := pflag.NewFlagSet("linkspeed measure", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.IntVarP(&pf.opts.Samples, "samples", "n", d.Samples, "Samples per phase")
	fs.StringVarP(&pf.blobSize, "blob-size", "b", humanize.IBytes(uint64(d.BlobSize)), "Download/upload payload size (e.g. 4MiB, 1000000)")
	fs.StringVarP(&pf.server, "server", "S", "", "linkspeed server URL or alias from the config file")
	fs.StringVar(&pf.opts.PingURL, "ping-url", "", "Override the ping URL")
	fs.StringVar(&pf.opts.DownloadURL, "download-url", "", "Override the download URL")
	fs.StringVar(&pf.opts.UploadURL, "upload-url", "", "Override the upload URL")
	fs.StringVar(&pf.opts.Network, "network", d.Network, "tcp, tcp4 or tcp6")
	fs.StringVar(&pf.opts.Proxy, "proxy", "", "Proxy URL (socks5://, http://)")
	fs.BoolVar(&pf.opts.HTTP2, "http2", false, "Negotiate HTTP/2")
	fs.DurationVar(&pf.opts.Timeout, "timeout", d.Timeout, "Overall measurement timeout (0 = none)")
	fs.BoolVar(&pf.opts.JSON, "json", false, "Output JSON")
	fs.BoolVar(&pf.opts.Save, "save", false, "Store the result on the linkspeed server")
	fs.BoolVar(&pf.opts.NoColor, "no-color", false, "Disable color output")
	fs.BoolVarP(&pf.opts.Verbose, "verbose", "v", false, "Log every sample")
	fs.StringVar(&pf.configPath, "config", defaultConfigPath, "Config file")
	fs.BoolVar(&pf.version, "version", false, "Print version")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	n, err := humanize.ParseBytes(pf.blobSize)
	if err != nil {
		return nil, fmt.Errorf("invalid --blob-size %q: %w", pf.blobSize, err)
	}
	pf.opts.BlobSize = int64(n)
	pf.changed = fs.Changed
	return pf, nil
}

func run(ctx context.Context, args []string, version string, e env) int {
	pf, err := parseFlags(args, e.configPath, e.stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitSuccess
		}
		fmt.Fprintf(e.stderr, "linkspeed measure: %v\n", err)
		return exitUsage
	}
	if pf.version {
		fmt.Fprintf(e.stdout, "linkspeed %s\n", version)
		return exitSuccess
	}

	cf, err := loadConfigFile(pf.configPath)
	if err != nil {
		fmt.Fprintf(e.stderr, "linkspeed measure: %v\n", err)
		return exitUsage
	}
	opts := mergeConfig(&pf.opts, pf.server, cf, pf.changed, e.stderr)
	if err := validateOptions(opts); err != nil {
		fmt.Fprintf(e.stderr, "linkspeed measure: %v\n", err)
		return exitUsage
	}

	client, err := transport.NewClient(transport.Options{
		Network: opts.Network,
		Proxy:   opts.Proxy,
		HTTP2:   opts.HTTP2,
	})
	if err != nil {
		fmt.Fprintf(e.stderr, "linkspeed measure: %v\n", err)
		return exitUsage
	}

	var progress, verbose linkspeed.Observer
	if e.isTTY && !opts.JSON {
		progress = progressObserver(e.stderr)
	}
	if opts.Verbose {
		verbose = verboseObserver(logging.New(e.stderr, logging.LevelDebug))
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cfg := opts.linkConfig(client, chainObservers(progress, verbose))
	result, err := linkspeed.MeasureConfig(ctx, cfg)
	if err != nil {
		return reportError(ctx, e.stderr, progress != nil, err)
	}

	rep := newReport(result, opts)
	if opts.Save {
		saved, err := saveResult(ctx, client, opts.ServerURL, rep)
		if err != nil {
			return reportError(ctx, e.stderr, progress != nil, err)
		}
		rep.Saved = saved
	}

	if opts.JSON {
		if err := writeJSON(e.stdout, rep); err != nil {
			fmt.Fprintf(e.stderr, "linkspeed measure: %v\n", err)
			return exitFailure
		}
		return exitSuccess
	}
	writeTable(e.stdout, rep, opts.NoColor || !e.isTTY)
	return exitSuccess
}

// reportError prints err and picks the exit code. An interrupted context
// exits 130; an exhausted timeout is an ordinary failure. clearLine wipes a
// half-drawn progress line first.
func reportError(ctx context.Context, w io.Writer, clearLine bool, err error) int {
	if clearLine {
		fmt.Fprint(w, clearProgress)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(w, "linkspeed measure: interrupted")
		return exitInterrupt
	}
	fmt.Fprintf(w, "linkspeed measure: %v\n", err)
	if lserrors.IsInvalidConfig(err) {
		return exitUsage
	}
	return exitFailure
}
