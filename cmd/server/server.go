// Package server implements `linkspeed serve`: the endpoint server that
// measurements run against, plus the saved-result API and live feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/saveenergy/linkspeed/internal/api"
	"github.com/saveenergy/linkspeed/internal/config"
	"github.com/saveenergy/linkspeed/internal/live"
	"github.com/saveenergy/linkspeed/internal/logging"
	"github.com/saveenergy/linkspeed/internal/results"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

type serverFlagValues struct {
	configPath     string
	port           string
	bind           string
	serverName     string
	dataDir        string
	maxBlobSize    int64
	maxUploadBytes int64
	transfers      int
	transferTO     time.Duration
	allowedOrigins string
	trustProxy     bool
	trustedCIDRs   string
	logLevel       string
	noStore        bool
}

func buildServerFlagSet(cfg *config.Config) (*pflag.FlagSet, *serverFlagValues) {
	fv := &serverFlagValues{}
	fs := pflag.NewFlagSet("linkspeed serve", pflag.ContinueOnError)
	fs.StringVarP(&fv.configPath, "config", "c", os.Getenv("LINKSPEED_CONFIG"), "YAML config file")
	fs.StringVarP(&fv.port, "port", "p", cfg.Port, "HTTP port")
	fs.StringVar(&fv.bind, "bind", cfg.BindAddress, "Bind address")
	fs.StringVar(&fv.serverName, "server-name", cfg.ServerName, "Name reported by /api/v1/version")
	fs.StringVar(&fv.dataDir, "data-dir", cfg.DataDir, "Directory for the results database")
	fs.Int64Var(&fv.maxBlobSize, "max-blob-size", cfg.MaxBlobSize, "Largest blob served by /blob/{size}")
	fs.Int64Var(&fv.maxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "Largest body accepted by /upload")
	fs.IntVar(&fv.transfers, "max-transfers", cfg.MaxConcurrentTransfers, "Concurrent blob/upload transfers before 503")
	fs.DurationVar(&fv.transferTO, "transfer-timeout", cfg.TransferTimeout, "Per-transfer read/write deadline")
	fs.StringVar(&fv.allowedOrigins, "allowed-origins", strings.Join(cfg.AllowedOrigins, ","), "Comma-separated CORS origins")
	fs.BoolVar(&fv.trustProxy, "trust-proxy-headers", cfg.TrustProxyHeaders, "Honour X-Forwarded-For from trusted proxies")
	fs.StringVar(&fv.trustedCIDRs, "trusted-proxy-cidrs", strings.Join(cfg.TrustedProxyCIDRs, ","), "Comma-separated trusted proxy CIDRs")
	fs.StringVar(&fv.logLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&fv.noStore, "no-store", false, "Disable the saved-result API and live feed")
	return fs, fv
}

func applyServerFlagOverrides(cfg *config.Config, fs *pflag.FlagSet, fv *serverFlagValues) {
	if fs.Changed("port") {
		cfg.Port = fv.port
	}
	if fs.Changed("bind") {
		cfg.BindAddress = fv.bind
	}
	if fs.Changed("server-name") {
		cfg.ServerName = fv.serverName
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = fv.dataDir
	}
	if fs.Changed("max-blob-size") {
		cfg.MaxBlobSize = fv.maxBlobSize
	}
	if fs.Changed("max-upload-bytes") {
		cfg.MaxUploadBytes = fv.maxUploadBytes
	}
	if fs.Changed("max-transfers") {
		cfg.MaxConcurrentTransfers = fv.transfers
	}
	if fs.Changed("transfer-timeout") {
		cfg.TransferTimeout = fv.transferTO
	}
	if fs.Changed("allowed-origins") {
		cfg.AllowedOrigins = splitCSV(fv.allowedOrigins)
	}
	if fs.Changed("trust-proxy-headers") {
		cfg.TrustProxyHeaders = fv.trustProxy
	}
	if fs.Changed("trusted-proxy-cidrs") {
		cfg.TrustedProxyCIDRs = splitCSV(fv.trustedCIDRs)
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}
}

// loadConfig layers defaults, the config file, LINKSPEED_* variables and
// flags, in that order.
func loadConfig(args []string) (*config.Config, *serverFlagValues, error) {
	cfg := config.DefaultConfig()
	fs, fv := buildServerFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, nil, usageError{err}
	}
	if fs.NArg() > 0 {
		return nil, nil, usageError{fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))}
	}

	if fv.configPath != "" {
		if err := cfg.LoadFile(fv.configPath); err != nil {
			return nil, nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, nil, err
	}
	applyServerFlagOverrides(cfg, fs, fv)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, fv, nil
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

// app is the assembled server with everything that needs closing.
type app struct {
	cfg     *config.Config
	handler http.Handler
	store   *results.Store
	hub     *live.Hub
}

func newApp(cfg *config.Config, version string, withStore bool) (*app, error) {
	a := &app{cfg: cfg}
	router := api.NewRouter(cfg, version)

	if withStore {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err := results.New(filepath.Join(cfg.DataDir, "results.db"), cfg.MaxStoredResults, cfg.ResultRetention)
		if err != nil {
			return nil, fmt.Errorf("open results store: %w", err)
		}
		a.store = store

		a.hub = live.NewHub(cfg.LiveFeedPingInterval)
		a.hub.SetAllowedOrigins(cfg.AllowedOrigins)

		rh := results.NewHandler(store)
		rh.SetPublisher(a.hub)
		rh.SetClientIPFunc(router.ClientIP)
		router.SetResultsHandler(rh)
		router.SetLiveHandler(a.hub.HandleFeed)
	}

	a.handler = router.SetupRoutes()
	return a, nil
}

func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// serve runs until ctx is cancelled or the listener fails.
func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.ListenAddress(),
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server starting",
			logging.String("address", srv.Addr),
			logging.String("server_name", a.cfg.ServerName),
			logging.Int("max_transfers", a.cfg.MaxConcurrentTransfers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func Run(args []string, version string) int {
	cfg, fv, err := loadConfig(args)
	if err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			if errors.Is(uerr.err, pflag.ErrHelp) {
				return exitSuccess
			}
			fmt.Fprintf(os.Stderr, "linkspeed serve: %v\n", err)
			return exitUsage
		}
		fmt.Fprintf(os.Stderr, "linkspeed serve: %v\n", err)
		return exitFailure
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkspeed serve: %v\n", err)
		return exitFailure
	}
	logging.Init(level)

	a, err := newApp(cfg, version, !fv.noStore)
	if err != nil {
		logging.Error("Failed to start server", logging.Err(err))
		return exitFailure
	}
	defer a.Close()

	pprofServer := startPprofServer(cfg)
	defer shutdownPprofServer(pprofServer, 5*time.Second)
	stopStats := startRuntimeStatsLogger(cfg)
	defer stopStats()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.serve(ctx); err != nil {
		logging.Error("Server failed", logging.Err(err))
		return exitFailure
	}
	logging.Info("Server stopped")
	return exitSuccess
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
