package server

import (
	"context"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/saveenergy/linkspeed/internal/config"
	"github.com/saveenergy/linkspeed/internal/logging"
)

func startPprofServer(cfg *config.Config) *http.Server {
	if cfg == nil || !cfg.PprofEnabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:              cfg.PprofAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logging.Info("pprof server starting", logging.String("address", cfg.PprofAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("pprof server failed", logging.Err(err))
		}
	}()

	return srv
}

func shutdownPprofServer(srv *http.Server, timeout time.Duration) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("pprof server shutdown error", logging.Err(err))
	}
}

// startRuntimeStatsLogger logs goroutine and heap figures every
// PerfStatsInterval. The returned func stops it.
func startRuntimeStatsLogger(cfg *config.Config) func() {
	if cfg == nil || cfg.PerfStatsInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.PerfStatsInterval)
		defer ticker.Stop()

		var mem runtime.MemStats
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			runtime.ReadMemStats(&mem)
			logging.Info("runtime stats",
				logging.Int("goroutines", runtime.NumGoroutine()),
				logging.Field{Key: "heap_alloc_bytes", Value: mem.HeapAlloc},
				logging.Field{Key: "heap_inuse_bytes", Value: mem.HeapInuse},
				logging.Field{Key: "gc_count", Value: mem.NumGC},
			)
		}
	}()
	return func() { close(done) }
}
