package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saveenergy/linkspeed/internal/config"
	"github.com/saveenergy/linkspeed/internal/logging"
	"github.com/saveenergy/linkspeed/internal/origin"
	"github.com/saveenergy/linkspeed/internal/results"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 64
)

type ctxKey int

const requestIDKey ctxKey = iota

type Router struct {
	probe            *ProbeHandler
	resultsHandler   *results.Handler
	liveHandler      http.HandlerFunc
	limiter          *RateLimiter
	clientIPResolver *ClientIPResolver
	allowedOrigins   []string
	version          string
	serverName       string
}

func NewRouter(cfg *config.Config, version string) *Router {
	return &Router{
		probe: NewProbeHandler(cfg.MaxBlobSize, cfg.MaxUploadBytes,
			cfg.MaxConcurrentTransfers, cfg.TransferTimeout),
		limiter:          NewRateLimiter(cfg),
		clientIPResolver: NewClientIPResolver(cfg),
		allowedOrigins:   cfg.AllowedOrigins,
		version:          version,
		serverName:       cfg.ServerName,
	}
}

func (r *Router) SetResultsHandler(h *results.Handler) {
	r.resultsHandler = h
}

// SetLiveHandler mounts the websocket result feed.
func (r *Router) SetLiveHandler(h http.HandlerFunc) {
	r.liveHandler = h
}

func (r *Router) ClientIP(req *http.Request) string {
	return r.clientIPResolver.FromRequest(req)
}

func (r *Router) Probe() *ProbeHandler {
	return r.probe
}

func (r *Router) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Probe endpoints are timed by clients; they bypass the rate limiter.
	mux.HandleFunc("GET /empty", r.probe.Empty)
	mux.HandleFunc("GET /blob/{size}", r.probe.Blob)
	mux.HandleFunc("POST /upload", r.probe.Upload)

	mux.HandleFunc("GET /health", r.HealthCheck)

	v1 := func(pattern string, h http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.HandleFunc(method+" /api/v1"+path, r.limiter.Middleware(h))
	}
	v1("GET /version", r.GetVersion)
	v1("GET /stats", r.GetStats)
	if r.resultsHandler != nil {
		v1("POST /results", r.resultsHandler.Save)
		v1("GET /results/{id}", r.resultsHandler.Get)
	}
	if r.liveHandler != nil {
		// More specific than /results/{id}, so the mux prefers it.
		v1("GET /results/live", r.liveHandler)
	}

	var handler http.Handler = mux
	handler = r.CORSMiddleware(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = r.LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

func (r *Router) CORSMiddleware(next http.Handler) http.Handler {
	allowAll := origin.AllowsAll(r.allowedOrigins)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		o := req.Header.Get("Origin")
		allowed := o != "" && origin.Allowed(r.allowedOrigins, o)
		if allowed {
			allowOrigin := o
			if allowAll {
				allowOrigin = "*"
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
			h.Set("Access-Control-Expose-Headers", requestIDHeader)
			h.Set("Access-Control-Max-Age", "86400")
			if !allowAll {
				h.Add("Vary", "Origin")
			}
		}
		if req.Method == http.MethodOptions {
			if o != "" && !allowed {
				respondJSON(w, map[string]string{"error": "origin not allowed"}, http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// RequestIDMiddleware propagates a well-formed incoming X-Request-ID or
// assigns a fresh UUID, and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

func (r *Router) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, req)

		fields := []logging.Field{
			logging.String("method", req.Method),
			logging.String("path", req.URL.Path),
			logging.Int("status", rw.statusCode),
			logging.Float("duration_ms", float64(time.Since(start).Microseconds())/1000),
			logging.String("ip", r.ClientIP(req)),
			logging.String("request_id", RequestID(req.Context())),
		}
		// Probe traffic is high volume.
		if isProbePath(req.URL.Path) {
			logging.Debug("HTTP request", fields...)
			return
		}
		logging.Info("HTTP request", fields...)
	})
}

func isProbePath(path string) bool {
	return path == "/empty" || path == "/upload" || strings.HasPrefix(path, "/blob/")
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
