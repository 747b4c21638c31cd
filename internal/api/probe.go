package api

import (
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/saveenergy/linkspeed/internal/logging"
	"github.com/saveenergy/linkspeed/internal/metrics"
)

const blobSourceSize = 4 * 1024 * 1024

// ProbeHandler serves the three endpoints a link measurement times:
// an empty ping, a sized blob download and an upload sink.
type ProbeHandler struct {
	maxBlobSize     int64
	maxUploadBytes  int64
	maxTransfers    int64
	transferTimeout time.Duration
	active          atomic.Int64
	source          []byte
	stats           *metrics.Collector
}

type uploadResponse struct {
	Bytes      int64 `json:"bytes"`
	DurationMs int64 `json:"duration_ms"`
}

func NewProbeHandler(maxBlobSize, maxUploadBytes int64, maxTransfers int, transferTimeout time.Duration) *ProbeHandler {
	h := &ProbeHandler{
		maxBlobSize:     maxBlobSize,
		maxUploadBytes:  maxUploadBytes,
		maxTransfers:    int64(maxTransfers),
		transferTimeout: transferTimeout,
		source:          make([]byte, blobSourceSize),
		stats:           metrics.NewCollector(),
	}
	// Random bytes keep compressing middleboxes from shrinking the blob.
	if _, err := rand.Read(h.source); err != nil {
		logging.Warn("probe: random source init failed, serving zeros", logging.Err(err))
	}
	return h
}

func (h *ProbeHandler) Empty(w http.ResponseWriter, r *http.Request) {
	drainRequestBody(r)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

func (h *ProbeHandler) Blob(w http.ResponseWriter, r *http.Request) {
	drainRequestBody(r)

	size, err := strconv.ParseInt(r.PathValue("size"), 10, 64)
	if err != nil || size < 0 || size > h.maxBlobSize {
		respondJSON(w, map[string]string{
			"error": "size must be 0-" + strconv.FormatInt(h.maxBlobSize, 10),
		}, http.StatusBadRequest)
		return
	}

	if !h.acquire() {
		respondJSON(w, map[string]string{"error": "too many concurrent transfers"}, http.StatusServiceUnavailable)
		return
	}
	defer h.release()

	h.extendDeadline(w, false)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	if err := writeBlob(w, h.source, size); err != nil {
		logging.Debug("probe: blob write aborted", logging.Err(err))
		return
	}
	h.stats.RecordTransfer(metrics.Download, size, time.Since(start))
}

// Upload discards the request body. Rejected uploads are not drained; the
// server closes the connection instead.
func (h *ProbeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.acquire() {
		respondJSON(w, map[string]string{"error": "too many concurrent transfers"}, http.StatusServiceUnavailable)
		return
	}
	defer h.release()

	if r.ContentLength > h.maxUploadBytes {
		respondJSON(w, map[string]string{"error": "upload too large"}, http.StatusRequestEntityTooLarge)
		return
	}

	h.extendDeadline(w, true)

	start := time.Now()
	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondJSON(w, map[string]string{"error": "upload too large"}, http.StatusRequestEntityTooLarge)
			return
		}
		respondJSON(w, map[string]string{"error": "upload failed"}, http.StatusBadRequest)
		return
	}

	elapsed := time.Since(start)
	h.stats.RecordTransfer(metrics.Upload, n, elapsed)
	respondJSON(w, uploadResponse{
		Bytes:      n,
		DurationMs: elapsed.Milliseconds(),
	}, http.StatusOK)
}

func (h *ProbeHandler) Active() int64 {
	return h.active.Load()
}

// Stats returns the running transfer totals.
func (h *ProbeHandler) Stats() *metrics.Collector {
	return h.stats
}

func (h *ProbeHandler) acquire() bool {
	if h.active.Add(1) > h.maxTransfers {
		h.active.Add(-1)
		h.stats.RecordRejected()
		return false
	}
	return true
}

func (h *ProbeHandler) release() {
	h.active.Add(-1)
}

// extendDeadline replaces the server-wide timeouts with the per-transfer
// budget. Writers that cannot take deadlines are left alone.
func (h *ProbeHandler) extendDeadline(w http.ResponseWriter, read bool) {
	if h.transferTimeout <= 0 {
		return
	}
	rc := http.NewResponseController(w)
	deadline := time.Now().Add(h.transferTimeout)
	_ = rc.SetWriteDeadline(deadline)
	if read {
		_ = rc.SetReadDeadline(deadline)
	}
}

// writeBlob writes exactly size bytes, cycling through source.
func writeBlob(w io.Writer, source []byte, size int64) error {
	for size > 0 {
		chunk := int64(len(source))
		if chunk > size {
			chunk = size
		}
		n, err := w.Write(source[:chunk])
		if err != nil {
			return err
		}
		size -= int64(n)
	}
	return nil
}

func drainRequestBody(r *http.Request) {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()
}
