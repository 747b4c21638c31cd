package results

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"regexp"
	"strings"

	"github.com/saveenergy/linkspeed/internal/logging"
	"github.com/saveenergy/linkspeed/pkg/linkspeed"
)

var validID = regexp.MustCompile(`^[0-9a-zA-Z]{8}$`)

const (
	maxResultBodyBytes = 4096
	maxBitsPerSecond   = 1e12 // 1 Tbps
	maxRoundTripMs     = 60000
	maxSamples         = 1000
)

// Publisher receives every successfully saved result.
type Publisher interface {
	Publish(Result)
}

type Handler struct {
	store     *Store
	publisher Publisher
	clientIP  func(*http.Request) string
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) SetPublisher(p Publisher) {
	h.publisher = p
}

func (h *Handler) SetClientIPFunc(fn func(*http.Request) string) {
	h.clientIP = fn
}

// saveRequest mirrors linkspeed.Result plus the sampling parameters.
type saveRequest struct {
	RoundTripMs float64              `json:"round_trip_ms"`
	Download    linkspeed.Throughput `json:"download"`
	Upload      linkspeed.Throughput `json:"upload"`
	Samples     int                  `json:"samples"`
	BlobSize    int64                `json:"blob_size"`
}

type saveResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func respondJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Warn("results: marshal response failed", logging.Err(err))
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	if code == http.StatusOK {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(code)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logging.Warn("results: write response failed", logging.Err(err))
	}
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		drainRequestBody(r)
		respondJSONError(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxResultBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	var req saveRequest
	if err := decoder.Decode(&req); err != nil {
		io.Copy(io.Discard, r.Body)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondJSONError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		io.Copy(io.Discard, r.Body)
		respondJSONError(w, "request body must contain a single JSON object", http.StatusBadRequest)
		return
	}

	if msg := validate(req); msg != "" {
		respondJSONError(w, msg, http.StatusBadRequest)
		return
	}

	result := Result{
		RoundTripMs:   req.RoundTripMs,
		DownloadBps:   req.Download.BitsPerSecond,
		UploadBps:     req.Upload.BitsPerSecond,
		DownloadHuman: linkspeed.FormatBitsPerSecond(req.Download.BitsPerSecond),
		UploadHuman:   linkspeed.FormatBitsPerSecond(req.Upload.BitsPerSecond),
		Samples:       req.Samples,
		BlobSize:      req.BlobSize,
	}
	if h.clientIP != nil {
		result.ClientIP = h.clientIP(r)
	}

	saved, err := h.store.Save(result)
	if err != nil {
		logging.Warn("results: save failed", logging.Err(err))
		msg, code := mapSaveStoreError(err)
		respondJSONError(w, msg, code)
		return
	}

	if h.publisher != nil {
		h.publisher.Publish(saved)
	}

	writeJSON(w, http.StatusCreated, saveResponse{
		ID:  saved.ID,
		URL: "/api/v1/results/" + saved.ID,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validID.MatchString(id) {
		respondJSONError(w, "invalid result ID", http.StatusBadRequest)
		return
	}

	result, err := h.store.Get(id)
	if err != nil {
		msg, code := mapGetStoreError(err)
		respondJSONError(w, msg, code)
		return
	}
	if result == nil {
		respondJSONError(w, "result not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func validate(req saveRequest) string {
	down, up := req.Download.BitsPerSecond, req.Upload.BitsPerSecond
	if hasNonFinite(req.RoundTripMs, down, up) {
		return "numeric fields must be finite"
	}
	if req.RoundTripMs < 0 || down < 0 || up < 0 || req.Samples < 0 || req.BlobSize < 0 {
		return "numeric fields must be >= 0"
	}
	if req.RoundTripMs > maxRoundTripMs || down > maxBitsPerSecond || up > maxBitsPerSecond ||
		req.Samples > maxSamples {
		return "values out of reasonable range"
	}
	return ""
}

func mapGetStoreError(err error) (string, int) {
	if errors.Is(err, ErrStoreRetryable) {
		return "store temporarily unavailable", http.StatusServiceUnavailable
	}
	return "internal error", http.StatusInternalServerError
}

func mapSaveStoreError(err error) (string, int) {
	if errors.Is(err, ErrStoreRetryable) {
		return "store temporarily unavailable", http.StatusServiceUnavailable
	}
	return "failed to save result", http.StatusInternalServerError
}

func hasNonFinite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func drainRequestBody(r *http.Request) {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()
}
