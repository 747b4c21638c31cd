package measure

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	lserrors "github.com/saveenergy/linkspeed/pkg/errors"
	"github.com/saveenergy/linkspeed/pkg/linkspeed"
)

const maxSaveResponseBytes = 4096

type saveRequest struct {
	RoundTripMs float64              `json:"round_trip_ms"`
	Download    linkspeed.Throughput `json:"download"`
	Upload      linkspeed.Throughput `json:"upload"`
	Samples     int                  `json:"samples"`
	BlobSize    int64                `json:"blob_size"`
}

// saveResult posts the report to {server}/api/v1/results and returns the
// stored id with an absolute URL.
func saveResult(ctx context.Context, client linkspeed.Doer, server string, rep *Report) (*SavedResult, error) {
	server = strings.TrimRight(server, "/")
	body, err := json.Marshal(saveRequest{
		RoundTripMs: rep.Result.RoundTripMs,
		Download:    rep.Result.Download,
		Upload:      rep.Result.Upload,
		Samples:     rep.Samples,
		BlobSize:    rep.BlobSize,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode result")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/v1/results", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build save request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "save result")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSaveResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read save response")
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, errors.Wrap(lserrors.NewHTTPError(req.Method, req.URL.String(), resp.StatusCode, resp.Status), "save result")
	}

	var saved SavedResult
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, errors.Wrap(err, "decode save response")
	}
	if strings.HasPrefix(saved.URL, "/") {
		saved.URL = server + saved.URL
	}
	return &saved, nil
}
