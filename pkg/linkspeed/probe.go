package linkspeed

import (
	"context"
	"fmt"
	"io"
	"net/http"

	lserrors "github.com/saveenergy/linkspeed/pkg/errors"
)

// Ping returns the mean round trip to PingURL in milliseconds.
func Ping(ctx context.Context, cfg Config) (float64, error) {
	url := Resolve(cfg.PingURL, cfg)
	return defaultSampler.run(ctx, PhasePing, fetchProbe(cfg.doer(), url), cfg.Samples, cfg.Observer)
}

// Download times GETs of DownloadURL, resolved once, and converts the mean
// into a throughput for BlobSize bytes.
func Download(ctx context.Context, cfg Config) (Throughput, error) {
	if err := checkBlobSize(cfg.BlobSize); err != nil {
		return Throughput{}, err
	}
	url := Resolve(cfg.DownloadURL, cfg)
	meanMs, err := defaultSampler.run(ctx, PhaseDownload, fetchProbe(cfg.doer(), url), cfg.Samples, cfg.Observer)
	if err != nil {
		return Throughput{}, err
	}
	return CalculateSpeed(cfg.BlobSize, meanMs/1000), nil
}

// Upload times POSTs of a zero-filled BlobSize payload to UploadURL. The
// payload is streamed, so memory use does not grow with BlobSize.
func Upload(ctx context.Context, cfg Config) (Throughput, error) {
	if err := checkBlobSize(cfg.BlobSize); err != nil {
		return Throughput{}, err
	}
	url := Resolve(cfg.UploadURL, cfg)
	meanMs, err := defaultSampler.run(ctx, PhaseUpload, uploadProbe(cfg.doer(), url, cfg.BlobSize), cfg.Samples, cfg.Observer)
	if err != nil {
		return Throughput{}, err
	}
	return CalculateSpeed(cfg.BlobSize, meanMs/1000), nil
}

func fetchProbe(client Doer, url string) Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		// Transfer size must match BlobSize.
		req.Header.Set("Accept-Encoding", "identity")
		return roundTrip(client, req)
	}
}

func uploadProbe(client Doer, url string, size int64) Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return err
		}
		body := zeroBody(size)
		req.Body, _ = body()
		req.GetBody = body
		req.ContentLength = size
		req.Header.Set("Content-Type", "application/octet-stream")
		return roundTrip(client, req)
	}
}

func roundTrip(client Doer, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return lserrors.NewHTTPError(req.Method, req.URL.String(), resp.StatusCode, resp.Status)
	}

	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// zeroReader yields an endless run of zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// zeroBody returns a GetBody func producing size zero bytes. A zero size
// gets http.NoBody so the transport sends Content-Length: 0.
func zeroBody(size int64) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		if size == 0 {
			return http.NoBody, nil
		}
		return io.NopCloser(io.LimitReader(zeroReader{}, size)), nil
	}
}

func checkBlobSize(size int64) error {
	if size < 0 {
		return lserrors.ErrInvalidConfig(fmt.Sprintf("blob size must be >= 0, got %d", size))
	}
	return nil
}
