package linkspeed

import (
	"net/http"
	"strconv"
	"testing"

	"gotest.tools/v3/assert"

	lserrors "github.com/saveenergy/linkspeed/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, cfg.Samples, 5)
	assert.Equal(t, cfg.BlobSize, int64(4194304))
	assert.Equal(t, Resolve(cfg.PingURL, cfg), "https://linkspeed.voror.workers.dev/empty")
	assert.Equal(t, Resolve(cfg.DownloadURL, cfg), "https://linkspeed.voror.workers.dev/blob/4194304")
	assert.Equal(t, Resolve(cfg.UploadURL, cfg), "https://linkspeed.voror.workers.dev/upload")
	assert.Assert(t, cfg.Client == nil)
	assert.NilError(t, cfg.Validate())
}

func TestNewConfigOverlaysSingleField(t *testing.T) {
	def := DefaultConfig()
	cfg := NewConfig(WithSamples(3))

	assert.Equal(t, cfg.Samples, 3)
	assert.Equal(t, cfg.BlobSize, def.BlobSize)
	assert.Equal(t, Resolve(cfg.PingURL, cfg), Resolve(def.PingURL, def))
	assert.Equal(t, Resolve(cfg.DownloadURL, cfg), Resolve(def.DownloadURL, def))
	assert.Equal(t, Resolve(cfg.UploadURL, cfg), Resolve(def.UploadURL, def))
	assert.Assert(t, cfg.Client == nil)
	assert.Assert(t, cfg.Observer == nil)

	assert.Equal(t, DefaultConfig().Samples, 5)
}

func TestBuildersDoNotMutateReceiver(t *testing.T) {
	base := DefaultConfig()

	changed := base.WithSamples(9).WithBlobSize(10).WithPingURL("http://x/ping")

	assert.Equal(t, base.Samples, 5)
	assert.Equal(t, base.BlobSize, DefaultBlobSize)
	assert.Equal(t, Resolve(base.PingURL, base), DefaultServiceURL+"/empty")
	assert.Equal(t, changed.Samples, 9)
	assert.Equal(t, Resolve(changed.PingURL, changed), "http://x/ping")
}

func TestResolveLiteral(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, Resolve(Literal("https://example.com/blob"), cfg), "https://example.com/blob")
}

func TestResolveResolverSeesConfig(t *testing.T) {
	cfg := DefaultConfig().
		WithDownloadResolver(func(c Config) string { return "x/" + strconv.FormatInt(c.BlobSize, 10) }).
		WithBlobSize(10)

	assert.Equal(t, Resolve(cfg.DownloadURL, cfg), "x/10")
}

func TestResolveNil(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, Resolve(nil, cfg), "")
	assert.Equal(t, Resolve(Resolver(nil), cfg), "")
}

func TestDownloadResolverTracksBlobSize(t *testing.T) {
	cfg := NewConfig(WithBlobSize(2048))
	assert.Equal(t, Resolve(cfg.DownloadURL, cfg), DefaultServiceURL+"/blob/2048")
}

func TestWithBaseURL(t *testing.T) {
	cfg := NewConfig(WithBaseURL("http://127.0.0.1:8080/"), WithBlobSize(64))

	assert.Equal(t, Resolve(cfg.PingURL, cfg), "http://127.0.0.1:8080/empty")
	assert.Equal(t, Resolve(cfg.DownloadURL, cfg), "http://127.0.0.1:8080/blob/64")
	assert.Equal(t, Resolve(cfg.UploadURL, cfg), "http://127.0.0.1:8080/upload")
}

func TestOptionsApplyInOrder(t *testing.T) {
	hc := &http.Client{}
	cfg := NewConfig(
		WithDownloadURL("http://a/blob"),
		WithUploadURL("http://a/up"),
		WithClient(hc),
		WithSamples(2),
		WithSamples(7),
	)

	assert.Equal(t, cfg.Samples, 7)
	assert.Equal(t, Resolve(cfg.DownloadURL, cfg), "http://a/blob")
	assert.Equal(t, Resolve(cfg.UploadURL, cfg), "http://a/up")
	assert.Equal(t, cfg.doer(), Doer(hc))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero samples", cfg: DefaultConfig().WithSamples(0)},
		{name: "negative samples", cfg: DefaultConfig().WithSamples(-2)},
		{name: "negative blob size", cfg: DefaultConfig().WithBlobSize(-1)},
		{name: "empty ping url", cfg: DefaultConfig().WithPingURL("")},
		{name: "empty download resolver", cfg: DefaultConfig().WithDownloadResolver(func(Config) string { return "" })},
		{name: "nil upload target", cfg: Config{Samples: 1, PingURL: Literal("a"), DownloadURL: Literal("b")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			assert.Assert(t, lserrors.IsInvalidConfig(err), "err = %v", err)
		})
	}

	assert.NilError(t, DefaultConfig().WithBlobSize(0).Validate())
}
