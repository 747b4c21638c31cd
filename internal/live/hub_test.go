package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saveenergy/linkspeed/internal/results"
)

func dialFeed(t *testing.T, h *Hub, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleFeed))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return websocket.DefaultDialer.Dial(url, header)
}

func TestHubPublishReachesSubscriber(t *testing.T) {
	h := NewHub(time.Hour)
	defer h.Close()

	conn, _, err := dialFeed(t, h, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello message
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read connected: %v", err)
	}
	if hello.Type != "connected" {
		t.Fatalf("first message type = %q, want connected", hello.Type)
	}
	if h.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", h.ClientCount())
	}

	h.Publish(results.Result{ID: "abcd1234", DownloadHuman: "32.0 Mbps"})

	var got message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if got.Type != "result" || got.Result == nil {
		t.Fatalf("message = %+v", got)
	}
	if got.Result.ID != "abcd1234" || got.Result.DownloadHuman != "32.0 Mbps" {
		t.Fatalf("result = %+v", got.Result)
	}
}

func TestHubDropsDisconnectedSubscriber(t *testing.T) {
	h := NewHub(time.Hour)
	defer h.Close()

	conn, _, err := dialFeed(t, h, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello message
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read connected: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d after disconnect", h.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	h := NewHub(time.Hour)
	defer h.Close()
	h.SetAllowedOrigins([]string{"https://speed.example.com"})

	header := http.Header{}
	header.Set("Origin", "https://evil.test")
	_, resp, err := dialFeed(t, h, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", resp)
	}
}

func TestHubAllowedOrigin(t *testing.T) {
	h := NewHub(time.Hour)
	defer h.Close()

	if !h.isAllowedOrigin("", "localhost:8080") {
		t.Fatal("requests without Origin must be allowed")
	}
	if !h.isAllowedOrigin("http://localhost:3000", "localhost:8080") {
		t.Fatal("same host must be allowed with an empty allow-list")
	}
	h.SetAllowedOrigins([]string{"*.example.com"})
	if !h.isAllowedOrigin("https://foo.example.com", "foo.example.com") {
		t.Fatal("expected wildcard origin to be allowed")
	}
	if h.isAllowedOrigin("https://example.org", "foo.example.com") {
		t.Fatal("expected unrelated origin to be rejected")
	}
}
