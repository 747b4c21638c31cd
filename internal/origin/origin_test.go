package origin

import "testing"

func TestAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		origin    string
		want      bool
	}{
		{"wildcard all", []string{"*"}, "https://anything.test", true},
		{"exact", []string{"https://speed.example.com"}, "https://speed.example.com", true},
		{"suffix", []string{"*.example.com"}, "https://foo.example.com", true},
		{"suffix apex", []string{"*.example.com"}, "https://example.com", true},
		{"suffix lookalike", []string{"*.example.com"}, "https://badexample.com", false},
		{"host with port", []string{"foo.example.com"}, "https://foo.example.com:8443", true},
		{"empty list", nil, "https://foo.example.com", false},
		{"blank entries", []string{" ", ""}, "https://foo.example.com", false},
		{"other host", []string{"https://a.test"}, "https://b.test", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.allowList, tt.origin); got != tt.want {
				t.Fatalf("Allowed(%v, %q) = %v, want %v", tt.allowList, tt.origin, got, tt.want)
			}
		})
	}
}

func TestAllowsAll(t *testing.T) {
	if !AllowsAll([]string{"https://a.test", " * "}) {
		t.Fatal("expected * to allow all")
	}
	if AllowsAll([]string{"*.a.test"}) {
		t.Fatal("suffix wildcard must not allow all")
	}
}

func TestStripHostPort(t *testing.T) {
	cases := map[string]string{
		"example.com:80": "example.com",
		"[::1]:8080":     "::1",
		"[::1]":          "::1",
		"example.com":    "example.com",
		"":               "",
	}
	for in, want := range cases {
		if got := StripHostPort(in); got != want {
			t.Fatalf("StripHostPort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSameHost(t *testing.T) {
	if !SameHost("http://localhost:3000", "localhost:8080") {
		t.Fatal("expected same host regardless of port")
	}
	if SameHost("http://evil.test", "localhost:8080") {
		t.Fatal("expected different hosts to mismatch")
	}
}
