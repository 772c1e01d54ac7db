package zapsim

import (
	"net/http"
	"net/url"
	"testing"
)

func raisedBy(p *page) map[string]bool {
	out := map[string]bool{}
	for _, a := range checkPage(p) {
		out[a.PluginID] = true
	}
	return out
}

func TestCheckPage_PlainHTTPWithoutHeaders(t *testing.T) {
	t.Parallel()
	p := &page{
		URL: "http://127.0.0.1:3000/",
		Header: http.Header{
			"Content-Type": {"text/html"},
			"Server":       {"Apache"},
		},
		Body: []byte("<html><body>hi</body></html>"),
	}

	got := raisedBy(p)
	for _, id := range []string{"10035", "10036", "10021", "10020", "10038", "10200"} {
		if !got[id] {
			t.Errorf("expected plugin %s to fire, got %v", id, got)
		}
	}
}

func TestCheckPage_HardenedHTTPS(t *testing.T) {
	t.Parallel()
	p := &page{
		URL: "https://example.test/",
		Header: http.Header{
			"Content-Type":              {"text/html"},
			"Strict-Transport-Security": {"max-age=31536000"},
			"X-Content-Type-Options":    {"nosniff"},
			"Content-Security-Policy":   {"default-src 'self'; frame-ancestors 'none'"},
			"Set-Cookie":                {"sid=1; Path=/; HttpOnly; Secure"},
		},
		Body: []byte(`<html><body><input type="password" name="pw"></body></html>`),
	}

	if alerts := checkPage(p); len(alerts) != 0 {
		t.Errorf("expected no alerts, got %+v", alerts)
	}
}

func TestPagesUnder_StopsAtPathBoundary(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig(), nil)
	t.Cleanup(func() { s.Close() })

	for _, raw := range []string{
		"http://127.0.0.1:3000/",
		"http://127.0.0.1:3000/admin",
		"http://127.0.0.1:3000/admin/users",
		"http://127.0.0.1:3000/admin?tab=1",
		"http://127.0.0.1:3000/administrator",
		"http://127.0.0.1:30001/",
	} {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		s.record(u, &page{Header: http.Header{}})
	}

	tests := []struct {
		prefix string
		want   int
	}{
		{"http://127.0.0.1:3000", 5},
		{"http://127.0.0.1:3000/admin", 3},
		{"http://127.0.0.1:30001", 1},
	}
	for _, tt := range tests {
		got := s.pagesUnder(tt.prefix)
		if len(got) != tt.want {
			var urls []string
			for _, p := range got {
				urls = append(urls, p.URL)
			}
			t.Errorf("pagesUnder(%q): expected %d pages, got %v", tt.prefix, tt.want, urls)
		}
	}
}
