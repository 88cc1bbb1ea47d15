package httpkit

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient()
	if c.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", c.Timeout)
	}
}

func TestNewClient_ZeroTimeout(t *testing.T) {
	c := NewClient(WithTimeout(0))
	if c.Timeout != 0 {
		t.Errorf("expected 0 timeout, got %v", c.Timeout)
	}
}

func echoUserAgent(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func getBody(t *testing.T, c *http.Client, req *http.Request) string {
	t.Helper()
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := echoUserAgent(t)

	tests := []struct {
		name   string
		opts   []ClientOption
		preset string
		check  func(string) bool
	}{
		{
			name:  "default",
			check: func(ua string) bool { return strings.HasPrefix(ua, "weekend-wizard/") },
		},
		{
			name:  "override",
			opts:  []ClientOption{WithUserAgent("TestBot/1.0")},
			check: func(ua string) bool { return ua == "TestBot/1.0" },
		},
		{
			name:   "caller header wins",
			preset: "CustomBot/2.0",
			check:  func(ua string) bool { return ua == "CustomBot/2.0" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			if tt.preset != "" {
				req.Header.Set("User-Agent", tt.preset)
			}
			got := getBody(t, NewClient(tt.opts...), req)
			if !tt.check(got) {
				t.Errorf("unexpected User-Agent %q", got)
			}
		})
	}
}

func TestNewClient_WithLogger(t *testing.T) {
	srv := echoUserAgent(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/probe", nil)
	getBody(t, NewClient(WithLogger(logger)), req)

	if !strings.Contains(buf.String(), "path=/probe") {
		t.Errorf("expected request to be logged, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("expected status in log, got %q", buf.String())
	}
}

func TestNewTransport_Bounded(t *testing.T) {
	tr := newTransport()
	if tr.TLSHandshakeTimeout != tlsHandshakeTimeout || tr.IdleConnTimeout != idleConnTimeout {
		t.Errorf("timeouts = %v/%v", tr.TLSHandshakeTimeout, tr.IdleConnTimeout)
	}
	if tr.MaxIdleConnsPerHost != maxIdleConnsPerHost || tr.Proxy == nil {
		t.Errorf("pool = %d, proxy set = %v", tr.MaxIdleConnsPerHost, tr.Proxy != nil)
	}
}

func TestDrainAndClose(t *testing.T) {
	rc := io.NopCloser(strings.NewReader("hello world"))
	DrainAndClose(rc, 1024)  // should not panic
	DrainAndClose(nil, 1024) // nil should not panic
}

func TestReadErrorBody(t *testing.T) {
	tests := []struct {
		name  string
		rc    io.ReadCloser
		limit int64
		want  string
	}{
		{"full", io.NopCloser(strings.NewReader("error details here")), 512, "error details here"},
		{"truncated", io.NopCloser(strings.NewReader(strings.Repeat("x", 1000))), 10, strings.Repeat("x", 10)},
		{"nil", nil, 512, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReadErrorBody(tt.rc, tt.limit); got != tt.want {
				t.Errorf("ReadErrorBody() = %q, want %q", got, tt.want)
			}
		})
	}
}
