package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/config"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/prefs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDataPath(t *testing.T) {
	tests := []struct {
		dir, name, want string
	}{
		{"data", "prefs.json", filepath.Join("data", "prefs.json")},
		{"/var/lib/wizard", "wizard.db", "/var/lib/wizard/wizard.db"},
		{"data", "/etc/prefs.json", "/etc/prefs.json"},
	}
	for _, tt := range tests {
		if got := dataPath(tt.dir, tt.name); got != tt.want {
			t.Errorf("dataPath(%q, %q) = %q, want %q", tt.dir, tt.name, got, tt.want)
		}
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	got, err := loadSystemPrompt("")
	if err != nil || got != "" {
		t.Errorf("empty path = %q, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("Be brief."), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = loadSystemPrompt(path)
	if err != nil || got != "Be brief." {
		t.Errorf("loadSystemPrompt = %q, %v", got, err)
	}

	_, err = loadSystemPrompt(filepath.Join(t.TempDir(), "missing.md"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file err = %v", err)
	}
}

func TestOpenPreferences(t *testing.T) {
	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{backend: "file", want: "*prefs.FileStore"},
		{backend: "none", want: "prefs.Nop"},
		{backend: "sqlite", want: "prefs.Nop"},
		{backend: "redis", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.DataDir = t.TempDir()
			cfg.Preferences.Backend = tt.backend
			rt := &runtime{cfg: cfg, logger: discardLogger()}

			store, err := openPreferences(rt, cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("openPreferences: %v", err)
			}
			var got string
			switch store.(type) {
			case *prefs.FileStore:
				got = "*prefs.FileStore"
			case prefs.Nop:
				got = "prefs.Nop"
			}
			if got != tt.want {
				t.Errorf("store = %T, want %s", store, tt.want)
			}
		})
	}
}

func TestBuildRuntime_SQLitePreferences(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Preferences.Backend = "sqlite"
	cfg.Models.OpenAI.APIKey = "test-key"
	cfg.Tools.Weekend.Enabled = false

	rt, err := buildRuntime(t.Context(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	defer rt.close()

	if _, ok := rt.prefs.(*prefs.SQLiteStore); !ok {
		t.Errorf("prefs = %T, want *prefs.SQLiteStore", rt.prefs)
	}
	if rt.ledger == nil || rt.loop == nil {
		t.Fatal("ledger and loop must be wired")
	}
	if rt.loop.Model() != cfg.Models.Default {
		t.Errorf("model = %q, want %q", rt.loop.Model(), cfg.Models.Default)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, databaseFile)); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestWatchProviders(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer ollama.Close()

	cfg := config.Default()
	cfg.Models.OllamaURL = ollama.URL
	rt := &runtime{cfg: cfg, logger: discardLogger()}
	rt.client = createLLMClient(cfg, rt.logger)
	defer rt.close()

	watch := watchProviders(t.Context(), rt)

	deadline := time.Now().Add(2 * time.Second)
	for !watch.Ready() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	st := watch.Status()
	if len(st) != 1 || st[0].Name != "ollama" || !st[0].Ready {
		t.Errorf("status = %+v, want ollama ready", st)
	}
}

func TestCreateLLMClient_Providers(t *testing.T) {
	cfg := config.Default()
	client := createLLMClient(cfg, discardLogger())
	if _, ok := client.Provider("ollama"); !ok {
		t.Error("ollama provider should always be registered")
	}
	if _, ok := client.Provider("openai"); ok {
		t.Error("openai provider registered without key or base URL")
	}

	cfg.Models.OpenAI.APIKey = "k"
	client = createLLMClient(cfg, discardLogger())
	if _, ok := client.Provider("openai"); !ok {
		t.Error("openai provider missing with API key set")
	}
}
