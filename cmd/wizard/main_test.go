package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/agent"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

// writeConfig writes a minimal config into a temp dir with data_dir
// pointing inside it, and returns the config path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := "data_dir: " + filepath.Join(dir, "data") + "\n" +
		"log_level: error\n" +
		"preferences:\n  backend: none\n" +
		extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCmd(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), strings.NewReader(stdin), &stdout, &stderr, args)
	return stdout.String(), stderr.String(), err
}

func TestRun_Version(t *testing.T) {
	out, _, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "version:") || !strings.Contains(out, "go_version:") {
		t.Errorf("version output = %q", out)
	}

	out, _, err = runCmd(t, "", "-o", "json", "version")
	if err != nil {
		t.Fatalf("version json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode version json: %v\n%s", err, out)
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("version json = %v", info)
	}
}

func TestRun_Help(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}, {"ask", "--help"}} {
		out, _, err := runCmd(t, "", args...)
		if err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		if !strings.Contains(out, "Usage: wizard") || !strings.Contains(out, "tools-serve") {
			t.Errorf("%v: help output = %q", args, out)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"-verbose", "version"}, "unknown flag: -verbose"},
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"ask without message", []string{"ask"}, "usage: wizard ask"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "tools"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCmd(t, "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "agent:\n  max_steps: 0\n")
	_, _, err := runCmd(t, "", "-config", cfg, "tools")
	if err == nil || !strings.Contains(err.Error(), "max_steps") {
		t.Errorf("err = %v, want max_steps validation error", err)
	}
}

func TestRun_Tools(t *testing.T) {
	cfg := writeConfig(t, "")
	want := []string{"book_recs", "city_to_coords", "get_weather", "random_dog", "trivia"}

	out, _, err := runCmd(t, "", "-config", cfg, "tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), out)
	}
	for i, name := range want {
		if !strings.HasPrefix(lines[i], name) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], name)
		}
	}

	out, _, err = runCmd(t, "", "-config", cfg, "tools", "-o", "json")
	if err != nil {
		t.Fatalf("tools json: %v", err)
	}
	var descs []tools.Descriptor
	if err := json.Unmarshal([]byte(out), &descs); err != nil {
		t.Fatalf("decode tools json: %v\n%s", err, out)
	}
	if len(descs) != len(want) || descs[0].Name != want[0] {
		t.Errorf("descriptors = %+v", descs)
	}
}

func TestRun_ToolsDisabled(t *testing.T) {
	cfg := writeConfig(t, "tools:\n  weekend:\n    enabled: false\n")
	out, _, err := runCmd(t, "", "-config", cfg, "tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if strings.TrimSpace(out) != "No tools registered." {
		t.Errorf("output = %q", out)
	}
}

func TestRun_ToolsServe(t *testing.T) {
	cfg := writeConfig(t, "")
	stdin := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n"

	out, _, err := runCmd(t, stdin, "-config", cfg, "tools-serve")
	if err != nil {
		t.Fatalf("tools-serve: %v", err)
	}

	var resps []map[string]any
	dec := json.NewDecoder(strings.NewReader(out))
	for {
		var m map[string]any
		if err := dec.Decode(&m); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("stdout is not clean JSON-RPC: %v\n%s", err, out)
		}
		resps = append(resps, m)
	}
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	list, _ := resps[1]["result"].(map[string]any)
	toolList, _ := list["tools"].([]any)
	if len(toolList) != 5 {
		t.Errorf("tools/list returned %d tools, want 5", len(toolList))
	}
}

func TestRun_UsageEmpty(t *testing.T) {
	cfg := writeConfig(t, "")

	out, _, err := runCmd(t, "", "-config", cfg, "usage", "week")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !strings.Contains(out, "Usage for week") || !strings.Contains(out, "cycles:") {
		t.Errorf("usage output = %q", out)
	}

	out, _, err = runCmd(t, "", "-config", cfg, "-o", "json", "usage")
	if err != nil {
		t.Fatalf("usage json: %v", err)
	}
	var got struct {
		Period string `json:"period"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode usage json: %v\n%s", err, out)
	}
	if got.Period != "day" {
		t.Errorf("period = %q, want day", got.Period)
	}

	if _, _, err := runCmd(t, "", "-config", cfg, "usage", "fortnight"); err == nil {
		t.Error("expected error for unknown period")
	}
}

// fakeCompletions serves an OpenAI-compatible chat completions endpoint
// that always decides to answer with answer.
func fakeCompletions(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	decision, err := json.Marshal(map[string]string{"action": "final", "answer": answer})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": string(decision)},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_Ask(t *testing.T) {
	srv := fakeCompletions(t, "Read a mystery and walk the dog.")
	cfg := writeConfig(t, "models:\n"+
		"  default: test-model\n"+
		"  openai:\n"+
		"    base_url: "+srv.URL+"/v1/\n"+
		"    api_key: test-key\n"+
		"agent:\n  max_prompt_chars: 0\n"+
		"tools:\n  weekend:\n    enabled: false\n")

	out, _, err := runCmd(t, "", "-config", cfg, "ask", "plan", "my", "weekend")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if strings.TrimSpace(out) != "Read a mystery and walk the dog." {
		t.Errorf("answer = %q", out)
	}

	out, _, err = runCmd(t, "", "-config", cfg, "-o", "json", "ask", "plan my weekend")
	if err != nil {
		t.Fatalf("ask json: %v", err)
	}
	var res agent.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out)
	}
	if res.Answer != "Read a mystery and walk the dog." || len(res.ToolsUsed) != 0 {
		t.Errorf("result = %+v", res)
	}
	if res.InputTokens != 12 || res.OutputTokens != 4 {
		t.Errorf("tokens = %d/%d, want 12/4", res.InputTokens, res.OutputTokens)
	}

	// Both cycles land in the ledger.
	out, _, err = runCmd(t, "", "-config", cfg, "-o", "json", "usage")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	var usage struct {
		Summary struct {
			TotalCycles int `json:"total_cycles"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &usage); err != nil {
		t.Fatalf("decode usage: %v\n%s", err, out)
	}
	if usage.Summary.TotalCycles != 2 {
		t.Errorf("total_cycles = %d, want 2", usage.Summary.TotalCycles)
	}
}
