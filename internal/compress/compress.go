// Package compress shortens oversized user requests before the agent
// loop sees them.
package compress

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/llm"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/prompts"
)

// Config controls the auxiliary compression call.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Compressor reduces long input to its actionable core with one model
// call, falling back to truncation. It never fails.
type Compressor struct {
	llm    llm.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Compressor. A zero MaxTokens uses 300.
func New(client llm.Client, cfg Config, logger *slog.Logger) *Compressor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{llm: client, cfg: cfg, logger: logger}
}

// Compress returns text unchanged when it has at most maxChars runes or
// maxChars is not positive. Otherwise it asks the model to extract the
// request from the first maxChars runes and returns the trimmed reply,
// or those runes themselves if the call fails or comes back empty.
func (c *Compressor) Compress(ctx context.Context, text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	truncated := string(runes[:maxChars])

	if c.llm == nil {
		return truncated
	}

	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.llm.Chat(callCtx, c.cfg.Model, []llm.Message{
		{Role: llm.RoleUser, Content: prompts.CompressionPrompt(truncated)},
	}, &llm.Options{
		Temperature: llm.Float(c.cfg.Temperature),
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		c.logger.Warn("input compression failed, truncating",
			"error", err,
			"original_chars", len(runes),
			"max_chars", maxChars,
		)
		return truncated
	}

	out := strings.TrimSpace(resp.Message.Content)
	if out == "" {
		c.logger.Warn("input compression returned nothing, truncating", "max_chars", maxChars)
		return truncated
	}
	c.logger.Info("input compressed",
		"original_chars", len(runes),
		"compressed_chars", len([]rune(out)),
	)
	return out
}
