package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/api"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/buildinfo"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/config"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/mcp"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/mqtt"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/usage"
)

// runAsk handles "wizard ask <message>": one cycle, answer on stdout,
// logs on stderr.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	logger.Debug("config loaded", "path", cfgPath)

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	res := rt.loop.Run(ctx, strings.Join(args, " "))
	if outputFmt == "json" {
		return writeJSONOut(stdout, res)
	}
	fmt.Fprintln(stdout, res.Answer)
	return nil
}

// runTools handles "wizard tools": the builtin and MCP-bridged tools
// the agent would see.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	rt := &runtime{cfg: cfg, logger: logger}
	defer rt.close()
	if rt.registry, err = buildRegistry(cfg, logger); err != nil {
		return err
	}
	attachMCPServers(ctx, rt, cfg.MCP.Servers)

	descs := rt.registry.List()
	if outputFmt == "json" {
		return writeJSONOut(stdout, descs)
	}
	if len(descs) == 0 {
		fmt.Fprintln(stdout, "No tools registered.")
		return nil
	}
	width := 0
	for _, d := range descs {
		width = max(width, len(d.Name))
	}
	for _, d := range descs {
		fmt.Fprintf(stdout, "%-*s  %s\n", width, d.Name, d.Description)
	}
	return nil
}

// runToolsServe handles "wizard tools-serve": the builtin tools as an
// MCP server on stdin/stdout. Logs go to stderr so stdout carries only
// protocol messages.
func runToolsServe(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("serving tools over MCP stdio", "tools", registry.Len())
	return mcp.NewServer("weekend-wizard", buildinfo.Version, registry, logger).Serve(ctx, stdin, stdout)
}

// runUsage handles "wizard usage [period]".
func runUsage(ctx context.Context, stdout io.Writer, configPath, outputFmt, period string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	start, end, err := usage.Window(period, time.Now())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store, err := usage.Open(dataPath(cfg.DataDir, databaseFile), configuredLogger(io.Discard, cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.Summary(ctx, start, end)
	if err != nil {
		return err
	}
	counts, err := store.ToolCounts(ctx, start, end)
	if err != nil {
		return err
	}

	if period == "" {
		period = "day"
	}
	if outputFmt == "json" {
		return writeJSONOut(stdout, map[string]any{
			"period":  period,
			"summary": summary,
			"tools":   counts,
		})
	}

	fmt.Fprintf(stdout, "Usage for %s (since %s)\n", period, start.Format(time.DateTime))
	fmt.Fprintf(stdout, "  %-14s %d\n", "cycles:", summary.TotalCycles)
	fmt.Fprintf(stdout, "  %-14s %d\n", "input tokens:", summary.TotalInputTokens)
	fmt.Fprintf(stdout, "  %-14s %d\n", "output tokens:", summary.TotalOutputTokens)
	fmt.Fprintf(stdout, "  %-14s %d\n", "tool calls:", summary.TotalToolCalls)
	if len(summary.ByOutcome) > 0 {
		fmt.Fprintln(stdout, "Outcomes:")
		for _, k := range sortedKeys(summary.ByOutcome) {
			fmt.Fprintf(stdout, "  %-14s %d\n", k+":", summary.ByOutcome[k])
		}
	}
	if len(counts) > 0 {
		fmt.Fprintln(stdout, "Tools:")
		for _, k := range sortedKeys(counts) {
			fmt.Fprintf(stdout, "  %-14s %d\n", k+":", counts[k])
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// runServe handles "wizard serve". It wires the agent, starts the API
// server and the optional MQTT publisher, and blocks until SIGINT or
// SIGTERM. Shutdown publishes MQTT "offline", drains HTTP requests,
// then closes stores and MCP servers.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting Weekend Wizard",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, rt.loop, logger)
	server.SetPreferences(rt.prefs)
	server.SetUsage(rt.ledger)
	server.SetHealth(watchProviders(ctx, rt))

	var publisher *mqtt.Publisher
	if cfg.MQTT.Configured() {
		publisher, err = startPublisher(ctx, cfg, rt, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if publisher != nil {
			if err := publisher.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Weekend Wizard stopped")
	return nil
}

// startPublisher creates the MQTT publisher, registers it as a cycle
// observer and connects in the background.
func startPublisher(ctx context.Context, cfg *config.Config, rt *runtime, logger *slog.Logger) (*mqtt.Publisher, error) {
	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("mqtt instance id: %w", err)
	}

	publisher := mqtt.New(cfg.MQTT, instanceID, logger)
	rt.loop.AddObserver(publisher)
	go func() {
		if err := publisher.Start(ctx); err != nil {
			logger.Error("mqtt publisher failed", "error", err)
		}
	}()

	logger.Info("mqtt publishing enabled",
		"broker", cfg.MQTT.Broker,
		"device_name", cfg.MQTT.DeviceName,
		"instance_id", instanceID,
	)
	return publisher, nil
}
