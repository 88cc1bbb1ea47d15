// Package usage keeps a persistent ledger of agent cycles: one record
// per request with its outcome, token counts and the tools it ran.
// Records are append-only and indexed by timestamp for period queries.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/agent"
)

// Record is one completed cycle.
type Record struct {
	ID            string        `json:"id"`
	CycleID       string        `json:"cycle_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Model         string        `json:"model"`
	Outcome       string        `json:"outcome"`
	Steps         int           `json:"steps"`
	DecisionCalls int           `json:"decision_calls"`
	AuxCalls      int           `json:"aux_calls"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	Duration      time.Duration `json:"duration_ns"`
	ToolsUsed     []string      `json:"tools_used"`
}

// Summary holds aggregated cycle totals.
type Summary struct {
	TotalCycles       int            `json:"total_cycles"`
	TotalInputTokens  int64          `json:"total_input_tokens"`
	TotalOutputTokens int64          `json:"total_output_tokens"`
	TotalToolCalls    int64          `json:"total_tool_calls"`
	ByOutcome         map[string]int `json:"by_outcome"`
}

// Store is an append-only SQLite ledger. All public methods are safe
// for concurrent use (SQLite serializes writes).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a ledger at the given database path. The schema is
// created automatically on first use.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	s, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, creating the schema if needed.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// timestampLayout is fixed-width UTC so stored strings sort and compare
// chronologically at nanosecond resolution.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id              TEXT PRIMARY KEY,
		cycle_id        TEXT NOT NULL,
		timestamp       TEXT NOT NULL,
		model           TEXT NOT NULL,
		outcome         TEXT NOT NULL,
		steps           INTEGER NOT NULL,
		decision_calls  INTEGER NOT NULL,
		aux_calls       INTEGER NOT NULL DEFAULT 0,
		input_tokens    INTEGER NOT NULL,
		output_tokens   INTEGER NOT NULL,
		duration_ms     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_timestamp ON cycles(timestamp);

	CREATE TABLE IF NOT EXISTS cycle_tools (
		record_id TEXT NOT NULL REFERENCES cycles(id),
		seq       INTEGER NOT NULL,
		tool      TEXT NOT NULL,
		PRIMARY KEY (record_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_cycle_tools_tool ON cycle_tools(tool);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a cycle. If rec.ID is empty, a UUIDv7 is generated.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage record: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cycles
			(id, cycle_id, timestamp, model, outcome, steps, decision_calls,
			 aux_calls, input_tokens, output_tokens, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.CycleID,
		formatTimestamp(rec.Timestamp),
		rec.Model,
		rec.Outcome,
		rec.Steps,
		rec.DecisionCalls,
		rec.AuxCalls,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	for i, tool := range rec.ToolsUsed {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cycle_tools (record_id, seq, tool) VALUES (?, ?, ?)`,
			rec.ID, i, tool,
		); err != nil {
			return fmt.Errorf("insert cycle tool: %w", err)
		}
	}
	return tx.Commit()
}

// CycleCompleted records a finished agent cycle. Failures are logged;
// the ledger never affects the answer.
func (s *Store) CycleCompleted(ctx context.Context, _ string, res *agent.Result) {
	if err := s.Record(ctx, FromResult(res)); err != nil {
		s.logger.Warn("failed to record cycle", "cycle_id", res.CycleID, "error", err)
	}
}

// FromResult converts an agent result into a ledger record.
func FromResult(res *agent.Result) Record {
	return Record{
		CycleID:       res.CycleID,
		Timestamp:     res.StartedAt,
		Model:         res.Model,
		Outcome:       string(res.Outcome),
		Steps:         res.Steps,
		DecisionCalls: res.DecisionCalls,
		AuxCalls:      res.AuxCalls,
		InputTokens:   res.InputTokens,
		OutputTokens:  res.OutputTokens,
		Duration:      res.Duration,
		ToolsUsed:     res.ToolsUsed,
	}
}

// Summary returns aggregated totals for cycles within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	from, to := formatTimestamp(start), formatTimestamp(end)

	sum := Summary{ByOutcome: make(map[string]int)}
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM cycles
		 WHERE timestamp >= ? AND timestamp < ?`,
		from, to,
	)
	if err := row.Scan(&sum.TotalCycles, &sum.TotalInputTokens, &sum.TotalOutputTokens); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM cycle_tools t JOIN cycles c ON c.id = t.record_id
		 WHERE c.timestamp >= ? AND c.timestamp < ?`,
		from, to,
	)
	if err := row.Scan(&sum.TotalToolCalls); err != nil {
		return nil, fmt.Errorf("query tool call total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*)
		 FROM cycles
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY outcome`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by outcome: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan usage by outcome: %w", err)
		}
		sum.ByOutcome[outcome] = n
	}
	return &sum, rows.Err()
}

// ToolCounts returns how often each tool ran in cycles within
// [start, end).
func (s *Store) ToolCounts(ctx context.Context, start, end time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.tool, COUNT(*)
		 FROM cycle_tools t JOIN cycles c ON c.id = t.record_id
		 WHERE c.timestamp >= ? AND c.timestamp < ?
		 GROUP BY t.tool`,
		formatTimestamp(start),
		formatTimestamp(end),
	)
	if err != nil {
		return nil, fmt.Errorf("query tool counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tool string
		var n int
		if err := rows.Scan(&tool, &n); err != nil {
			return nil, fmt.Errorf("scan tool count: %w", err)
		}
		counts[tool] = n
	}
	return counts, rows.Err()
}

// Recent returns the newest cycles, most recent first, with their tools.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle_id, timestamp, model, outcome, steps, decision_calls,
		        aux_calls, input_tokens, output_tokens, duration_ms
		 FROM cycles
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent cycles: %w", err)
	}

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		var durMs int64
		if err := rows.Scan(&rec.ID, &rec.CycleID, &ts, &rec.Model, &rec.Outcome,
			&rec.Steps, &rec.DecisionCalls, &rec.AuxCalls, &rec.InputTokens,
			&rec.OutputTokens, &durMs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recent cycle: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		rec.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].ToolsUsed, err = s.toolsFor(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) toolsFor(ctx context.Context, recordID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool FROM cycle_tools WHERE record_id = ? ORDER BY seq`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query cycle tools: %w", err)
	}
	defer rows.Close()

	tools := []string{}
	for rows.Next() {
		var tool string
		if err := rows.Scan(&tool); err != nil {
			return nil, fmt.Errorf("scan cycle tool: %w", err)
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

// Window maps a period name to a [start, end) window ending at now:
// "day" (the default) starts at local midnight, "week" and "month" look
// back from now, and "all" starts at the Unix epoch.
func Window(period string, now time.Time) (time.Time, time.Time, error) {
	switch period {
	case "", "day":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), now, nil
	case "week":
		return now.AddDate(0, 0, -7), now, nil
	case "month":
		return now.AddDate(0, -1, 0), now, nil
	case "all":
		return time.Unix(0, 0), now, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q (valid: day, week, month, all)", period)
	}
}
