package mqtt

import (
	"sync"
	"time"
)

// DailyStats accumulates cycle totals that reset at local midnight. It
// is safe for concurrent use.
type DailyStats struct {
	mu        sync.Mutex
	cycles    int64
	tokens    int64
	toolCalls int64
	resetDay  int
	loc       *time.Location
	now       func() time.Time
}

// NewDailyStats creates an accumulator that uses loc for midnight
// detection. A nil loc means [time.Local].
func NewDailyStats(loc *time.Location) *DailyStats {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyStats{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Add records one cycle.
func (d *DailyStats) Add(inputTokens, outputTokens, toolCalls int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.cycles++
	d.tokens += int64(inputTokens + outputTokens)
	d.toolCalls += int64(toolCalls)
}

// Snapshot returns today's cycle, token and tool call totals.
func (d *DailyStats) Snapshot() (cycles, tokens, toolCalls int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.cycles, d.tokens, d.toolCalls
}

// maybeReset zeroes the totals when the local day changed. Caller must
// hold d.mu.
func (d *DailyStats) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.cycles, d.tokens, d.toolCalls = 0, 0, 0
		d.resetDay = today
	}
}
