package mqtt

import (
	"sync"
	"time"
)

// DailyUsage counts chat turns and tokens since local midnight. Safe
// for concurrent use.
type DailyUsage struct {
	mu       sync.Mutex
	turns    int64
	failures int64
	tokens   int64
	lastTurn time.Time
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyUsage creates a counter that rolls over at midnight in loc
// (time.Local when nil).
func NewDailyUsage(loc *time.Location) *DailyUsage {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyUsage{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// OnTurn records a completed chat turn.
func (d *DailyUsage) OnTurn(tokensIn, tokensOut int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	d.turns++
	d.tokens += int64(tokensIn + tokensOut)
	d.lastTurn = d.now()
}

// OnFailure records a failed chat turn.
func (d *DailyUsage) OnFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	d.failures++
}

// Snapshot returns today's totals and the time of the last turn (zero
// if none since startup).
func (d *DailyUsage) Snapshot() (turns, failures, tokens int64, lastTurn time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return d.turns, d.failures, d.tokens, d.lastTurn
}

// maybeReset must be called with d.mu held.
func (d *DailyUsage) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.turns, d.failures, d.tokens = 0, 0, 0
		d.resetDay = today
	}
}
