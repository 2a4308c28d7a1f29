// Package budget enforces the daily provider spend cap.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiptrace/internal/model"
)

// ErrBudgetExceeded is returned when a lookup would not fit in the window.
var ErrBudgetExceeded = eris.New("budget exceeded")

// SpendSource reports committed spend from the provider call ledger.
type SpendSource interface {
	SumCallCost(ctx context.Context, from, to time.Time) (int64, error)
}

// Config controls the guard. A cap of zero or less disables enforcement.
type Config struct {
	DailyCapCents int64
	Location      *time.Location
}

// Decision is the outcome of CheckAndReserve. An allowed decision holds a
// reservation until it is passed to Commit.
type Decision struct {
	Allowed        bool  `json:"allowed"`
	RemainingCents int64 `json:"remaining_cents"`
	ReservedCents  int64 `json:"reserved_cents"`
}

// Guard tracks spend within a daily window. The counter is seeded from the
// ledger when a window opens and kept current by Commit; outstanding
// reservations count against the cap so concurrent workers cannot
// collectively overspend.
type Guard struct {
	cfg    Config
	ledger SpendSource

	mu          sync.Mutex
	windowStart time.Time
	spent       int64
	reserved    int64
	softPaused  bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Guard backed by ledger.
func New(ledger SpendSource, cfg Config) *Guard {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Guard{
		cfg:     cfg,
		ledger:  ledger,
		nowFunc: time.Now,
	}
}

// Unlimited reports whether the guard enforces no cap.
func (g *Guard) Unlimited() bool { return g.cfg.DailyCapCents <= 0 }

// CheckAndReserve admits a lookup estimated at estimatedCents if it fits in
// what remains of the window, reserving that amount.
func (g *Guard) CheckAndReserve(ctx context.Context, estimatedCents int64) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.roll(ctx); err != nil {
		return Decision{}, err
	}

	if g.Unlimited() {
		g.reserved += estimatedCents
		return Decision{Allowed: true, RemainingCents: -1, ReservedCents: estimatedCents}, nil
	}

	remaining := g.remaining()
	if g.softPaused || estimatedCents > remaining {
		return Decision{RemainingCents: remaining}, nil
	}

	g.reserved += estimatedCents
	return Decision{
		Allowed:        true,
		RemainingCents: remaining - estimatedCents,
		ReservedCents:  estimatedCents,
	}, nil
}

// Commit releases the decision's reservation and books the actual cost.
// Commit on a denied decision is a no-op.
func (g *Guard) Commit(d Decision, actualCents int64) {
	if !d.Allowed {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.reserved = max(g.reserved-d.ReservedCents, 0)
	g.spent += max(actualCents, 0)

	if !g.Unlimited() && !g.softPaused && g.spent >= g.cfg.DailyCapCents {
		g.softPaused = true
		zap.L().Warn("budget: daily cap reached, soft pause engaged",
			zap.Int64("spent_cents", g.spent),
			zap.Int64("cap_cents", g.cfg.DailyCapCents),
		)
	}
}

// SoftPaused reports the process-wide soft pause flag.
func (g *Guard) SoftPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.softPaused
}

// Quota returns the current window's status.
func (g *Guard) Quota(ctx context.Context) (model.Quota, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.roll(ctx); err != nil {
		return model.Quota{}, err
	}

	q := model.Quota{
		LimitCents:    g.cfg.DailyCapCents,
		SpentCents:    g.spent,
		ReservedCents: g.reserved,
		Unlimited:     g.Unlimited(),
		SoftPaused:    g.softPaused,
		WindowStart:   g.windowStart,
		WindowEnd:     g.windowEnd(),
	}
	if q.Unlimited {
		q.RemainingCents = -1
	} else {
		q.RemainingCents = g.remaining()
	}
	return q, nil
}

// Reset clears the soft pause flag and re-reads spend from the ledger.
func (g *Guard) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.windowStart = time.Time{}
	if err := g.roll(ctx); err != nil {
		return err
	}
	g.softPaused = false
	zap.L().Info("budget: soft pause reset",
		zap.Int64("spent_cents", g.spent),
		zap.Int64("cap_cents", g.cfg.DailyCapCents),
	)
	return nil
}

// WindowFor returns the [start, end) window containing t.
func (g *Guard) WindowFor(t time.Time) (time.Time, time.Time) {
	local := t.In(g.cfg.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.cfg.Location)
	return start, start.AddDate(0, 0, 1)
}

// Location returns the time zone windows are aligned to.
func (g *Guard) Location() *time.Location { return g.cfg.Location }

// roll opens a new window when the clock has left the current one. Must be
// called with mu held.
func (g *Guard) roll(ctx context.Context) error {
	start, end := g.WindowFor(g.nowFunc())
	if start.Equal(g.windowStart) {
		return nil
	}

	spent, err := g.ledger.SumCallCost(ctx, start, end)
	if err != nil {
		return eris.Wrap(err, "budget: seed window spend")
	}
	if !g.windowStart.IsZero() {
		zap.L().Info("budget: new window",
			zap.Time("window_start", start),
			zap.Int64("seeded_cents", spent),
		)
	}
	g.windowStart = start
	g.spent = spent
	g.softPaused = !g.Unlimited() && spent >= g.cfg.DailyCapCents
	return nil
}

func (g *Guard) windowEnd() time.Time {
	return g.windowStart.AddDate(0, 0, 1)
}

func (g *Guard) remaining() int64 {
	return max(g.cfg.DailyCapCents-g.spent-g.reserved, 0)
}
