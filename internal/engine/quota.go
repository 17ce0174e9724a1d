package engine

import (
	"context"
	"fmt"
	"log/slog"

	"loopcast/internal/models"
)

// UsageSnapshot is a user's watch-time position after a charge.
type UsageSnapshot struct {
	UsageSeconds int64
	LimitSeconds int64
	LimitType    models.LimitType
}

// Remaining reports the seconds left before the limit, never negative. A
// zero limit means unlimited.
func (s UsageSnapshot) Remaining() int64 {
	if s.LimitSeconds <= 0 {
		return 0
	}
	if s.UsageSeconds >= s.LimitSeconds {
		return 0
	}
	return s.LimitSeconds - s.UsageSeconds
}

// Exhausted reports whether the user has consumed their full allowance.
func (s UsageSnapshot) Exhausted() bool {
	return s.LimitSeconds > 0 && s.UsageSeconds >= s.LimitSeconds
}

// UsageStore persists watch-time consumption. AddUsage atomically adds
// deltaSeconds to the user's counter and returns the resulting position
// against their plan.
type UsageStore interface {
	AddUsage(ctx context.Context, userID string, deltaSeconds int64) (UsageSnapshot, error)
}

// Accountant converts encoder progress into billed watch time. Charges are
// always non-negative: a backwards timestamp after a playlist seam charges
// zero rather than issuing a refund.
type Accountant struct {
	store  UsageStore
	logger *slog.Logger
}

// NewAccountant wires an accountant to its store.
func NewAccountant(store UsageStore, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{store: store, logger: logger}
}

// Charge bills deltaSeconds to userID and reports whether the allowance is
// now exhausted. Negative deltas are clamped to zero but still return the
// current position so callers can react to exhaustion from other sessions.
func (a *Accountant) Charge(ctx context.Context, userID string, deltaSeconds int64) (UsageSnapshot, error) {
	if deltaSeconds < 0 {
		deltaSeconds = 0
	}
	snap, err := a.store.AddUsage(ctx, userID, deltaSeconds)
	if err != nil {
		return UsageSnapshot{}, fmt.Errorf("charge usage for user %s: %w", userID, err)
	}
	return snap, nil
}

// ExhaustionMessage phrases the shutdown reason for the user, matching the
// plan's limit style.
func ExhaustionMessage(t models.LimitType) string {
	if t == models.LimitTypeTotal {
		return "Streaming allowance used up. Upgrade your plan to continue."
	}
	return "Daily streaming limit reached. Your allowance resets at midnight UTC."
}
