package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"loopcast/internal/models"
)

type fakeUsageStore struct {
	mu        sync.Mutex
	usage     int64
	limit     int64
	limitType models.LimitType
	deltas    []int64
}

func (f *fakeUsageStore) AddUsage(_ context.Context, _ string, delta int64) (UsageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage += delta
	f.deltas = append(f.deltas, delta)
	return UsageSnapshot{UsageSeconds: f.usage, LimitSeconds: f.limit, LimitType: f.limitType}, nil
}

func (f *fakeUsageStore) chargedDeltas() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.deltas...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAccountantClampsNegativeDeltas(t *testing.T) {
	store := &fakeUsageStore{usage: 100, limit: 3600}
	acct := NewAccountant(store, discardLogger())

	snap, err := acct.Charge(context.Background(), "u1", -30)
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if snap.UsageSeconds != 100 {
		t.Fatalf("usage = %d, want unchanged 100", snap.UsageSeconds)
	}
	if got := store.chargedDeltas(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("store received %v, want a single zero delta", got)
	}
}

func TestUsageSnapshotRemaining(t *testing.T) {
	cases := []struct {
		name string
		snap UsageSnapshot
		want int64
	}{
		{"under limit", UsageSnapshot{UsageSeconds: 100, LimitSeconds: 3600}, 3500},
		{"at limit", UsageSnapshot{UsageSeconds: 3600, LimitSeconds: 3600}, 0},
		{"over limit", UsageSnapshot{UsageSeconds: 4000, LimitSeconds: 3600}, 0},
		{"unlimited", UsageSnapshot{UsageSeconds: 4000, LimitSeconds: 0}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.snap.Remaining(); got != tc.want {
				t.Fatalf("Remaining = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestUsageSnapshotExhausted(t *testing.T) {
	if (UsageSnapshot{UsageSeconds: 10, LimitSeconds: 0}).Exhausted() {
		t.Fatal("unlimited plan must never exhaust")
	}
	if !(UsageSnapshot{UsageSeconds: 3600, LimitSeconds: 3600}).Exhausted() {
		t.Fatal("usage at limit must exhaust")
	}
}

func TestExhaustionMessage(t *testing.T) {
	if msg := ExhaustionMessage(models.LimitTypeDaily); !strings.Contains(msg, "Daily") {
		t.Fatalf("daily message = %q", msg)
	}
	if msg := ExhaustionMessage(models.LimitTypeTotal); !strings.Contains(msg, "Upgrade") {
		t.Fatalf("total message = %q", msg)
	}
}
