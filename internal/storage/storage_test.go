package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"loopcast/internal/models"
)

func newTestStore(t *testing.T, opts ...Option) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"), opts...)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}

func createTestUser(t *testing.T, store *Storage, username, planID string) models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), CreateUserParams{
		Username: username,
		Password: "hunter2!",
		PlanID:   planID,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func TestSeedPlansAndSettings(t *testing.T) {
	store := newTestStore(t)
	plans, err := store.ListPlans(context.Background())
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(plans) != 4 {
		t.Fatalf("seeded %d plans, want 4", len(plans))
	}
	title, err := store.GetSetting(context.Background(), "landing_title")
	if err != nil || title == "" {
		t.Fatalf("landing_title not seeded: %q, %v", title, err)
	}
}

func TestSeedDoesNotOverwriteExistingPlans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	plan, _ := store.GetPlan(context.Background(), "trial")
	plan.MaxActiveStreams = 99
	if _, err := store.UpsertPlan(context.Background(), plan); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}

	reopened, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.GetPlan(context.Background(), "trial")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.MaxActiveStreams != 99 {
		t.Fatalf("seed overwrote operator change: %+v", got)
	}
}

func TestAdminBootstrap(t *testing.T) {
	store := newTestStore(t, WithAdminBootstrap(AdminBootstrap{Password: "changeme1"}))
	admin, err := store.GetUserByUsername(context.Background(), "admin")
	if err != nil {
		t.Fatalf("admin not seeded: %v", err)
	}
	if !admin.IsAdmin() {
		t.Fatalf("seeded account lacks admin role: %+v", admin)
	}
	if _, err := store.AuthenticateUser(context.Background(), "admin", "changeme1"); err != nil {
		t.Fatalf("admin cannot log in: %v", err)
	}
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	createTestUser(t, store, "alex", "trial")
	_, err := store.CreateUser(context.Background(), CreateUserParams{Username: "Alex", Password: "hunter2!"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAuthenticateUser(t *testing.T) {
	store := newTestStore(t)
	createTestUser(t, store, "alex", "trial")

	if _, err := store.AuthenticateUser(context.Background(), "alex", "hunter2!"); err != nil {
		t.Fatalf("valid login rejected: %v", err)
	}
	if _, err := store.AuthenticateUser(context.Background(), "alex", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := store.AuthenticateUser(context.Background(), "nobody", "hunter2!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user must look like bad credentials: got %v", err)
	}
}

func TestMediaLifecycleTracksStorage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := createTestUser(t, store, "alex", "trial")

	media, err := store.AddMediaFile(ctx, CreateMediaParams{
		OwnerID:   user.ID,
		Filename:  "show.mp4",
		Path:      "/data/media/show.mp4",
		SizeBytes: 1024,
	})
	if err != nil {
		t.Fatalf("AddMediaFile: %v", err)
	}
	if media.Type != models.MediaTypeVideo {
		t.Fatalf("type = %s, want video from extension", media.Type)
	}
	owner, _ := store.GetUser(ctx, user.ID)
	if owner.StorageUsed != 1024 {
		t.Fatalf("storage_used = %d, want 1024", owner.StorageUsed)
	}

	if _, err := store.SetMediaLocked(ctx, media.ID, true); err != nil {
		t.Fatalf("SetMediaLocked: %v", err)
	}
	if err := store.DeleteMediaFile(ctx, media.ID); !errors.Is(err, ErrLocked) {
		t.Fatalf("locked delete: got %v", err)
	}
	if _, err := store.SetMediaLocked(ctx, media.ID, false); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := store.DeleteMediaFile(ctx, media.ID); err != nil {
		t.Fatalf("DeleteMediaFile: %v", err)
	}
	owner, _ = store.GetUser(ctx, user.ID)
	if owner.StorageUsed != 0 {
		t.Fatalf("storage_used = %d after delete, want 0", owner.StorageUsed)
	}
}

func TestUsageDailyReset(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newTestStore(t, WithClock(clock))
	user := createTestUser(t, store, "alex", "creator")

	if _, _, err := store.AddUsage(ctx, user.ID, 120); err != nil {
		t.Fatalf("AddUsage: %v", err)
	}
	got, _, _ := store.SyncUsage(ctx, user.ID)
	if got.UsageSeconds != 120 {
		t.Fatalf("usage = %d, want 120", got.UsageSeconds)
	}

	// Cross the UTC date boundary: daily plans reset to zero.
	now = now.Add(20 * time.Minute)
	got, _, err := store.SyncUsage(ctx, user.ID)
	if err != nil {
		t.Fatalf("SyncUsage: %v", err)
	}
	if got.UsageSeconds != 0 {
		t.Fatalf("usage = %d after rollover, want 0", got.UsageSeconds)
	}
	if got.LastUsageReset != "2026-03-02" {
		t.Fatalf("last reset = %q, want 2026-03-02", got.LastUsageReset)
	}
}

func TestUsageTotalNeverResets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newTestStore(t, WithClock(clock))
	user := createTestUser(t, store, "alex", "trial") // trial is a total-limit plan

	if _, _, err := store.AddUsage(ctx, user.ID, 300); err != nil {
		t.Fatalf("AddUsage: %v", err)
	}
	now = now.Add(48 * time.Hour)
	got, plan, err := store.SyncUsage(ctx, user.ID)
	if err != nil {
		t.Fatalf("SyncUsage: %v", err)
	}
	if plan.LimitType != models.LimitTypeTotal {
		t.Fatalf("trial plan limit type = %s", plan.LimitType)
	}
	if got.UsageSeconds != 300 {
		t.Fatalf("total-limit usage reset: %d, want 300", got.UsageSeconds)
	}
}

func TestAddUsageClampsNegative(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := createTestUser(t, store, "alex", "creator")

	if _, _, err := store.AddUsage(ctx, user.ID, 60); err != nil {
		t.Fatalf("AddUsage: %v", err)
	}
	got, _, err := store.AddUsage(ctx, user.ID, -30)
	if err != nil {
		t.Fatalf("AddUsage: %v", err)
	}
	if got.UsageSeconds != 60 {
		t.Fatalf("usage = %d, want unchanged 60", got.UsageSeconds)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	user, err := store.CreateUser(ctx, CreateUserParams{Username: "alex", Password: "hunter2!"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	reopened, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser after reopen: %v", err)
	}
	if got.Username != "alex" {
		t.Fatalf("username = %q", got.Username)
	}
}

func TestUpdateUserPlanValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := createTestUser(t, store, "alex", "trial")

	bogus := "no-such-plan"
	if _, err := store.UpdateUser(ctx, user.ID, UserUpdate{PlanID: &bogus}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown plan, got %v", err)
	}
	radio := "radio"
	updated, err := store.UpdateUser(ctx, user.ID, UserUpdate{PlanID: &radio})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if updated.PlanID != "radio" {
		t.Fatalf("plan = %s, want radio", updated.PlanID)
	}
}
