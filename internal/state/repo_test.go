package state

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sdhr-guard/sdhr/internal/configsync"
	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/switcher"
)

var (
	_ configsync.DesiredConfigSource = (*Repo)(nil)
	_ switcher.HistorySink           = (*Repo)(nil)
)

// helper: bootstrap a state.db in a temp dir and return its Repo.
func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, closer, err := Bootstrap(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { closer.Close() })
	return repo
}

func TestBootstrap_AppliesMigrations(t *testing.T) {
	dir := t.TempDir()
	_, closer, err := Bootstrap(dir)
	if err != nil {
		t.Fatal(err)
	}
	closer.Close()

	// Reopening an up-to-date database is a no-op.
	_, closer, err = Bootstrap(dir)
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	closer.Close()

	db, err := OpenDB(filepath.Join(dir, StateDBName))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	version, dirty, err := schemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != stateLatestVersion || dirty {
		t.Fatalf("schema version = %d dirty=%v, want %d clean", version, dirty, stateLatestVersion)
	}
	for _, table := range []string{"desired_config", "desired_config_versions", "switch_records"} {
		ok, err := hasTable(db, table)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("table %s missing", table)
		}
	}
}

func TestMigrateStateDB_NilDB(t *testing.T) {
	if err := MigrateStateDB(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

// --- desired_config ---

func TestRepo_DesiredConfig_EmptyInitially(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cur, err := repo.GetDesiredConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Version != 0 || len(cur.Config) != 0 {
		t.Fatalf("expected empty version 0, got %+v", cur)
	}
	cfg, err := repo.DesiredConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil || len(cfg) != 0 {
		t.Fatalf("expected empty non-nil config, got %#v", cfg)
	}
}

func TestRepo_SaveDesiredConfig_Versions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	v1 := model.ConfigSnapshot{"ofp_port": "6653", "stats": map[string]any{"poll": "10s"}}
	got, err := repo.SaveDesiredConfig(ctx, v1, now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 || got.Fingerprint != v1.Fingerprint().Hex() {
		t.Fatalf("first save: %+v", got)
	}

	// Identical content does not bump the version.
	again, err := repo.SaveDesiredConfig(ctx, v1.Clone(), now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != 1 || !again.UpdatedAt.Equal(now) {
		t.Fatalf("identical save should be a no-op, got %+v", again)
	}

	v2 := model.ConfigSnapshot{"ofp_port": "6633"}
	got, err = repo.SaveDesiredConfig(ctx, v2, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 {
		t.Fatalf("second save version = %d, want 2", got.Version)
	}

	cur, err := repo.GetDesiredConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(v2, cur.Config); diff != "" {
		t.Fatalf("current config mismatch (-want +got):\n%s", diff)
	}
	if !cur.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("updated_at = %v", cur.UpdatedAt)
	}

	versions, err := repo.ListDesiredConfigVersions(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0].Version != 2 || versions[1].Version != 1 {
		t.Fatalf("versions should be newest first, got %+v", versions)
	}
	if diff := cmp.Diff(v1, versions[1].Config); diff != "" {
		t.Fatalf("v1 history mismatch (-want +got):\n%s", diff)
	}

	limited, err := repo.ListDesiredConfigVersions(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Version != 2 {
		t.Fatalf("limit 1: %+v", limited)
	}
}

func TestRepo_GetDesiredConfigVersion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.SaveDesiredConfig(ctx, model.ConfigSnapshot{"a": "1"}, time.Now()); err != nil {
		t.Fatal(err)
	}
	v, err := repo.GetDesiredConfigVersion(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v.Config["a"] != "1" {
		t.Fatalf("version 1 config = %#v", v.Config)
	}

	_, err = repo.GetDesiredConfigVersion(ctx, 9)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepo_SaveDesiredConfig_NilStoresEmpty(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.SaveDesiredConfig(ctx, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 || got.Config == nil {
		t.Fatalf("nil save: %+v", got)
	}
}

func TestRepo_SeedDesiredConfig(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	seeded, err := repo.SeedDesiredConfig(ctx, model.ConfigSnapshot{"seed": "yes"}, now)
	if err != nil || !seeded {
		t.Fatalf("first seed: seeded=%v err=%v", seeded, err)
	}
	seeded, err = repo.SeedDesiredConfig(ctx, model.ConfigSnapshot{"seed": "other"}, now)
	if err != nil || seeded {
		t.Fatalf("second seed should be skipped: seeded=%v err=%v", seeded, err)
	}
	cfg, err := repo.DesiredConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg["seed"] != "yes" {
		t.Fatalf("seed overwritten: %#v", cfg)
	}
}

// --- switch_records ---

func switchRecord(i int, ts time.Time) model.SwitchRecord {
	return model.SwitchRecord{
		ID:        "rec-" + strconv.Itoa(i),
		Timestamp: ts,
		From:      "A",
		To:        "B",
		Success:   i%2 == 0,
		Duration:  time.Duration(i) * time.Millisecond,
	}
}

func TestRepo_SwitchRecords_RoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	failed := model.SwitchRecord{
		ID:          "rec-failed",
		Timestamp:   base,
		From:        "A",
		To:          "C",
		Duration:    1500 * time.Millisecond,
		FailedPhase: "verifying",
		Error:       "flow table empty",
	}
	if err := repo.SaveSwitchRecord(ctx, failed); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveSwitchRecord(ctx, switchRecord(2, base.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ListSwitchRecords(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []model.SwitchRecord{failed, switchRecord(2, base.Add(time.Second))}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestRepo_SaveSwitchRecord_DuplicateID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := switchRecord(1, time.Now())
	if err := repo.SaveSwitchRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveSwitchRecord(ctx, rec); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRepo_ListSwitchRecords_LatestInOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		if err := repo.SaveSwitchRecord(ctx, switchRecord(i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.ListSwitchRecords(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"rec-2", "rec-3", "rec-4"}, ids); diff != "" {
		t.Fatalf("latest records mismatch (-want +got):\n%s", diff)
	}
}

func TestRepo_PruneSwitchRecords(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 4; i++ {
		if err := repo.SaveSwitchRecord(ctx, switchRecord(i, base)); err != nil {
			t.Fatal(err)
		}
	}
	n, err := repo.PruneSwitchRecords(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("pruned %d, want 3", n)
	}
	got, err := repo.ListSwitchRecords(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "rec-3" {
		t.Fatalf("remaining = %+v", got)
	}
}
