package flowsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sdhr-guard/sdhr/internal/driver/memdriver"
	"github.com/sdhr-guard/sdhr/internal/model"
)

func rule(id, dst string) model.FlowRule {
	return model.FlowRule{
		FlowID:   id,
		SwitchID: "of:0001",
		Priority: 100,
		Match:    map[string]string{"ipv4_dst": dst},
		Actions:  []model.Action{{"type": "OUTPUT", "port": "2"}},
	}
}

func newTestSync(t *testing.T, now time.Time, strict bool) *Synchronizer {
	t.Helper()
	return New(Config{Strict: strict, CallTimeout: time.Second, Now: func() time.Time { return now }})
}

func mustAdd(t *testing.T, s *Synchronizer, id string, d *memdriver.Controller) {
	t.Helper()
	if err := s.AddController(id, d); err != nil {
		t.Fatalf("AddController(%s): %v", id, err)
	}
}

func flowIDs(c *memdriver.Controller) []string {
	return sortedIDs(c.Flows())
}

func TestSyncAll_UnionAcrossMembers(t *testing.T) {
	now := time.Unix(5000, 0)
	s := newTestSync(t, now, false)
	a, b, c := memdriver.New(), memdriver.New(), memdriver.New()
	a.SetFlows(rule("f1", "10.0.0.1"))
	b.SetFlows(rule("f2", "10.0.0.2"))
	mustAdd(t, s, "A", a)
	mustAdd(t, s, "B", b)
	mustAdd(t, s, "C", c)

	report := s.SyncAll(context.Background())

	want := []string{"f1", "f2"}
	for name, ctrl := range map[string]*memdriver.Controller{"A": a, "B": b, "C": c} {
		if diff := cmp.Diff(want, flowIDs(ctrl)); diff != "" {
			t.Fatalf("%s flows mismatch (-want +got):\n%s", name, diff)
		}
		last, ok := s.LastSync(name)
		if !ok || !last.Equal(now) {
			t.Fatalf("%s last sync: got %v, %v", name, last, ok)
		}
	}
	if report.Installed != 4 || report.Failed != 0 {
		t.Fatalf("report: %+v", report)
	}
}

func TestSyncAll_NoopBelowTwoMembers(t *testing.T) {
	s := newTestSync(t, time.Unix(1, 0), false)
	a := memdriver.New()
	a.SetFlows(rule("f1", "10.0.0.1"))
	mustAdd(t, s, "A", a)
	s.SyncAll(context.Background())
	if _, ok := s.LastSync("A"); ok {
		t.Fatal("single member should not be stamped")
	}
}

func TestSyncAll_FetchFailureExcludesOnlyThatMember(t *testing.T) {
	now := time.Unix(5000, 0)
	s := newTestSync(t, now, false)
	a, b, broken := memdriver.New(), memdriver.New(), memdriver.New()
	a.SetFlows(rule("f1", "10.0.0.1"))
	broken.SetFlows(rule("fx", "10.9.9.9"))
	broken.SetFaults(memdriver.Faults{FailGetFlows: true})
	mustAdd(t, s, "A", a)
	mustAdd(t, s, "broken", broken)
	mustAdd(t, s, "B", b)

	report := s.SyncAll(context.Background())
	if diff := cmp.Diff([]string{"f1"}, flowIDs(b)); diff != "" {
		t.Fatalf("B flows (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"broken"}, report.FetchFailed); diff != "" {
		t.Fatalf("fetch failed (-want +got):\n%s", diff)
	}
	if broken.InstallCalls() != 0 {
		t.Fatalf("broken member received %d installs", broken.InstallCalls())
	}
	if _, ok := s.LastSync("broken"); ok {
		t.Fatal("unread member should not be stamped")
	}
}

func TestSyncAll_InstallFailureDoesNotAbortBatch(t *testing.T) {
	s := newTestSync(t, time.Unix(1, 0), false)
	a, b := memdriver.New(), memdriver.New()
	a.SetFlows(rule("f1", "10.0.0.1"), rule("f2", "10.0.0.2"), rule("f3", "10.0.0.3"))
	b.SetFaults(memdriver.Faults{FailInstallIDs: map[string]bool{"f2": true}})
	mustAdd(t, s, "A", a)
	mustAdd(t, s, "B", b)

	report := s.SyncAll(context.Background())
	if diff := cmp.Diff([]string{"f1", "f3"}, flowIDs(b)); diff != "" {
		t.Fatalf("B flows (-want +got):\n%s", diff)
	}
	if report.Installed != 2 || report.Failed != 1 {
		t.Fatalf("report: %+v", report)
	}
}

func TestSyncAll_ConflictingIDKeepsFirstBody(t *testing.T) {
	s := newTestSync(t, time.Unix(1, 0), false)
	a, b, c := memdriver.New(), memdriver.New(), memdriver.New()
	a.SetFlows(rule("f1", "10.0.0.1"))
	b.SetFlows(rule("f1", "10.0.0.99"))
	mustAdd(t, s, "A", a)
	mustAdd(t, s, "B", b)
	mustAdd(t, s, "C", c)

	report := s.SyncAll(context.Background())
	if report.Conflicts != 1 {
		t.Fatalf("conflicts: got %d, want 1", report.Conflicts)
	}
	if got := c.Flows()["f1"].Match["ipv4_dst"]; got != "10.0.0.1" {
		t.Fatalf("C body: got %s, want body from A", got)
	}
	if got := b.Flows()["f1"].Match["ipv4_dst"]; got != "10.0.0.99" {
		t.Fatalf("B body must not be overwritten: got %s", got)
	}
	if s.Status().TotalConflicts != 1 {
		t.Fatalf("total conflicts: %d", s.Status().TotalConflicts)
	}
}

func TestSyncAll_SkipsSameContentUnderOtherID(t *testing.T) {
	s := newTestSync(t, time.Unix(1, 0), false)
	a, b := memdriver.New(), memdriver.New()
	a.SetFlows(rule("a-1", "10.0.0.1"))
	b.SetFlows(rule("b-7", "10.0.0.1"))
	mustAdd(t, s, "A", a)
	mustAdd(t, s, "B", b)

	report := s.SyncAll(context.Background())
	if report.Skipped != 2 || report.Installed != 0 {
		t.Fatalf("report: %+v", report)
	}
	if len(a.Flows()) != 1 || len(b.Flows()) != 1 {
		t.Fatal("duplicate content should not be installed")
	}
}

func TestForceSync_Idempotent(t *testing.T) {
	s := newTestSync(t, time.Unix(1, 0), false)
	a, b := memdriver.New(), memdriver.New()
	a.SetFlows(rule("f1", "10.0.0.1"), rule("f2", "10.0.0.2"))
	b.SetFlows(rule("f9", "10.0.0.9"))
	mustAdd(t, s, "A", a)
	mustAdd(t, s, "B", b)

	if _, err := s.ForceSync(context.Background(), "A", "B"); err != nil {
		t.Fatalf("first ForceSync: %v", err)
	}
	first := b.Flows()
	report, err := s.ForceSync(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("second ForceSync: %v", err)
	}
	if diff := cmp.Diff(first, b.Flows()); diff != "" {
		t.Fatalf("table changed on second run (-first +second):\n%s", diff)
	}
	if report.Attempted != 2 || report.Installed != 2 {
		t.Fatalf("report: %+v", report)
	}
	if _, ok := s.LastSync("B"); !ok {
		t.Fatal("target should be stamped")
	}
}

func TestForceSync_Errors(t *testing.T) {
	s := newTestSync(t, time.Unix(1, 0), false)
	a, broken := memdriver.New(), memdriver.New()
	broken.SetFaults(memdriver.Faults{FailGetFlows: true})
	mustAdd(t, s, "A", a)
	mustAdd(t, s, "broken", broken)

	if _, err := s.ForceSync(context.Background(), "A", "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown target: got %v", err)
	}
	if _, err := s.ForceSync(context.Background(), "ghost", "A"); !errors.Is(err, model.KindSync) {
		t.Fatalf("unknown source kind: got %v", err)
	}
	if _, err := s.ForceSync(context.Background(), "broken", "A"); err == nil {
		t.Fatal("unreadable source should fail")
	}
	if _, ok := s.LastSync("A"); ok {
		t.Fatal("failed force sync must not stamp target")
	}
}

func TestForceSync_StrictMode(t *testing.T) {
	for _, strict := range []bool{false, true} {
		s := newTestSync(t, time.Unix(1, 0), strict)
		a, b := memdriver.New(), memdriver.New()
		a.SetFlows(rule("f1", "10.0.0.1"))
		b.SetFaults(memdriver.Faults{FailInstall: true})
		mustAdd(t, s, "A", a)
		mustAdd(t, s, "B", b)

		report, err := s.ForceSync(context.Background(), "A", "B")
		if strict && !errors.Is(err, ErrIncompleteSync) {
			t.Fatalf("strict: got %v, want ErrIncompleteSync", err)
		}
		if !strict && err != nil {
			t.Fatalf("lenient: got %v", err)
		}
		if diff := cmp.Diff([]string{"f1"}, report.FailedIDs); diff != "" {
			t.Fatalf("failed ids (-want +got):\n%s", diff)
		}
	}
}

func TestMembership(t *testing.T) {
	s := newTestSync(t, time.Unix(1, 0), false)
	a := memdriver.New()
	mustAdd(t, s, "A", a)
	if err := s.AddController("A", a); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate add: got %v", err)
	}
	mustAdd(t, s, "B", memdriver.New())
	s.SyncAll(context.Background())
	if !s.RemoveController("A") {
		t.Fatal("remove should report membership")
	}
	if _, ok := s.LastSync("A"); ok {
		t.Fatal("last sync should be dropped on removal")
	}
	if s.RemoveController("A") {
		t.Fatal("second remove should report false")
	}
	st := s.Status()
	if len(st.Members) != 1 || st.Members[0].ID != "B" {
		t.Fatalf("members: %+v", st.Members)
	}
}

func TestSyncAll_SlowMemberBounded(t *testing.T) {
	s := New(Config{CallTimeout: 50 * time.Millisecond})
	a, slow := memdriver.New(), memdriver.New()
	a.SetFlows(rule("f1", "10.0.0.1"))
	slow.SetFaults(memdriver.Faults{CallLatency: time.Second})
	mustAdd(t, s, "A", a)
	mustAdd(t, s, "slow", slow)

	start := time.Now()
	s.SyncAll(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("pass took %v", elapsed)
	}
}
