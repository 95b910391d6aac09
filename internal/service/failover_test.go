package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sdhr-guard/sdhr/internal/driver/memdriver"
	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/registry"
)

type fakeSelector struct {
	id string
	ok bool
}

func (s *fakeSelector) SelectController() (string, bool) { return s.id, s.ok }

type switchCall struct {
	from, to string
}

type fakeSwitcher struct {
	mu       sync.Mutex
	reg      *registry.Registry
	succeed  bool
	elects   []string
	switches []switchCall
}

func (s *fakeSwitcher) Elect(_ context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elects = append(s.elects, id)
	if s.succeed {
		s.reg.SetRole(id, model.RoleMaster)
	}
	return s.succeed
}

func (s *fakeSwitcher) SwitchController(_ context.Context, from, to string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switches = append(s.switches, switchCall{from: from, to: to})
	if s.succeed {
		s.reg.SetRole(from, model.RoleSlave)
		s.reg.SetRole(to, model.RoleMaster)
	}
	return s.succeed
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFailoverRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Config{})
	for _, id := range ids {
		if _, err := reg.Register(id, model.ControllerRyu, memdriver.New(), model.StatusActive); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func newTestFailover(t *testing.T, reg *registry.Registry, sel Selector, sw MasterSwitcher, clock *fakeClock) *Failover {
	t.Helper()
	return NewFailover(FailoverConfig{
		Registry: reg,
		Selector: sel,
		Switcher: sw,
		Cooldown: time.Minute,
		Logger:   zaptest.NewLogger(t).Sugar(),
		Now:      clock.Now,
	})
}

func TestFailover_Decisions(t *testing.T) {
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		ids       []string
		master    string
		switching bool
		selected  string
		noPick    bool
		succeed   bool
		want      Decision
	}{
		{name: "below minimum", ids: []string{"A"}, selected: "A", want: DecisionBelowMinimum},
		{name: "switch in progress", ids: []string{"A", "B"}, switching: true, selected: "A", want: DecisionBusy},
		{name: "nothing selectable", ids: []string{"A", "B"}, noPick: true, want: DecisionNoCandidate},
		{name: "elects without master", ids: []string{"A", "B"}, selected: "B", succeed: true, want: DecisionElected},
		{name: "election fails", ids: []string{"A", "B"}, selected: "B", want: DecisionElectFailed},
		{name: "selection is master", ids: []string{"A", "B"}, master: "A", selected: "A", want: DecisionSteady},
		{name: "switches to selection", ids: []string{"A", "B"}, master: "A", selected: "B", succeed: true, want: DecisionSwitched},
		{name: "switch fails", ids: []string{"A", "B"}, master: "A", selected: "B", want: DecisionSwitchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newFailoverRegistry(t, tt.ids...)
			if tt.master != "" {
				reg.SetRole(tt.master, model.RoleMaster)
			}
			if tt.switching {
				reg.TryBeginSwitch()
				defer reg.EndSwitch()
			}
			sw := &fakeSwitcher{reg: reg, succeed: tt.succeed}
			f := newTestFailover(t, reg, &fakeSelector{id: tt.selected, ok: !tt.noPick}, sw, &fakeClock{now: start})

			if got := f.Tick(ctx); got != tt.want {
				t.Fatalf("decision: got %s, want %s", got, tt.want)
			}
			if got := f.LastDecision(); got != tt.want {
				t.Fatalf("LastDecision: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFailover_SwitchArguments(t *testing.T) {
	reg := newFailoverRegistry(t, "A", "B", "C")
	reg.SetRole("A", model.RoleMaster)
	sw := &fakeSwitcher{reg: reg, succeed: true}
	f := newTestFailover(t, reg, &fakeSelector{id: "C", ok: true}, sw, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	f.Tick(context.Background())
	if len(sw.switches) != 1 || sw.switches[0] != (switchCall{from: "A", to: "C"}) {
		t.Fatalf("switch calls: %+v", sw.switches)
	}
	if master, _ := reg.Master(); master != "C" {
		t.Fatalf("master: got %s, want C", master)
	}
}

func TestFailover_Cooldown(t *testing.T) {
	ctx := context.Background()
	reg := newFailoverRegistry(t, "A", "B")
	reg.SetRole("A", model.RoleMaster)
	sel := &fakeSelector{id: "B", ok: true}
	// A failing switcher keeps A master so every tick wants to switch again.
	sw := &fakeSwitcher{reg: reg}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := newTestFailover(t, reg, sel, sw, clock)

	if got := f.Tick(ctx); got != DecisionSwitchFailed {
		t.Fatalf("first tick: %s", got)
	}
	clock.Advance(30 * time.Second)
	if got := f.Tick(ctx); got != DecisionCooldown {
		t.Fatalf("tick inside cooldown: %s", got)
	}
	clock.Advance(30 * time.Second)
	if got := f.Tick(ctx); got != DecisionSwitchFailed {
		t.Fatalf("tick after cooldown: %s", got)
	}
	if len(sw.switches) != 2 {
		t.Fatalf("switch attempts: got %d, want 2", len(sw.switches))
	}
}

func TestFailover_ElectionStartsCooldown(t *testing.T) {
	ctx := context.Background()
	reg := newFailoverRegistry(t, "A", "B")
	sel := &fakeSelector{id: "A", ok: true}
	sw := &fakeSwitcher{reg: reg, succeed: true}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := newTestFailover(t, reg, sel, sw, clock)

	if got := f.Tick(ctx); got != DecisionElected {
		t.Fatalf("first tick: %s", got)
	}
	sel.id = "B"
	if got := f.Tick(ctx); got != DecisionCooldown {
		t.Fatalf("switch right after election: %s", got)
	}
}

func TestFailover_MinControllersReadEachTick(t *testing.T) {
	reg := newFailoverRegistry(t, "A", "B")
	minimum := 3
	f := NewFailover(FailoverConfig{
		Registry:       reg,
		Selector:       &fakeSelector{id: "A", ok: true},
		Switcher:       &fakeSwitcher{reg: reg, succeed: true},
		MinControllers: func() int { return minimum },
	})

	if got := f.Tick(context.Background()); got != DecisionBelowMinimum {
		t.Fatalf("with min 3: %s", got)
	}
	minimum = 2
	if got := f.Tick(context.Background()); got != DecisionElected {
		t.Fatalf("with min 2: %s", got)
	}
}

func TestFailover_StartStop(t *testing.T) {
	reg := newFailoverRegistry(t, "A", "B")
	f := NewFailover(FailoverConfig{
		Registry: reg,
		Selector: &fakeSelector{id: "A", ok: true},
		Switcher: &fakeSwitcher{reg: reg, succeed: true},
		Interval: 5 * time.Millisecond,
	})
	f.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for f.LastDecision() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.Stop()
	if f.LastDecision() == "" {
		t.Fatal("loop never ticked")
	}
}
