package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sdhr-guard/sdhr/internal/driver"
	"github.com/sdhr-guard/sdhr/internal/driver/memdriver"
	"github.com/sdhr-guard/sdhr/internal/model"
)

func mustRegister(t *testing.T, r *Registry, id string, typ model.ControllerType) *Entry {
	t.Helper()
	e, err := r.Register(id, typ, memdriver.New(), model.StatusActive)
	if err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
	return e
}

func TestRegister_DefaultsAndOrder(t *testing.T) {
	r := New(Config{})
	mustRegister(t, r, "c", model.ControllerRyu)
	mustRegister(t, r, "a", model.ControllerPOX)
	mustRegister(t, r, "b", model.ControllerOpenDaylight)

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len: got %d, want 3", len(snap))
	}
	for i, want := range []string{"c", "a", "b"} {
		if snap[i].ID != want {
			t.Fatalf("order[%d]: got %s, want %s", i, snap[i].ID, want)
		}
		if snap[i].Health != 1.0 {
			t.Fatalf("health[%d]: got %v, want 1.0", i, snap[i].Health)
		}
		if snap[i].Role != model.RoleNone {
			t.Fatalf("role[%d]: got %q, want none", i, snap[i].Role)
		}
	}
}

func TestRegister_Rejections(t *testing.T) {
	r := New(Config{MaxControllers: func() int { return 2 }})
	mustRegister(t, r, "a", model.ControllerRyu)

	if _, err := r.Register("a", model.ControllerRyu, memdriver.New(), ""); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate: got %v, want ErrConflict", err)
	}
	if _, err := r.Register("", model.ControllerRyu, memdriver.New(), ""); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("empty id: got %v, want ErrInvalid", err)
	}
	if _, err := r.Register("x", "floodlight", memdriver.New(), ""); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("bad type: got %v, want ErrInvalid", err)
	}
	if _, err := r.Register("x", model.ControllerRyu, nil, ""); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("nil driver: got %v, want ErrInvalid", err)
	}

	e, err := r.Register("b", model.ControllerPOX, memdriver.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status() != model.StatusUninitialized {
		t.Fatalf("status: got %q, want uninitialized", e.Status())
	}
	if _, err := r.Register("c", model.ControllerPOX, memdriver.New(), ""); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("over cap: got %v, want ErrConflict", err)
	}
}

func TestRemove_RejectedWhileSwitching(t *testing.T) {
	r := New(Config{})
	mustRegister(t, r, "a", model.ControllerRyu)

	if !r.TryBeginSwitch() {
		t.Fatal("expected to claim switch flag")
	}
	if r.TryBeginSwitch() {
		t.Fatal("second claim should fail")
	}
	if err := r.Remove("a"); !errors.Is(err, model.ErrSwitchInProgress) {
		t.Fatalf("Remove during switch: got %v", err)
	}
	r.EndSwitch()

	if err := r.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Remove("a"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Remove missing: got %v, want ErrNotFound", err)
	}
}

func TestSetHealth_Clamps(t *testing.T) {
	r := New(Config{})
	e := mustRegister(t, r, "a", model.ControllerRyu)

	r.SetHealth("a", 1.7)
	if e.Health() != 1 {
		t.Fatalf("got %v, want 1", e.Health())
	}
	r.SetHealth("a", -0.2)
	if e.Health() != 0 {
		t.Fatalf("got %v, want 0", e.Health())
	}
	if r.SetHealth("missing", 0.5) {
		t.Fatal("SetHealth on missing id should report false")
	}
}

func TestStartupTimeout_OverrideAndDefault(t *testing.T) {
	r := New(Config{})
	e := mustRegister(t, r, "odl", model.ControllerOpenDaylight)

	if got := e.StartupTimeout(); got != driver.StartupTimeout(model.ControllerOpenDaylight) {
		t.Fatalf("default: got %v", got)
	}
	r.SetStartupTimeout("odl", 3*time.Minute)
	if got := e.StartupTimeout(); got != 3*time.Minute {
		t.Fatalf("override: got %v, want 3m", got)
	}
	r.SetStartupTimeout("odl", -time.Second)
	if got := e.StartupTimeout(); got != driver.StartupTimeout(model.ControllerOpenDaylight) {
		t.Fatalf("reset: got %v", got)
	}
	if r.SetStartupTimeout("ghost", time.Second) {
		t.Fatal("unknown id should report false")
	}
}

func TestMaster(t *testing.T) {
	r := New(Config{})
	mustRegister(t, r, "a", model.ControllerRyu)
	mustRegister(t, r, "b", model.ControllerPOX)

	if _, ok := r.Master(); ok {
		t.Fatal("no master expected before election")
	}
	r.SetRole("b", model.RoleMaster)
	r.SetRole("a", model.RoleSlave)
	if id, ok := r.Master(); !ok || id != "b" {
		t.Fatalf("Master: got %q, %v", id, ok)
	}
}

func TestSwitchFlag_Concurrent(t *testing.T) {
	r := New(Config{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryBeginSwitch() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins: got %d, want 1", wins)
	}
}
