package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/sdhr-guard/sdhr/internal/config"
	"github.com/sdhr-guard/sdhr/internal/driver/httpdriver"
	"github.com/sdhr-guard/sdhr/internal/driver/memdriver"
	"github.com/sdhr-guard/sdhr/internal/model"
)

const testInventory = `
dhr:
  min_controllers: 2
  max_controllers: 3
  min_switch_interval: 30s
controllers:
  - id: ryu-1
    type: ryu
    driver: memory
  - id: pox-1
    type: pox
    driver: memory
desired_config:
  ofp_port: "6653"
`

func writeInventory(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "sdhr dev") {
		t.Fatalf("version output: %q", out)
	}
}

func TestCheckConfigCommand(t *testing.T) {
	t.Setenv("SDHR_ADMIN_TOKEN", "password")
	t.Setenv("SDHR_INVENTORY", writeInventory(t, testInventory))

	out, err := runCommand(t, "check-config")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"environment: ok",
		"warning: SDHR_ADMIN_TOKEN is weak",
		"inventory: ok (2 controllers, min 2, max 3)",
		"ryu-1: ryu via memory",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckConfigCommand_Errors(t *testing.T) {
	tests := []struct {
		name      string
		inventory string
		admin     *string
		wantErr   string
	}{
		{name: "missing admin token", inventory: testInventory, wantErr: "SDHR_ADMIN_TOKEN must be defined"},
		{name: "bad inventory", inventory: "controllers:\n  - id: x\n    type: floodlight\n    driver: memory\n", admin: new(string), wantErr: "floodlight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.admin != nil {
				t.Setenv("SDHR_ADMIN_TOKEN", *tt.admin)
			} else {
				t.Setenv("SDHR_ADMIN_TOKEN", "")
				os.Unsetenv("SDHR_ADMIN_TOKEN")
			}
			t.Setenv("SDHR_INVENTORY", writeInventory(t, tt.inventory))

			_, err := runCommand(t, "check-config")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDriverFactory(t *testing.T) {
	factory := newDriverFactory(&config.EnvConfig{DriverCallTimeout: time.Second}, zap.NewNop().Sugar())

	d, err := factory(config.ControllerSpec{ID: "m", Type: "ryu", Driver: config.DriverMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(*memdriver.Controller); !ok {
		t.Fatalf("memory driver: got %T", d)
	}

	d, err = factory(config.ControllerSpec{ID: "h", Type: "pox", Driver: config.DriverHTTP, BaseURL: "http://127.0.0.1:8080"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(*httpdriver.Driver); !ok {
		t.Fatalf("http driver: got %T", d)
	}

	if _, err := factory(config.ControllerSpec{ID: "g", Type: "ryu", Driver: "grpc"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestHealthThresholds(t *testing.T) {
	got := healthThresholds(config.NewDefaultDHRSettings().Thresholds)
	if got.ResponseTimeMax != time.Second || got.SyncDelayMax != 5*time.Second || got.ErrorRateMax != 0.1 {
		t.Fatalf("thresholds: %+v", got)
	}
}

func TestFailoverCooldown(t *testing.T) {
	if got := failoverCooldown(10*time.Second, 5*time.Second); got != 10*time.Second {
		t.Fatalf("env longer: %v", got)
	}
	if got := failoverCooldown(10*time.Second, 30*time.Second); got != 30*time.Second {
		t.Fatalf("inventory longer: %v", got)
	}
}

func TestNewSDHRApp_AppliesInventory(t *testing.T) {
	inv, err := config.ParseInventory([]byte(testInventory))
	if err != nil {
		t.Fatal(err)
	}
	envCfg := &config.EnvConfig{
		StateDir:           t.TempDir(),
		ListenAddress:      "127.0.0.1",
		Port:               0,
		APIMaxBodyBytes:    1 << 20,
		AdminToken:         "7c1f0d2e9b8a4c3d5e6f7a8b9c0d1e2f",
		HealthCheckTimeout: time.Second,
		DriverCallTimeout:  time.Second,
		FanoutConcurrency:  4,
		HealthInterval:     time.Hour,
		FlowSyncInterval:   time.Hour,
		ConfigSyncInterval: time.Hour,
		ConfigSyncStrategy: "immediate",
		ScheduleInterval:   time.Hour,
		AdaptationInterval: time.Hour,
		SwitchCooldown:     10 * time.Second,
	}

	app, err := newSDHRApp(envCfg, inv, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(app.closeState)

	ctx := context.Background()
	if err := app.cp.ApplyInventory(ctx, inv); err != nil {
		t.Fatal(err)
	}
	controllers := app.cp.ListControllers()
	if len(controllers) != 2 || controllers[0].Status != model.StatusActive {
		t.Fatalf("controllers: %+v", controllers)
	}
	if got := app.settings.Load().MaxControllers; got != 3 {
		t.Fatalf("max controllers: %d", got)
	}
	desired, err := app.cp.GetDesiredConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if desired.Config["ofp_port"] != "6653" {
		t.Fatalf("desired config: %+v", desired)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/controllers", nil)
	req.Header.Set("Authorization", "Bearer "+envCfg.AdminToken)
	rec := httptest.NewRecorder()
	app.apiSrv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ryu-1") {
		t.Fatalf("list controllers: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	app.apiSrv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}
