package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sdhr-guard/sdhr/internal/model"
)

// Driver kinds accepted in the inventory.
const (
	DriverHTTP   = "http"
	DriverMemory = "memory"
)

// ControllerSpec describes one controller to register at startup.
type ControllerSpec struct {
	ID       string `json:"id" yaml:"id"`
	Type     string `json:"type" yaml:"type"`
	Driver   string `json:"driver" yaml:"driver"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url"`
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"-" yaml:"password"`

	// StartupTimeout overrides the per-type startup wait. Zero keeps it.
	StartupTimeout Duration `json:"startup_timeout,omitempty" yaml:"startup_timeout"`
}

// Inventory is the YAML document that seeds the control plane.
type Inventory struct {
	DHR           DHRSettings      `yaml:"dhr"`
	Controllers   []ControllerSpec `yaml:"controllers"`
	DesiredConfig map[string]any   `yaml:"desired_config"`
}

// DefaultInventory returns an inventory with default DHR settings and no
// controllers.
func DefaultInventory() *Inventory {
	return &Inventory{DHR: *NewDefaultDHRSettings()}
}

// LoadInventory reads and validates the inventory at path. Settings the
// file omits keep their defaults. An empty path yields DefaultInventory.
func LoadInventory(path string) (*Inventory, error) {
	if path == "" {
		return DefaultInventory(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return ParseInventory(data)
}

// ParseInventory decodes and validates an inventory document. Unknown keys
// are rejected.
func ParseInventory(data []byte) (*Inventory, error) {
	inv := DefaultInventory()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(inv); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// Validate checks the inventory and returns every violation at once.
func (inv *Inventory) Validate() error {
	var errs []string
	if err := inv.DHR.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(inv.Controllers) > inv.DHR.MaxControllers {
		errs = append(errs, fmt.Sprintf("controllers: %d listed, max_controllers is %d",
			len(inv.Controllers), inv.DHR.MaxControllers))
	}
	seen := make(map[string]bool, len(inv.Controllers))
	for i, c := range inv.Controllers {
		prefix := fmt.Sprintf("controllers[%d]", i)
		if c.ID != "" && seen[c.ID] {
			errs = append(errs, fmt.Sprintf("%s.id: duplicate id %q", prefix, c.ID))
		}
		seen[c.ID] = true
		errs = append(errs, c.validate(prefix)...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("inventory validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Validate checks a single controller entry.
func (c ControllerSpec) Validate() error {
	if errs := c.validate(""); len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c ControllerSpec) validate(prefix string) []string {
	if prefix != "" {
		prefix += "."
	}
	var errs []string
	if strings.TrimSpace(c.ID) == "" {
		errs = append(errs, prefix+"id: must not be empty")
	}
	if !model.ControllerType(c.Type).IsValid() {
		errs = append(errs, fmt.Sprintf("%stype: invalid value %q (allowed: ryu, pox, opendaylight)", prefix, c.Type))
	}
	switch c.Driver {
	case DriverMemory:
	case DriverHTTP:
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("%sbase_url: invalid http(s) URL %q", prefix, c.BaseURL))
		}
	default:
		errs = append(errs, fmt.Sprintf("%sdriver: invalid value %q (allowed: %s, %s)", prefix, c.Driver, DriverHTTP, DriverMemory))
	}
	if c.StartupTimeout < 0 {
		errs = append(errs, prefix+"startup_timeout must not be negative")
	}
	return errs
}
