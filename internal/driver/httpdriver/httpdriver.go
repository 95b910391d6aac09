// Package httpdriver talks to a controller through a small REST adapter
// running next to it. One adapter exists per controller family (Ryu's
// ofctl_rest, POX's web messenger, OpenDaylight RESTCONF); all of them expose
// the same JSON surface so the control plane needs a single client.
package httpdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sdhr-guard/sdhr/internal/logging"
	"github.com/sdhr-guard/sdhr/internal/model"
)

// Config configures a Driver.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Client   *http.Client
	Logger   *zap.SugaredLogger
}

// Driver is a JSON REST client for a controller adapter.
type Driver struct {
	base     *url.URL
	username string
	password string
	client   *http.Client
	logger   *zap.SugaredLogger
}

// New validates cfg and returns a Driver.
func New(cfg Config) (*Driver, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base_url: host is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Driver{
		base:     u,
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		logger:   logging.OrNop(cfg.Logger),
	}, nil
}

type metricsBody struct {
	FlowCount      int     `json:"flow_count"`
	PacketCount    int64   `json:"packet_count"`
	ByteCount      int64   `json:"byte_count"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	ErrorCount     int     `json:"error_count"`
	DurationSec    float64 `json:"duration_sec"`
}

type roleBody struct {
	Role model.Role `json:"role"`
}

func (d *Driver) Start(ctx context.Context) bool {
	return d.do(ctx, http.MethodPost, "/lifecycle/start", nil, nil) == nil
}

func (d *Driver) Stop(ctx context.Context) bool {
	return d.do(ctx, http.MethodPost, "/lifecycle/stop", nil, nil) == nil
}

func (d *Driver) HealthCheck(ctx context.Context) bool {
	return d.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

func (d *Driver) GetFlows(ctx context.Context) (map[string]model.FlowRule, error) {
	var rules []model.FlowRule
	if err := d.do(ctx, http.MethodGet, "/flows", nil, &rules); err != nil {
		return nil, err
	}
	out := make(map[string]model.FlowRule, len(rules))
	for _, r := range rules {
		out[r.FlowID] = r
	}
	return out, nil
}

func (d *Driver) InstallFlow(ctx context.Context, rule model.FlowRule) bool {
	err := d.do(ctx, http.MethodPut, "/flows/"+url.PathEscape(rule.FlowID), rule, nil)
	if err != nil {
		d.logger.Debugw("install flow failed", "flow_id", rule.FlowID, "error", err)
	}
	return err == nil
}

func (d *Driver) RemoveFlow(ctx context.Context, flowID string) bool {
	return d.do(ctx, http.MethodDelete, "/flows/"+url.PathEscape(flowID), nil, nil) == nil
}

func (d *Driver) GetMetrics(ctx context.Context) (model.Metrics, error) {
	var body metricsBody
	if err := d.do(ctx, http.MethodGet, "/metrics", nil, &body); err != nil {
		return model.Metrics{}, err
	}
	return model.Metrics{
		FlowCount:    body.FlowCount,
		PacketCount:  body.PacketCount,
		ByteCount:    body.ByteCount,
		ResponseTime: time.Duration(body.ResponseTimeMs * float64(time.Millisecond)),
		ErrorCount:   body.ErrorCount,
		DurationSec:  body.DurationSec,
	}, nil
}

func (d *Driver) SetRole(ctx context.Context, role model.Role) error {
	return d.do(ctx, http.MethodPut, "/role", roleBody{Role: role}, nil)
}

func (d *Driver) GetConfig(ctx context.Context) (model.ConfigSnapshot, error) {
	var cfg model.ConfigSnapshot
	if err := d.do(ctx, http.MethodGet, "/config", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (d *Driver) UpdateConfig(ctx context.Context, cfg model.ConfigSnapshot) error {
	return d.do(ctx, http.MethodPut, "/config", cfg, nil)
}

// StatusError is returned for non-2xx adapter responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (d *Driver) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: encode: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
