package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sdhr-guard/sdhr/internal/model"
)

// DesiredConfig is the current desired controller configuration.
// Version 0 means nothing has been stored yet.
type DesiredConfig struct {
	Config      model.ConfigSnapshot `json:"config"`
	Version     int                  `json:"version"`
	Fingerprint string               `json:"fingerprint"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// DesiredConfigVersion is one entry of the desired config history.
type DesiredConfigVersion struct {
	Version     int                  `json:"version"`
	Config      model.ConfigSnapshot `json:"config"`
	Fingerprint string               `json:"fingerprint"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Repo wraps state.db. All writes are serialized by an internal mutex.
type Repo struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRepo creates a Repo for an already migrated state.db connection.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// --- desired_config ---

// GetDesiredConfig loads the current desired config. When none is stored it
// returns an empty config with version 0.
func (r *Repo) GetDesiredConfig(ctx context.Context) (DesiredConfig, error) {
	return getDesiredConfig(ctx, r.db)
}

// DesiredConfig returns the current desired config document.
func (r *Repo) DesiredConfig(ctx context.Context) (model.ConfigSnapshot, error) {
	cur, err := r.GetDesiredConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cur.Config, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDesiredConfig(ctx context.Context, q queryRower) (DesiredConfig, error) {
	row := q.QueryRowContext(ctx,
		"SELECT config_json, fingerprint, version, updated_at_ns FROM desired_config WHERE id = 1")
	var (
		configJSON string
		out        DesiredConfig
		updatedNs  int64
	)
	if err := row.Scan(&configJSON, &out.Fingerprint, &out.Version, &updatedNs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DesiredConfig{Config: model.ConfigSnapshot{}}, nil
		}
		return DesiredConfig{}, fmt.Errorf("scan desired_config: %w", err)
	}
	cfg, err := decodeConfig(configJSON)
	if err != nil {
		return DesiredConfig{}, fmt.Errorf("unmarshal desired_config: %w", err)
	}
	out.Config = cfg
	out.UpdatedAt = time.Unix(0, updatedNs)
	return out, nil
}

// SaveDesiredConfig stores cfg as the new desired config and appends it to
// the version history. Saving content identical to the current version is a
// no-op that returns the current version unchanged.
func (r *Repo) SaveDesiredConfig(ctx context.Context, cfg model.ConfigSnapshot, now time.Time) (DesiredConfig, error) {
	if cfg == nil {
		cfg = model.ConfigSnapshot{}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return DesiredConfig{}, fmt.Errorf("marshal desired_config: %w", err)
	}
	fp := cfg.Fingerprint().Hex()

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return DesiredConfig{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := getDesiredConfig(ctx, tx)
	if err != nil {
		return DesiredConfig{}, err
	}
	if cur.Version > 0 && cur.Fingerprint == fp {
		return cur, nil
	}

	next := DesiredConfig{
		Config:      cfg.Clone(),
		Version:     cur.Version + 1,
		Fingerprint: fp,
		UpdatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO desired_config (id, config_json, fingerprint, version, updated_at_ns)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config_json   = excluded.config_json,
			fingerprint   = excluded.fingerprint,
			version       = excluded.version,
			updated_at_ns = excluded.updated_at_ns
	`, string(data), fp, next.Version, now.UnixNano()); err != nil {
		return DesiredConfig{}, fmt.Errorf("upsert desired_config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO desired_config_versions (version, config_json, fingerprint, created_at_ns)
		VALUES (?, ?, ?, ?)
	`, next.Version, string(data), fp, now.UnixNano()); err != nil {
		return DesiredConfig{}, fmt.Errorf("insert desired_config_versions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return DesiredConfig{}, fmt.Errorf("commit desired_config: %w", err)
	}
	return next, nil
}

// SeedDesiredConfig stores cfg only when no desired config exists yet.
// It reports whether cfg was written.
func (r *Repo) SeedDesiredConfig(ctx context.Context, cfg model.ConfigSnapshot, now time.Time) (bool, error) {
	cur, err := r.GetDesiredConfig(ctx)
	if err != nil {
		return false, err
	}
	if cur.Version > 0 {
		return false, nil
	}
	if _, err := r.SaveDesiredConfig(ctx, cfg, now); err != nil {
		return false, err
	}
	return true, nil
}

// ListDesiredConfigVersions returns up to limit history entries, newest
// first. limit <= 0 returns every entry.
func (r *Repo) ListDesiredConfigVersions(ctx context.Context, limit int) ([]DesiredConfigVersion, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT version, config_json, fingerprint, created_at_ns
		FROM desired_config_versions ORDER BY version DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query desired_config_versions: %w", err)
	}
	defer rows.Close()

	var out []DesiredConfigVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetDesiredConfigVersion loads one history entry. It returns
// model.ErrNotFound for an unknown version.
func (r *Repo) GetDesiredConfigVersion(ctx context.Context, version int) (DesiredConfigVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT version, config_json, fingerprint, created_at_ns
		FROM desired_config_versions WHERE version = ?
	`, version)
	if err != nil {
		return DesiredConfigVersion{}, fmt.Errorf("query desired_config_versions: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return DesiredConfigVersion{}, err
		}
		return DesiredConfigVersion{}, fmt.Errorf("desired config version %d: %w", version, model.ErrNotFound)
	}
	return scanVersion(rows)
}

func scanVersion(rows *sql.Rows) (DesiredConfigVersion, error) {
	var (
		v          DesiredConfigVersion
		configJSON string
		createdNs  int64
	)
	if err := rows.Scan(&v.Version, &configJSON, &v.Fingerprint, &createdNs); err != nil {
		return DesiredConfigVersion{}, fmt.Errorf("scan desired_config_versions: %w", err)
	}
	cfg, err := decodeConfig(configJSON)
	if err != nil {
		return DesiredConfigVersion{}, fmt.Errorf("unmarshal desired_config_versions[%d]: %w", v.Version, err)
	}
	v.Config = cfg
	v.CreatedAt = time.Unix(0, createdNs)
	return v, nil
}

func decodeConfig(s string) (model.ConfigSnapshot, error) {
	cfg := model.ConfigSnapshot{}
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// --- switch_records ---

// SaveSwitchRecord appends rec. A record whose ID is already stored returns
// model.ErrConflict.
func (r *Repo) SaveSwitchRecord(ctx context.Context, rec model.SwitchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO switch_records (id, ts_ns, from_id, to_id, success, duration_ns, failed_phase, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, rec.Timestamp.UnixNano(), rec.From, rec.To, boolToInt(rec.Success),
		int64(rec.Duration), rec.FailedPhase, rec.Error)
	if err != nil {
		return fmt.Errorf("insert switch_records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert switch_records: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("switch record %s: %w", rec.ID, model.ErrConflict)
	}
	return nil
}

// ListSwitchRecords returns the latest limit records in chronological
// order. limit <= 0 returns every record.
func (r *Repo) ListSwitchRecords(ctx context.Context, limit int) ([]model.SwitchRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ts_ns, from_id, to_id, success, duration_ns, failed_phase, error
		FROM (SELECT * FROM switch_records ORDER BY seq DESC LIMIT ?)
		ORDER BY seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query switch_records: %w", err)
	}
	defer rows.Close()

	var out []model.SwitchRecord
	for rows.Next() {
		var (
			rec        model.SwitchRecord
			tsNs       int64
			success    int
			durationNs int64
		)
		if err := rows.Scan(&rec.ID, &tsNs, &rec.From, &rec.To, &success, &durationNs,
			&rec.FailedPhase, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan switch_records: %w", err)
		}
		rec.Timestamp = time.Unix(0, tsNs)
		rec.Success = success != 0
		rec.Duration = time.Duration(durationNs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneSwitchRecords deletes all but the newest keep records and returns the
// number removed.
func (r *Repo) PruneSwitchRecords(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM switch_records
		WHERE seq NOT IN (SELECT seq FROM switch_records ORDER BY seq DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune switch_records: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
