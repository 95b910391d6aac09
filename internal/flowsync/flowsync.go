// Package flowsync converges flow tables across the controller pool.
package flowsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sdhr-guard/sdhr/internal/driver"
	"github.com/sdhr-guard/sdhr/internal/logging"
	"github.com/sdhr-guard/sdhr/internal/metrics"
	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/scanloop"
)

// ErrIncompleteSync is returned by ForceSync in strict mode when at least
// one install failed.
var ErrIncompleteSync = errors.New("flow sync incomplete")

// Config configures a Synchronizer.
type Config struct {
	Interval    time.Duration
	CallTimeout time.Duration
	Concurrency int
	// Strict makes ForceSync fail when any install fails.
	Strict bool
	Logger *zap.SugaredLogger
	Now    func() time.Time
}

// InstallReport summarizes one ForceSync.
type InstallReport struct {
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Attempted int      `json:"attempted"`
	Installed int      `json:"installed"`
	Skipped   int      `json:"skipped"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// PassReport summarizes one SyncAll pass.
type PassReport struct {
	StartedAt   time.Time `json:"started_at"`
	Members     int       `json:"members"`
	FetchFailed []string  `json:"fetch_failed,omitempty"`
	Installed   int       `json:"installed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Conflicts   int       `json:"conflicts"`
}

// MemberStatus is one member's sync state.
type MemberStatus struct {
	ID       string     `json:"id"`
	LastSync *time.Time `json:"last_sync"`
}

// Status is a read-only view of the synchronizer.
type Status struct {
	Members        []MemberStatus `json:"members"`
	LastPass       *PassReport    `json:"last_pass,omitempty"`
	TotalConflicts uint64         `json:"total_conflicts"`
	Strict         bool           `json:"strict"`
}

type member struct {
	id     string
	driver driver.Driver
}

// Synchronizer keeps flow tables of its members converged. Membership
// changes wait for an in-flight pass to finish.
type Synchronizer struct {
	callTimeout time.Duration
	concurrency int
	strict      bool
	logger      *zap.SugaredLogger
	now         func() time.Time

	membership sync.RWMutex
	members    []member

	lastSync  *xsync.Map[string, time.Time]
	lastPass  atomic.Pointer[PassReport]
	conflicts atomic.Uint64

	loop *scanloop.Loop
}

// New creates a Synchronizer. Zero-valued config fields take defaults.
func New(cfg Config) *Synchronizer {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = driver.DefaultCallTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Synchronizer{
		callTimeout: cfg.CallTimeout,
		concurrency: cfg.Concurrency,
		strict:      cfg.Strict,
		logger:      logging.OrNop(cfg.Logger),
		now:         cfg.Now,
		lastSync:    xsync.NewMap[string, time.Time](),
	}
	s.loop = scanloop.New("flowsync", cfg.Interval, 0, func(ctx context.Context) { s.SyncAll(ctx) }, s.logger)
	return s
}

// Start launches the periodic SyncAll loop.
func (s *Synchronizer) Start(ctx context.Context) { s.loop.Start(ctx) }

// Stop halts the loop and waits for the in-flight pass.
func (s *Synchronizer) Stop() { s.loop.Stop() }

// AddController adds a member. Duplicate ids are rejected.
func (s *Synchronizer) AddController(id string, d driver.Driver) error {
	if id == "" || d == nil {
		return fmt.Errorf("add controller %q: %w", id, model.ErrInvalid)
	}
	s.membership.Lock()
	defer s.membership.Unlock()
	if s.indexOf(id) >= 0 {
		return fmt.Errorf("controller %s already synchronized: %w", id, model.ErrConflict)
	}
	s.members = append(s.members, member{id: id, driver: d})
	s.logger.Infow("controller added", "controller", id)
	return nil
}

// RemoveController drops a member and its last-sync timestamp. It reports
// whether the id was a member.
func (s *Synchronizer) RemoveController(id string) bool {
	s.membership.Lock()
	defer s.membership.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.members = slices.Delete(s.members, i, i+1)
	s.lastSync.Delete(id)
	s.logger.Infow("controller removed", "controller", id)
	return true
}

// LastSync returns when the controller's flow table was last synchronized.
func (s *Synchronizer) LastSync(id string) (time.Time, bool) {
	return s.lastSync.Load(id)
}

// Status returns members in insertion order with their last-sync time.
func (s *Synchronizer) Status() Status {
	s.membership.RLock()
	members := make([]MemberStatus, 0, len(s.members))
	for _, m := range s.members {
		ms := MemberStatus{ID: m.id}
		if t, ok := s.lastSync.Load(m.id); ok {
			ms.LastSync = &t
		}
		members = append(members, ms)
	}
	s.membership.RUnlock()
	return Status{
		Members:        members,
		LastPass:       s.lastPass.Load(),
		TotalConflicts: s.conflicts.Load(),
		Strict:         s.strict,
	}
}

// SyncAll runs one convergence pass: every member receives the rules other
// members hold under flow ids it lacks. It is a no-op with fewer than two
// members. A member whose table cannot be read is left out of the pass.
func (s *Synchronizer) SyncAll(ctx context.Context) PassReport {
	s.membership.RLock()
	defer s.membership.RUnlock()

	report := PassReport{StartedAt: s.now(), Members: len(s.members)}
	if len(s.members) < 2 {
		return report
	}
	metrics.RecordFlowPass("sync_all")

	tables := s.fetchTables(ctx, s.members)
	for i, m := range s.members {
		if tables[i] == nil {
			report.FetchFailed = append(report.FetchFailed, m.id)
		}
	}

	union, conflicts := s.union(tables)
	report.Conflicts = conflicts

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, m := range s.members {
		own := tables[i]
		if own == nil {
			continue
		}
		g.Go(func() error {
			installed, failed, skipped := s.installMissing(gctx, m, own, union)
			mu.Lock()
			report.Installed += installed
			report.Failed += failed
			report.Skipped += skipped
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stamp := s.now()
	for i, m := range s.members {
		if tables[i] != nil {
			s.lastSync.Store(m.id, stamp)
		}
	}
	s.lastPass.Store(&report)
	s.logger.Debugw("sync pass complete", "members", report.Members, "installed", report.Installed,
		"failed", report.Failed, "skipped", report.Skipped, "fetch_failed", len(report.FetchFailed))
	return report
}

// ForceSync installs every rule of source's table on target and stamps
// target's last-sync time. It fails when either id is not a member or the
// source table cannot be read. Individual install failures are reported in
// the InstallReport and fail the call only in strict mode.
func (s *Synchronizer) ForceSync(ctx context.Context, sourceID, targetID string) (InstallReport, error) {
	report := InstallReport{Source: sourceID, Target: targetID}

	s.membership.RLock()
	defer s.membership.RUnlock()

	si, ti := s.indexOf(sourceID), s.indexOf(targetID)
	if si < 0 {
		return report, model.Wrap(model.KindSync, "force_sync", sourceID, model.ErrNotFound)
	}
	if ti < 0 {
		return report, model.Wrap(model.KindSync, "force_sync", targetID, model.ErrNotFound)
	}
	metrics.RecordFlowPass("force")
	source, target := s.members[si], s.members[ti]

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	flows, err := source.driver.GetFlows(callCtx)
	cancel()
	if err != nil {
		return report, model.Wrap(model.KindSync, "force_sync", sourceID, err)
	}

	ids := sortedIDs(flows)
	report.Attempted = len(ids)
	for _, id := range ids {
		if s.install(ctx, target, flows[id]) {
			report.Installed++
		} else {
			report.FailedIDs = append(report.FailedIDs, id)
		}
	}
	s.lastSync.Store(targetID, s.now())

	s.logger.Infow("force sync complete", "source", sourceID, "target", targetID,
		"attempted", report.Attempted, "installed", report.Installed, "failed", len(report.FailedIDs))
	if s.strict && len(report.FailedIDs) > 0 {
		return report, model.Wrap(model.KindSync, "force_sync", targetID,
			fmt.Errorf("%w: %d of %d installs failed", ErrIncompleteSync, len(report.FailedIDs), report.Attempted))
	}
	return report, nil
}

// fetchTables reads every member's table concurrently. A nil entry marks a
// failed read.
func (s *Synchronizer) fetchTables(ctx context.Context, members []member) []map[string]model.FlowRule {
	tables := make([]map[string]model.FlowRule, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, m := range members {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.callTimeout)
			defer cancel()
			flows, err := m.driver.GetFlows(callCtx)
			if err != nil {
				s.logger.Warnw("flow table fetch failed", "controller", m.id, "error", err)
				return nil
			}
			if flows == nil {
				flows = map[string]model.FlowRule{}
			}
			tables[i] = flows
			return nil
		})
	}
	_ = g.Wait()
	return tables
}

type unionRule struct {
	rule        model.FlowRule
	fingerprint model.Fingerprint
}

// union collects every flow id across the fetched tables. The body of each
// id comes from the first member in insertion order that holds it. Ids
// whose content differs between members are counted as conflicts; the
// first body is kept.
func (s *Synchronizer) union(tables []map[string]model.FlowRule) (map[string]unionRule, int) {
	union := make(map[string]unionRule)
	conflicts := 0
	for i, table := range tables {
		if table == nil {
			continue
		}
		for _, id := range sortedIDs(table) {
			rule := table[id]
			fp := rule.Fingerprint()
			existing, ok := union[id]
			if !ok {
				union[id] = unionRule{rule: rule, fingerprint: fp}
				continue
			}
			if existing.fingerprint != fp {
				conflicts++
				s.conflicts.Add(1)
				metrics.RecordFlowConflict()
				s.logger.Warnw("flow id conflict", "flow_id", id, "member_index", i,
					"kept", existing.fingerprint.Hex(), "ignored", fp.Hex())
			}
		}
	}
	return union, conflicts
}

// installMissing installs, in flow-id order, each union rule the member
// lacks. A rule whose content the member already holds under another id is
// skipped.
func (s *Synchronizer) installMissing(ctx context.Context, m member, own map[string]model.FlowRule, union map[string]unionRule) (installed, failed, skipped int) {
	held := make(map[model.Fingerprint]struct{}, len(own))
	for _, rule := range own {
		held[rule.Fingerprint()] = struct{}{}
	}

	missing := make([]string, 0)
	for id := range union {
		if _, ok := own[id]; !ok {
			missing = append(missing, id)
		}
	}
	slices.Sort(missing)

	for _, id := range missing {
		u := union[id]
		if _, dup := held[u.fingerprint]; dup {
			skipped++
			s.logger.Debugw("flow content already present under another id", "controller", m.id, "flow_id", id)
			continue
		}
		if s.install(ctx, m, u.rule) {
			installed++
			held[u.fingerprint] = struct{}{}
			s.logger.Debugw("flow synchronized", "controller", m.id, "flow_id", id)
		} else {
			failed++
			s.logger.Warnw("flow install failed", "controller", m.id, "flow_id", id)
		}
	}
	return installed, failed, skipped
}

func (s *Synchronizer) install(ctx context.Context, m member, rule model.FlowRule) bool {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	ok := m.driver.InstallFlow(callCtx, rule)
	metrics.RecordFlowInstall(m.id, ok)
	return ok
}

func (s *Synchronizer) indexOf(id string) int {
	return slices.IndexFunc(s.members, func(m member) bool { return m.id == id })
}

func sortedIDs(table map[string]model.FlowRule) []string {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
