// Package scheduler picks which controller should hold the master role.
package scheduler

import (
	"sync"

	"github.com/sdhr-guard/sdhr/internal/model"
)

// Strategy names.
const (
	RoundRobinName     = "round_robin"
	HealthAwareName    = "health_aware"
	DiversityAwareName = "diversity_aware"
)

// Strategy selects one controller from a pool ordered by registration.
// Select returns ok=false for an empty pool.
type Strategy interface {
	Name() string
	Select(pool []model.Controller) (id string, ok bool)
}

// compile-time type validation
var (
	_ Strategy = (*RoundRobin)(nil)
	_ Strategy = (*HealthAware)(nil)
	_ Strategy = (*DiversityAware)(nil)
)

// RoundRobin cycles through the pool. The index is advanced before it is
// used, so the first pick from a fresh strategy is the second controller.
type RoundRobin struct {
	mu    sync.Mutex
	index int
}

// NewRoundRobin returns a RoundRobin starting at index 0.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (s *RoundRobin) Name() string { return RoundRobinName }

func (s *RoundRobin) Select(pool []model.Controller) (string, bool) {
	if len(pool) == 0 {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = (s.index + 1) % len(pool)
	return pool[s.index].ID, true
}

// HealthAware picks the healthiest controller; ties go to the earliest
// registered.
type HealthAware struct{}

// NewHealthAware returns a HealthAware strategy.
func NewHealthAware() *HealthAware { return &HealthAware{} }

func (s *HealthAware) Name() string { return HealthAwareName }

func (s *HealthAware) Select(pool []model.Controller) (string, bool) {
	best, ok := healthiest(pool, nil)
	return best, ok
}

// DiversityHistory is the number of recently used controller types
// DiversityAware tries to avoid.
const DiversityHistory = 3

// DiversityAware prefers controller types not used in the last few
// selections, picking the healthiest controller among them.
type DiversityAware struct {
	mu      sync.Mutex
	history []model.ControllerType
}

// NewDiversityAware returns a DiversityAware strategy with empty history.
func NewDiversityAware() *DiversityAware { return &DiversityAware{} }

func (s *DiversityAware) Name() string { return DiversityAwareName }

func (s *DiversityAware) Select(pool []model.Controller) (string, bool) {
	if len(pool) == 0 {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	used := make(map[model.ControllerType]bool, len(s.history))
	for _, t := range s.history {
		used[t] = true
	}
	preferred := make(map[model.ControllerType]bool)
	for _, c := range pool {
		if !used[c.Type] {
			preferred[c.Type] = true
		}
	}
	if len(preferred) == 0 {
		for _, c := range pool {
			preferred[c.Type] = true
		}
	}

	best, ok := healthiest(pool, preferred)
	if !ok {
		return "", false
	}
	for _, c := range pool {
		if c.ID == best {
			s.history = append(s.history, c.Type)
			break
		}
	}
	if len(s.history) > DiversityHistory {
		s.history = s.history[len(s.history)-DiversityHistory:]
	}
	return best, true
}

// History returns the recently used types, oldest first.
func (s *DiversityAware) History() []model.ControllerType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ControllerType(nil), s.history...)
}

// healthiest returns the first controller with the strictly highest health,
// restricted to types in allow when allow is non-nil.
func healthiest(pool []model.Controller, allow map[model.ControllerType]bool) (string, bool) {
	best := ""
	bestScore := -1.0
	for _, c := range pool {
		if allow != nil && !allow[c.Type] {
			continue
		}
		if c.Health > bestScore {
			best = c.ID
			bestScore = c.Health
		}
	}
	return best, best != ""
}
