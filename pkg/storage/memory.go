package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Memory is an in-process Database used by tests and the memory provider.
type Memory struct {
	mu       sync.Mutex
	plans    map[string]types.PlanArtifact
	outcomes map[string][]types.TickOutcome
	flags    map[string]types.Flags
	versions map[string]int
}

// NewMemory returns an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{
		plans:    make(map[string]types.PlanArtifact),
		outcomes: make(map[string][]types.TickOutcome),
		flags:    make(map[string]types.Flags),
		versions: make(map[string]int),
	}
}

func (m *Memory) SetPlan(ctx context.Context, siteID string, plan types.PlanArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[siteID] = plan
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, siteID string) (types.PlanArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[siteID]
	if !ok {
		return types.PlanArtifact{}, ErrPlanNotFound
	}
	return plan, nil
}

func (m *Memory) InsertTickOutcome(ctx context.Context, siteID string, outcome types.TickOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[siteID] = append(m.outcomes[siteID], outcome)
	return nil
}

func (m *Memory) GetTickOutcomes(ctx context.Context, siteID string, start, end time.Time) ([]types.TickOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.TickOutcome
	for _, o := range m.outcomes[siteID] {
		if !o.Timestamp.Before(start) && o.Timestamp.Before(end) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) GetLatestTickOutcome(ctx context.Context, siteID string) (*types.TickOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcomes := m.outcomes[siteID]
	if len(outcomes) == 0 {
		return nil, nil
	}
	latest := outcomes[0]
	for _, o := range outcomes[1:] {
		if o.Timestamp.After(latest.Timestamp) {
			latest = o
		}
	}
	return &latest, nil
}

func (m *Memory) GetFlags(ctx context.Context, siteID string) (types.Flags, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flags, ok := m.flags[siteID]
	if !ok {
		return types.DefaultFlags(), 0, nil
	}
	return flags, m.versions[siteID], nil
}

func (m *Memory) SetFlags(ctx context.Context, siteID string, flags types.Flags, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[siteID] = flags
	m.versions[siteID] = version
	return nil
}

func (m *Memory) Close() error { return nil }
