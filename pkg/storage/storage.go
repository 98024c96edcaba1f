// Package storage persists the chosen plan artifact, per-tick outcomes, and
// planner settings. The Database interface keeps the executor and scheduler
// independent of the backing store; Firestore is the production backend and
// Memory backs tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/types"
)

var (
	ErrPlanNotFound = errors.New("plan not found")
)

// Database defines the interface for persisting planner data.
type Database interface {
	// Plans
	// SetPlan replaces the current plan artifact for the site.
	SetPlan(ctx context.Context, siteID string, plan types.PlanArtifact) error
	// GetPlan returns the current plan artifact, or ErrPlanNotFound.
	GetPlan(ctx context.Context, siteID string) (types.PlanArtifact, error)

	// Tick outcomes
	InsertTickOutcome(ctx context.Context, siteID string, outcome types.TickOutcome) error
	GetTickOutcomes(ctx context.Context, siteID string, start, end time.Time) ([]types.TickOutcome, error)
	GetLatestTickOutcome(ctx context.Context, siteID string) (*types.TickOutcome, error)

	// Settings
	GetFlags(ctx context.Context, siteID string) (types.Flags, int, error)
	SetFlags(ctx context.Context, siteID string, flags types.Flags, version int) error

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, memory)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
