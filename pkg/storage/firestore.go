package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Plans live at sites/{id}/config/plan, outcomes under
// sites/{id}/tick_history keyed by RFC3339 timestamp.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(siteID, name string) (*firestore.CollectionRef, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	return f.client.Collection("sites").Doc(siteID).Collection(name), nil
}

// SetPlan stores the plan artifact as a JSON blob at "config/plan".
func (f *FirestoreProvider) SetPlan(ctx context.Context, siteID string, plan types.PlanArtifact) error {
	jsonBytes, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("plan").Set(ctx, map[string]interface{}{
		"json":          string(jsonBytes),
		"horizonOrigin": plan.HorizonOrigin,
	})
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// GetPlan retrieves the current plan artifact from "config/plan".
func (f *FirestoreProvider) GetPlan(ctx context.Context, siteID string) (types.PlanArtifact, error) {
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return types.PlanArtifact{}, err
	}
	doc, err := coll.Doc("plan").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.PlanArtifact{}, ErrPlanNotFound
		}
		return types.PlanArtifact{}, fmt.Errorf("failed to fetch plan doc: %w", err)
	}
	val, err := doc.DataAt("json")
	if err != nil {
		return types.PlanArtifact{}, fmt.Errorf("plan document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.PlanArtifact{}, fmt.Errorf("plan 'json' field is not a string")
	}
	var plan types.PlanArtifact
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return types.PlanArtifact{}, fmt.Errorf("failed to unmarshal plan json: %w", err)
	}
	return plan, nil
}

// InsertTickOutcome adds a tick record to the "tick_history" collection.
// The document ID is the RFC3339 timestamp for efficient range queries.
func (f *FirestoreProvider) InsertTickOutcome(ctx context.Context, siteID string, outcome types.TickOutcome) error {
	jsonBytes, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	coll, err := f.getCollection(siteID, "tick_history")
	if err != nil {
		return err
	}
	docID := outcome.Timestamp.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": outcome.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// GetTickOutcomes retrieves tick records within the specified time range.
// Uses document ID range queries to avoid reading all documents.
func (f *FirestoreProvider) GetTickOutcomes(ctx context.Context, siteID string, start, end time.Time) ([]types.TickOutcome, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(siteID, "tick_history")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var outcomes []types.TickOutcome
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
		}
		val, err := doc.DataAt("json")
		if err != nil {
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			continue
		}
		var outcome types.TickOutcome
		if err := json.Unmarshal([]byte(jsonStr), &outcome); err != nil {
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// GetLatestTickOutcome returns the most recent tick record, or nil when the
// site has never ticked.
func (f *FirestoreProvider) GetLatestTickOutcome(ctx context.Context, siteID string) (*types.TickOutcome, error) {
	coll, err := f.getCollection(siteID, "tick_history")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest outcome: %w", err)
	}
	val, err := doc.DataAt("json")
	if err != nil {
		return nil, fmt.Errorf("outcome document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("outcome 'json' field is not a string")
	}
	var outcome types.TickOutcome
	if err := json.Unmarshal([]byte(jsonStr), &outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome json: %w", err)
	}
	return &outcome, nil
}

// GetFlags retrieves the feature flags from the "config/flags" document.
func (f *FirestoreProvider) GetFlags(ctx context.Context, siteID string) (types.Flags, int, error) {
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return types.Flags{}, 0, err
	}
	doc, err := coll.Doc("flags").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.DefaultFlags(), 0, nil
		}
		return types.Flags{}, 0, fmt.Errorf("failed to fetch flags doc: %w", err)
	}

	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		return types.Flags{}, 0, fmt.Errorf("flags document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.Flags{}, 0, fmt.Errorf("flags 'json' field is not a string")
	}
	var flags types.Flags
	if err := json.Unmarshal([]byte(jsonStr), &flags); err != nil {
		return types.Flags{}, 0, fmt.Errorf("failed to unmarshal flags json: %w", err)
	}
	return flags, version, nil
}

// SetFlags saves the feature flags to the "config/flags" document.
func (f *FirestoreProvider) SetFlags(ctx context.Context, siteID string, flags types.Flags, version int) error {
	jsonBytes, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("flags").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save flags: %w", err)
	}
	return nil
}
