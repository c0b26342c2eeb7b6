package supervisor

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jacob8919/autonomous-coding/internal/db"
	"github.com/jacob8919/autonomous-coding/pkg/models"
)

type fakeRunner struct {
	fn func(ctx context.Context, feature *models.Feature) (models.SessionOutcome, *string)
}

func (r *fakeRunner) Run(ctx context.Context, feature *models.Feature, out io.Writer) (models.SessionOutcome, *string) {
	return r.fn(ctx, feature)
}

type fakeCheckpointer struct {
	messages []string
}

func (c *fakeCheckpointer) Checkpoint(ctx context.Context, message string) error {
	c.messages = append(c.messages, message)
	return nil
}

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) Notify(ctx context.Context, event string) {
	n.events = append(n.events, event)
}

func testStore(t *testing.T) *db.DB {
	t.Helper()

	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return store
}

func seed(t *testing.T, store *db.DB, names ...string) []int64 {
	t.Helper()

	inputs := make([]models.FeatureInput, len(names))
	for i, name := range names {
		inputs[i] = models.FeatureInput{
			Category:    "core",
			Name:        name,
			Description: name + " behavior",
			Steps:       []string{"verify"},
		}
	}
	ids, err := store.InsertFeatures(context.Background(), inputs, nil,
		models.FeatureSourceInitial, models.PriorityModeAppend)
	if err != nil {
		t.Fatalf("InsertFeatures failed: %v", err)
	}
	return ids
}

func testConfig() Config {
	return Config{
		Cooldown:       time.Millisecond,
		StallThreshold: 3,
	}
}

func TestRunsBacklogToCompletion(t *testing.T) {
	store := testStore(t)
	seed(t, store, "alpha", "beta")

	runner := &fakeRunner{fn: func(ctx context.Context, f *models.Feature) (models.SessionOutcome, *string) {
		return models.SessionOutcomePassing, nil
	}}
	cp := &fakeCheckpointer{}
	notifier := &fakeNotifier{}

	sup := New(store, runner, cp, notifier, testConfig())
	sup.NoTUI = true

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ctx := context.Background()
	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Passing != 2 || stats.Total != 2 {
		t.Errorf("Expected 2/2 passing, got %d/%d", stats.Passing, stats.Total)
	}

	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(sessions))
	}

	if len(cp.messages) != 2 {
		t.Errorf("Expected 2 checkpoints, got %d", len(cp.messages))
	}
	for _, msg := range cp.messages {
		if !strings.Contains(msg, "passing") {
			t.Errorf("Expected outcome in checkpoint message, got %q", msg)
		}
	}

	if len(notifier.events) != 2 {
		t.Errorf("Expected 2 notifications, got %d", len(notifier.events))
	}
}

func TestStallFlagging(t *testing.T) {
	store := testStore(t)
	ids := seed(t, store, "alpha")

	msg := "tests keep failing"
	runner := &fakeRunner{fn: func(ctx context.Context, f *models.Feature) (models.SessionOutcome, *string) {
		return models.SessionOutcomeFailed, &msg
	}}

	sup := New(store, runner, nil, nil, testConfig())
	sup.NoTUI = true

	// Three consecutive failures flag the feature; with it parked, no
	// eligible work remains and the loop stops on its own.
	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ctx := context.Background()
	f, err := store.GetFeature(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetFeature failed: %v", err)
	}
	if !f.NeedsReview {
		t.Error("Expected feature flagged for review")
	}
	if f.ConsecutiveFailures != 3 {
		t.Errorf("Expected streak 3, got %d", f.ConsecutiveFailures)
	}
	if f.Status != models.FeatureStatusFailed {
		t.Errorf("Expected status failed, got %s", f.Status)
	}

	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("Expected 3 sessions before flagging, got %d", len(sessions))
	}
}

func TestMaxSessions(t *testing.T) {
	store := testStore(t)
	seed(t, store, "alpha")

	msg := "still failing"
	runner := &fakeRunner{fn: func(ctx context.Context, f *models.Feature) (models.SessionOutcome, *string) {
		return models.SessionOutcomeFailed, &msg
	}}

	cfg := testConfig()
	cfg.StallThreshold = 0
	cfg.MaxSessions = 2

	sup := New(store, runner, nil, nil, cfg)
	sup.NoTUI = true

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	sessions, err := store.ListSessions(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("Expected exactly 2 sessions, got %d", len(sessions))
	}
}

func TestAbortedSessionReturnsFeature(t *testing.T) {
	store := testStore(t)
	ids := seed(t, store, "alpha")

	runner := &fakeRunner{fn: func(ctx context.Context, f *models.Feature) (models.SessionOutcome, *string) {
		return models.SessionOutcomeAborted, nil
	}}

	cfg := testConfig()
	cfg.MaxSessions = 1

	sup := New(store, runner, nil, nil, cfg)
	sup.NoTUI = true

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	f, err := store.GetFeature(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("GetFeature failed: %v", err)
	}
	if f.Status != models.FeatureStatusPending {
		t.Errorf("Expected aborted feature back to pending, got %s", f.Status)
	}
	if f.ConsecutiveFailures != 1 {
		t.Errorf("Expected streak 1 after abort, got %d", f.ConsecutiveFailures)
	}
}

func TestInitializerSession(t *testing.T) {
	store := testStore(t)

	runner := &fakeRunner{fn: func(ctx context.Context, f *models.Feature) (models.SessionOutcome, *string) {
		if f == nil {
			// The initializer registers the backlog through MCP.
			inputs := []models.FeatureInput{
				{Category: "core", Name: "alpha", Description: "first", Steps: []string{"verify"}},
			}
			if _, err := store.InsertFeatures(ctx, inputs, nil, models.FeatureSourceInitial, models.PriorityModeAppend); err != nil {
				msg := err.Error()
				return models.SessionOutcomeFailed, &msg
			}
		}
		return models.SessionOutcomePassing, nil
	}}

	sup := New(store, runner, nil, nil, testConfig())
	sup.NoTUI = true

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ctx := context.Background()
	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Passing != 1 || stats.Total != 1 {
		t.Errorf("Expected registered feature passed, got %d/%d", stats.Passing, stats.Total)
	}

	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected initializer plus one work session, got %d", len(sessions))
	}

	var sawInitializer bool
	for _, s := range sessions {
		if s.FeatureID == nil {
			sawInitializer = true
		}
	}
	if !sawInitializer {
		t.Error("Expected a session with no feature attached")
	}
}

func TestInitializerRegistersNothing(t *testing.T) {
	store := testStore(t)

	runner := &fakeRunner{fn: func(ctx context.Context, f *models.Feature) (models.SessionOutcome, *string) {
		return models.SessionOutcomePassing, nil
	}}

	sup := New(store, runner, nil, nil, testConfig())
	sup.NoTUI = true

	err := sup.Run(context.Background())
	if err == nil {
		t.Fatal("Expected error when initializer registers no features")
	}

	sessions, serr := store.ListSessions(context.Background(), 0)
	if serr != nil {
		t.Fatalf("ListSessions failed: %v", serr)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected a single initializer session, got %d", len(sessions))
	}
	if sessions[0].Outcome == nil || *sessions[0].Outcome != models.SessionOutcomeNoWork {
		t.Errorf("Expected no_work outcome, got %v", sessions[0].Outcome)
	}
}

func TestAgentVerdictWins(t *testing.T) {
	store := testStore(t)
	ids := seed(t, store, "alpha")

	// The agent resolves the feature over MCP before the session exits
	// with a non-zero status. The recorded status takes precedence over
	// the exit code.
	runner := &fakeRunner{fn: func(ctx context.Context, f *models.Feature) (models.SessionOutcome, *string) {
		if _, err := store.MarkOutcome(ctx, f.ID, models.FeatureStatusPassing, nil); err != nil {
			msg := err.Error()
			return models.SessionOutcomeFailed, &msg
		}
		msg := "exited 1 after finishing"
		return models.SessionOutcomeFailed, &msg
	}}

	sup := New(store, runner, nil, nil, testConfig())
	sup.NoTUI = true

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ctx := context.Background()
	f, err := store.GetFeature(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetFeature failed: %v", err)
	}
	if f.Status != models.FeatureStatusPassing {
		t.Errorf("Expected passing, got %s", f.Status)
	}

	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Outcome == nil || *sessions[0].Outcome != models.SessionOutcomePassing {
		t.Errorf("Expected session resolved as passing, got %v", sessions[0].Outcome)
	}
}

func TestRecoversInterruptedStateOnStartup(t *testing.T) {
	store := testStore(t)
	ids := seed(t, store, "alpha")

	ctx := context.Background()
	if err := store.MarkInProgress(ctx, ids[0]); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}
	if _, err := store.CreateSession(ctx, &ids[0]); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	runner := &fakeRunner{fn: func(ctx context.Context, f *models.Feature) (models.SessionOutcome, *string) {
		return models.SessionOutcomePassing, nil
	}}

	sup := New(store, runner, nil, nil, testConfig())
	sup.NoTUI = true

	if err := sup.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The stale claim was released, the feature re-dispatched, and the
	// orphaned session closed as aborted.
	f, err := store.GetFeature(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetFeature failed: %v", err)
	}
	if f.Status != models.FeatureStatusPassing {
		t.Errorf("Expected feature to pass after recovery, got %s", f.Status)
	}

	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}

	var sawAborted bool
	for _, s := range sessions {
		if s.Outcome != nil && *s.Outcome == models.SessionOutcomeAborted {
			sawAborted = true
		}
	}
	if !sawAborted {
		t.Error("Expected orphaned session closed as aborted")
	}
}
