// Package progress computes aggregate completion snapshots from the ledger
// and pushes them to an external notification sink.
package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jacob8919/autonomous-coding/internal/db"
)

// Snapshot is one progress observation, including the per-category
// breakdown.
type Snapshot struct {
	Event      string               `json:"event"`
	Passing    int                  `json:"passing"`
	Total      int                  `json:"total"`
	Percentage float64              `json:"percentage"`
	Project    string               `json:"project"`
	Categories []db.CategorySummary `json:"categories,omitempty"`
}

// Reporter emits progress notifications. Delivery is fire-and-forget: a
// dead sink must never affect ledger consistency or the supervisor loop.
type Reporter struct {
	store   *db.DB
	client  *http.Client
	url     string
	project string
}

// NewReporter creates a Reporter posting to webhookURL. An empty URL
// disables delivery; Snapshot still works for local display.
func NewReporter(store *db.DB, webhookURL, project string) *Reporter {
	return &Reporter{
		store:   store,
		client:  &http.Client{Timeout: 10 * time.Second},
		url:     webhookURL,
		project: project,
	}
}

// WatchLedger registers the reporter on the store's change hook so bulk
// registrations and outcome writes emit notifications even when they happen
// outside a supervised session, such as `autocode add` or the MCP server.
func (r *Reporter) WatchLedger() {
	r.store.AddOnChange(func(ctx context.Context) {
		r.Notify(ctx, "ledger_updated")
	})
}

// Snapshot reads the current aggregate state from the ledger.
func (r *Reporter) Snapshot(ctx context.Context, event string) (*Snapshot, error) {
	stats, err := r.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	categories, err := r.store.GetSummaryByCategory(ctx)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Event:      event,
		Passing:    stats.Passing,
		Total:      stats.Total,
		Percentage: stats.Percentage,
		Project:    r.project,
		Categories: categories,
	}, nil
}

// Notify computes a snapshot and posts it in the background. Errors are
// logged to stderr and otherwise dropped.
func (r *Reporter) Notify(ctx context.Context, event string) {
	snap, err := r.Snapshot(ctx, event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing progress snapshot: %v\n", err)
		return
	}

	if r.url == "" {
		return
	}

	go func() {
		if err := r.post(snap); err != nil {
			fmt.Fprintf(os.Stderr, "Error delivering progress notification: %v\n", err)
		}
	}()
}

func (r *Reporter) post(snap *Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification sink returned %d", resp.StatusCode)
	}
	return nil
}
