package models

import "time"

type FeatureStatus string

const (
	FeatureStatusPending    FeatureStatus = "pending"
	FeatureStatusInProgress FeatureStatus = "in_progress"
	FeatureStatusPassing    FeatureStatus = "passing"
	FeatureStatusFailed     FeatureStatus = "failed"
)

type FeatureSource string

const (
	FeatureSourceInitial     FeatureSource = "initial"
	FeatureSourceEnhancement FeatureSource = "enhancement"
)

// Feature is one discrete, independently verifiable unit of work.
// Priority is a signed rank: lower values are worked on first. Ranks are
// never renumbered on insert, so prepended batches can push the minimum
// arbitrarily negative.
type Feature struct {
	ID                  int64         `json:"id"`
	Priority            int           `json:"priority"`
	Category            string        `json:"category"`
	Name                string        `json:"name"`
	Description         string        `json:"description"`
	Steps               []string      `json:"steps"`
	Status              FeatureStatus `json:"status"`
	Source              FeatureSource `json:"source"`
	BatchID             *string       `json:"batch_id"`
	AttemptCount        int           `json:"attempt_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	NeedsReview         bool          `json:"needs_review"`
	LastError           *string       `json:"last_error"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}
