package models

import "time"

type SessionOutcome string

const (
	SessionOutcomePassing SessionOutcome = "passing"
	SessionOutcomeFailed  SessionOutcome = "failed"
	SessionOutcomeAborted SessionOutcome = "aborted"
	SessionOutcomeNoWork  SessionOutcome = "no_work"
)

// Session is one bounded execution attempt by the external work agent.
// Rows are append-only history: once EndedAt is set the record is never
// mutated again.
type Session struct {
	ID        string          `json:"id"`
	FeatureID *int64          `json:"feature_id"`
	Outcome   *SessionOutcome `json:"outcome"`
	Error     *string         `json:"error"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at"`
}
