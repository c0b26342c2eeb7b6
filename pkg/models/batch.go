package models

type PriorityMode string

const (
	PriorityModeAppend  PriorityMode = "append"
	PriorityModePrepend PriorityMode = "prepend"
)

// FeatureInput is one feature as it arrives in a bulk registration payload,
// before the ledger assigns it an id and a rank.
type FeatureInput struct {
	Category    string   `json:"category"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

type BulkMetadata struct {
	CreatedAt    string       `json:"created_at"`
	BatchID      string       `json:"batch_id"`
	PriorityMode PriorityMode `json:"priority_mode"`
	SourceRef    string       `json:"source_ref"`
}

// BulkRequest is the registration payload produced by an external
// specification or enhancement process.
type BulkRequest struct {
	Metadata     BulkMetadata   `json:"metadata"`
	Features     []FeatureInput `json:"features"`
	FeatureCount int            `json:"feature_count"`
}
