package dupe

import (
	"testing"
	"time"

	"github.com/jacob8919/autonomous-coding/pkg/models"
)

func feature(id int64, name, description string, createdAt time.Time) *models.Feature {
	return &models.Feature{
		ID:          id,
		Category:    "core",
		Name:        name,
		Description: description,
		CreatedAt:   createdAt,
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The user can log-in with an Email address!")
	want := []string{"log", "email", "address"}
	if len(tokens) != len(want) {
		t.Fatalf("Expected %v, got %v", want, tokens)
	}
	for i, tok := range want {
		if tokens[i] != tok {
			t.Errorf("Token %d: expected %q, got %q", i, tok, tokens[i])
		}
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if tokens := Tokenize("the a an of"); tokens != nil {
		t.Errorf("Expected nil for all-stopword input, got %v", tokens)
	}
}

func TestSearchScoring(t *testing.T) {
	now := time.Now()
	features := []*models.Feature{
		feature(1, "login form", "validate email and password before granting access", now),
		feature(2, "password reset", "send reset email", now),
		feature(3, "invoice export", "download invoices as csv", now),
	}

	matches := Search(features, "login password email", 10)
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].Feature.ID != 1 {
		t.Errorf("Expected feature 1 strongest, got %d", matches[0].Feature.ID)
	}
	if matches[0].Score != 1.0 {
		t.Errorf("Expected full overlap score 1.0, got %v", matches[0].Score)
	}
	if matches[1].Feature.ID != 2 {
		t.Errorf("Expected feature 2 second, got %d", matches[1].Feature.ID)
	}
}

func TestSearchTieBreaks(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	recent := time.Now()
	features := []*models.Feature{
		feature(1, "export report", "export data", old),
		feature(2, "export summary", "export data", recent),
	}

	matches := Search(features, "export data", 10)
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	// Equal scores break toward the most recently created feature.
	if matches[0].Feature.ID != 2 {
		t.Errorf("Expected newer feature first on tie, got %d", matches[0].Feature.ID)
	}
}

func TestSearchLimit(t *testing.T) {
	now := time.Now()
	features := []*models.Feature{
		feature(1, "export csv", "export data", now),
		feature(2, "export json", "export data", now),
		feature(3, "export xml", "export data", now),
	}

	matches := Search(features, "export", 2)
	if len(matches) != 2 {
		t.Errorf("Expected limit applied, got %d matches", len(matches))
	}
}

func TestCheckDuplicate(t *testing.T) {
	now := time.Now()
	features := []*models.Feature{
		feature(1, "dark mode toggle", "toggle between light and dark themes", now),
		feature(2, "invoice export", "download invoices as csv", now),
	}

	proposed := models.FeatureInput{
		Name:        "dark mode",
		Description: "switch the theme to dark",
	}
	m := CheckDuplicate(features, proposed, 0.5)
	if m == nil {
		t.Fatal("Expected a near-duplicate match")
	}
	if m.Feature.ID != 1 {
		t.Errorf("Expected feature 1 as duplicate, got %d", m.Feature.ID)
	}
	if len(m.MatchedTerms) == 0 {
		t.Error("Expected matched terms to be surfaced")
	}

	novel := models.FeatureInput{
		Name:        "webhook retries",
		Description: "retry failed webhook deliveries with backoff",
	}
	if m := CheckDuplicate(features, novel, 0.5); m != nil {
		t.Errorf("Expected no duplicate for novel proposal, got %+v", m)
	}
}
