// Package dupe scores proposed features against the existing ledger so the
// registration flow can flag near-duplicates before inserting them. Scoring
// is plain token overlap: deterministic and explainable, not semantic.
package dupe

import (
	"sort"
	"strings"

	"github.com/jacob8919/autonomous-coding/pkg/models"
)

// Match is one existing feature ranked against a query, with the overlap
// score and the terms that produced it surfaced for explainability.
type Match struct {
	Feature      *models.Feature
	Score        float64
	MatchedTerms []string
}

// stopwords excluded from token scoring. Short function words dominate
// feature descriptions and would swamp the signal.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true, "to": true,
	"with": true, "should": true, "when": true, "user": true, "can": true,
}

// Tokenize lowercases and splits text into scoring tokens, dropping
// stopwords and single-character fragments.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	var tokens []string
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Search ranks features by token overlap with the query. Features with no
// overlapping terms are dropped. Ties break by most recent created_at, then
// by id so the order is fully deterministic.
func Search(features []*models.Feature, query string, limit int) []Match {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	querySet := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		querySet[t] = true
	}

	var matches []Match
	for _, f := range features {
		text := f.Name + " " + f.Description + " " + f.Category
		seen := make(map[string]bool)
		var matched []string
		for _, t := range Tokenize(text) {
			if querySet[t] && !seen[t] {
				seen[t] = true
				matched = append(matched, t)
			}
		}
		if len(matched) == 0 {
			continue
		}

		sort.Strings(matched)
		matches = append(matches, Match{
			Feature:      f,
			Score:        float64(len(matched)) / float64(len(querySet)),
			MatchedTerms: matched,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if !matches[i].Feature.CreatedAt.Equal(matches[j].Feature.CreatedAt) {
			return matches[i].Feature.CreatedAt.After(matches[j].Feature.CreatedAt)
		}
		return matches[i].Feature.ID < matches[j].Feature.ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// CheckDuplicate scores one proposed feature against the ledger and returns
// the strongest match at or above the threshold, or nil if the proposal
// looks new. A threshold around 0.6 works well for feature-sized text.
func CheckDuplicate(features []*models.Feature, proposed models.FeatureInput, threshold float64) *Match {
	query := proposed.Name + " " + proposed.Description
	matches := Search(features, query, 1)
	if len(matches) == 0 || matches[0].Score < threshold {
		return nil
	}
	return &matches[0]
}
