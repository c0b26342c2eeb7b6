package db

import (
	"context"
	"fmt"
	"math"

	"github.com/jacob8919/autonomous-coding/pkg/models"
)

type Stats struct {
	Passing    int     `json:"passing"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

type CategorySummary struct {
	Name    string `json:"name"`
	Total   int    `json:"total"`
	Passing int    `json:"passing"`
}

// GetStats returns overall completion progress.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'passing' THEN 1 ELSE 0 END), 0)
		FROM features
	`).Scan(&s.Total, &s.Passing)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	if s.Total > 0 {
		s.Percentage = math.Round(float64(s.Passing)/float64(s.Total)*1000) / 10
	}
	return s, nil
}

// GetSummaryByCategory returns per-category counts in category order.
func (db *DB) GetSummaryByCategory(ctx context.Context) ([]CategorySummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT category, COUNT(*), SUM(CASE WHEN status = 'passing' THEN 1 ELSE 0 END)
		FROM features
		GROUP BY category
		ORDER BY category ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get category summary: %w", err)
	}
	defer rows.Close()

	var summaries []CategorySummary
	for rows.Next() {
		var s CategorySummary
		if err := rows.Scan(&s.Name, &s.Total, &s.Passing); err != nil {
			return nil, fmt.Errorf("failed to scan category summary: %w", err)
		}
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return summaries, nil
}

// GetAllCategories returns the distinct category names in the ledger.
func (db *DB) GetAllCategories(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT category FROM features ORDER BY category ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return categories, nil
}

// GetFeaturesForRegression returns a random sample of passing features, used
// by sessions to spot-check that earlier work still holds up.
func (db *DB) GetFeaturesForRegression(ctx context.Context, limit int) ([]*models.Feature, error) {
	if limit <= 0 {
		limit = 3
	}
	query := fmt.Sprintf(`
		SELECT %s FROM features WHERE status = 'passing' ORDER BY RANDOM() LIMIT ?
	`, featureColumns)
	return db.queryFeatures(ctx, query, limit)
}

// SearchFeatures does a case-insensitive substring match against name and
// description, ordered by rank. The dupe package layers token scoring on
// top of ListFeatures; this is the cheap SQL path used by the MCP surface.
func (db *DB) SearchFeatures(ctx context.Context, query string, limit int) ([]*models.Feature, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	q := fmt.Sprintf(`
		SELECT %s
		FROM features
		WHERE name LIKE ? OR description LIKE ?
		ORDER BY priority ASC, id ASC
		LIMIT ?
	`, featureColumns)
	return db.queryFeatures(ctx, q, pattern, pattern, limit)
}
