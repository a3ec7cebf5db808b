// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ErrScenarioNotFound reports a scenario lookup with no matching record.
var ErrScenarioNotFound = errors.New("scenario not found")

// ReferenceStore serves the canonical country list and scenario records.
type ReferenceStore interface {
	GetActiveCountryList(ctx context.Context) ([]string, error)
	GetScenarioByID(ctx context.Context, id string) (*Scenario, error)
}

// ScoreStore persists country scores with idempotent upsert semantics
// keyed by (scenario, country).
type ScoreStore interface {
	UpsertScores(ctx context.Context, scenarioID string, scores []CountryScore) error
	GetScoresForScenario(ctx context.Context, scenarioID string) ([]CountryScore, error)
}

// PostgresStore implements ReferenceStore and ScoreStore over a shared
// database handle.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a store over an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetActiveCountryList returns the canonical reference set in stable
// alphabetical order.
func (s *PostgresStore) GetActiveCountryList(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM countries WHERE active = true ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query country list: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var countries []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan country row: %w", err)
		}
		countries = append(countries, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("country list iteration failed: %w", err)
	}
	return countries, nil
}

// GetScenarioByID fetches one scenario.
func (s *PostgresStore) GetScenarioByID(ctx context.Context, id string) (*Scenario, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, side_a, side_b FROM scenarios WHERE id = $1`, id)

	var scn Scenario
	if err := row.Scan(&scn.ID, &scn.Title, &scn.Description, &scn.SideA, &scn.SideB); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("scenario %s: %w", id, ErrScenarioNotFound)
		}
		return nil, fmt.Errorf("failed to load scenario %s: %w", id, err)
	}
	return &scn, nil
}

// UpsertScores writes a set of country scores for a scenario. The upsert
// is idempotent: re-running a batch overwrites the previous incremental
// value rather than duplicating rows.
func (s *PostgresStore) UpsertScores(ctx context.Context, scenarioID string, scores []CountryScore) error {
	if len(scores) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO country_scores (scenario_id, country_name, score, reasoning, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (scenario_id, country_name)
		DO UPDATE SET score = EXCLUDED.score, reasoning = EXCLUDED.reasoning, updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, score := range scores {
		if _, err := stmt.ExecContext(ctx, scenarioID, score.CountryName, score.Score, score.Reasoning); err != nil {
			return fmt.Errorf("failed to upsert score for %s: %w", score.CountryName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit score upsert: %w", err)
	}
	return nil
}

// GetScoresForScenario returns all stored scores for a scenario.
func (s *PostgresStore) GetScoresForScenario(ctx context.Context, scenarioID string) ([]CountryScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT country_name, score, COALESCE(reasoning, '') FROM country_scores WHERE scenario_id = $1 ORDER BY country_name`,
		scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var scores []CountryScore
	for rows.Next() {
		var cs CountryScore
		if err := rows.Scan(&cs.CountryName, &cs.Score, &cs.Reasoning); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		scores = append(scores, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("score iteration failed: %w", err)
	}
	return scores, nil
}
