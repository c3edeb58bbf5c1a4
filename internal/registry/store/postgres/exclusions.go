package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"idregistry/internal/registry/models"
	"idregistry/pkg/domerrors"
)

func (s *Store) AddMatchingExclusion(ctx context.Context, value string) (*models.MatchingExclusion, error) {
	now := time.Now().UTC()
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO matching_exclusions (excluded, created_at, last_modified) VALUES ($1, $2, $2)`,
		value, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domerrors.New(domerrors.CodeDuplicate, "%q is already excluded from matching", value)
		}
		return nil, fmt.Errorf("add matching exclusion: %w", err)
	}
	return &models.MatchingExclusion{Excluded: value, CreatedAt: now, LastModified: now}, nil
}

func (s *Store) DeleteMatchingExclusion(ctx context.Context, value string) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM matching_exclusions WHERE excluded = $1`, value)
	if err != nil {
		return fmt.Errorf("delete matching exclusion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete matching exclusion: %w", err)
	}
	if affected == 0 {
		return domerrors.New(domerrors.CodeNotFound, "%q is not excluded from matching", value)
	}
	return nil
}

func (s *Store) HasMatchingExclusion(ctx context.Context, value string) (bool, error) {
	var one int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM matching_exclusions WHERE excluded = $1`, value).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup matching exclusion: %w", err)
	}
	return true, nil
}

func (s *Store) ListMatchingExclusions(ctx context.Context) ([]models.MatchingExclusion, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT excluded, created_at, last_modified FROM matching_exclusions ORDER BY excluded`)
	if err != nil {
		return nil, fmt.Errorf("list matching exclusions: %w", err)
	}
	defer rows.Close()

	var exclusions []models.MatchingExclusion
	for rows.Next() {
		var ex models.MatchingExclusion
		if err := rows.Scan(&ex.Excluded, &ex.CreatedAt, &ex.LastModified); err != nil {
			return nil, fmt.Errorf("scan matching exclusion: %w", err)
		}
		exclusions = append(exclusions, ex)
	}
	return exclusions, rows.Err()
}
