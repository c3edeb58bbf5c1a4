package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"idregistry/internal/registry/models"
	"idregistry/pkg/domerrors"
)

func (s *Store) AddEnrollment(ctx context.Context, enrollment models.Enrollment) error {
	now := time.Now().UTC()
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO enrollments (uuid, organization, start_date, end_date, created_at, last_modified)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		enrollment.UUID, enrollment.Organization, enrollment.Start, enrollment.End, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domerrors.New(domerrors.CodeDuplicate,
				"enrollment %s-%s-%s-%s already exists",
				enrollment.UUID, enrollment.Organization, enrollment.Start, enrollment.End)
		}
		if isForeignKeyViolation(err) {
			return domerrors.New(domerrors.CodeNotFound,
				"unique identity %q or organization %q not found",
				enrollment.UUID, enrollment.Organization)
		}
		return fmt.Errorf("add enrollment: %w", err)
	}
	return s.touchUniqueIdentity(ctx, enrollment.UUID, now)
}

func (s *Store) DeleteEnrollment(ctx context.Context, enrollment models.Enrollment) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM enrollments
		 WHERE uuid = $1 AND organization = $2 AND start_date = $3 AND end_date = $4`,
		enrollment.UUID, enrollment.Organization, enrollment.Start, enrollment.End)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if affected == 0 {
		return domerrors.New(domerrors.CodeNotFound,
			"enrollment %s-%s-%s-%s not found",
			enrollment.UUID, enrollment.Organization, enrollment.Start, enrollment.End)
	}
	return nil
}

func (s *Store) SearchEnrollments(ctx context.Context, uuid, organization string, from, to time.Time) ([]models.Enrollment, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT uuid, organization, start_date, end_date, created_at, last_modified
		 FROM enrollments
		 WHERE uuid = $1 AND organization = $2 AND start_date <= $4 AND end_date >= $3
		 ORDER BY start_date, end_date`,
		uuid, organization, from, to)
	if err != nil {
		return nil, fmt.Errorf("search enrollments: %w", err)
	}
	defer rows.Close()

	return scanEnrollments(rows)
}

func (s *Store) enrollmentsOf(ctx context.Context, uuid string) ([]models.Enrollment, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT uuid, organization, start_date, end_date, created_at, last_modified
		 FROM enrollments WHERE uuid = $1 ORDER BY start_date, end_date`,
		uuid)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	return scanEnrollments(rows)
}

func scanEnrollments(rows *sql.Rows) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	for rows.Next() {
		var e models.Enrollment
		if err := rows.Scan(&e.UUID, &e.Organization, &e.Start, &e.End, &e.CreatedAt, &e.LastModified); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}
