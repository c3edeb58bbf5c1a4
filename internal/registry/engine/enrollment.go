package engine

import (
	"context"
	"time"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/models"
	"idregistry/pkg/domerrors"
)

// resolvePeriod fills missing bounds with the sentinel full range and checks
// the interval is well formed and inside [MinPeriodDate, MaxPeriodDate].
func resolvePeriod(from, to *time.Time) (time.Time, time.Time, error) {
	start := models.MinPeriodDate
	end := models.MaxPeriodDate
	if from != nil {
		start = from.UTC()
	}
	if to != nil {
		end = to.UTC()
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, domerrors.New(domerrors.CodeInvalidPeriod,
			"start date %s cannot be greater than %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if start.Before(models.MinPeriodDate) || end.After(models.MaxPeriodDate) {
		return time.Time{}, time.Time{}, domerrors.New(domerrors.CodeInvalidPeriod,
			"period out of bounds [%s, %s]",
			models.MinPeriodDate.Format(time.RFC3339), models.MaxPeriodDate.Format(time.RFC3339))
	}
	return start, end, nil
}

// Enroll affiliates a unique identity with an organization over a period.
// Overlapping periods for the same pair are allowed; an exact duplicate
// interval is not.
func (e *Engine) Enroll(ctx context.Context, uuid, organization string, from, to *time.Time) error {
	if err := validateTerm("uuid", uuid); err != nil {
		return err
	}
	if err := validateTerm("organization", organization); err != nil {
		return err
	}
	start, end, err := resolvePeriod(from, to)
	if err != nil {
		return err
	}

	params := map[string]any{
		"uuid":         uuid,
		"organization": organization,
		"from_date":    from,
		"to_date":      to,
	}

	return e.run(ctx, provenance.OpEnroll, params, func(ctx context.Context, rec *recorder) error {
		if _, err := e.store.FindUniqueIdentity(ctx, uuid); err != nil {
			return err
		}
		if _, err := e.store.FindOrganization(ctx, organization); err != nil {
			return err
		}
		enr := models.Enrollment{
			UUID:         uuid,
			Organization: organization,
			Start:        start,
			End:          end,
		}
		if err := e.store.AddEnrollment(ctx, enr); err != nil {
			return err
		}
		rec.record(provenance.EntityEnrollment, provenance.ChangeAdd)
		return nil
	})
}

// Withdraw removes the affiliation of a unique identity with an organization
// over a period. Enrollments fully inside the window are deleted; those
// crossing a boundary are truncated to the remainder; an enrollment that
// strictly contains the window is split into the two bracketing intervals.
func (e *Engine) Withdraw(ctx context.Context, uuid, organization string, from, to *time.Time) error {
	if err := validateTerm("uuid", uuid); err != nil {
		return err
	}
	if err := validateTerm("organization", organization); err != nil {
		return err
	}
	start, end, err := resolvePeriod(from, to)
	if err != nil {
		return err
	}

	params := map[string]any{
		"uuid":         uuid,
		"organization": organization,
		"from_date":    from,
		"to_date":      to,
	}

	return e.run(ctx, provenance.OpWithdraw, params, func(ctx context.Context, rec *recorder) error {
		if _, err := e.store.FindUniqueIdentity(ctx, uuid); err != nil {
			return err
		}
		if _, err := e.store.FindOrganization(ctx, organization); err != nil {
			return err
		}
		affected, err := e.store.SearchEnrollments(ctx, uuid, organization, start, end)
		if err != nil {
			return err
		}
		if len(affected) == 0 {
			return domerrors.New(domerrors.CodeNotFound,
				"enrollment for %s at %s within [%s, %s] not found",
				uuid, organization, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}

		for _, enr := range affected {
			if err := e.store.DeleteEnrollment(ctx, enr); err != nil {
				return err
			}
			rec.record(provenance.EntityEnrollment, provenance.ChangeDelete)

			if enr.Start.Before(start) {
				left := models.Enrollment{UUID: uuid, Organization: organization, Start: enr.Start, End: start}
				if err := e.store.AddEnrollment(ctx, left); err != nil {
					return err
				}
				rec.record(provenance.EntityEnrollment, provenance.ChangeAdd)
			}
			if end.Before(enr.End) {
				right := models.Enrollment{UUID: uuid, Organization: organization, Start: end, End: enr.End}
				if err := e.store.AddEnrollment(ctx, right); err != nil {
					return err
				}
				rec.record(provenance.EntityEnrollment, provenance.ChangeAdd)
			}
		}
		return nil
	})
}
