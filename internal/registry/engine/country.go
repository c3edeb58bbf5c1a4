package engine

import (
	"context"

	"idregistry/internal/registry/models"
	"idregistry/pkg/domerrors"
)

// LoadCountries seeds country reference data. Countries are not part of the
// provenance log, so no context is opened; already-known codes are skipped.
func (e *Engine) LoadCountries(ctx context.Context, countries []models.Country) error {
	for _, c := range countries {
		if len(c.Code) != 2 {
			return domerrors.New(domerrors.CodeInvalidValue, "country code %q must be two letters", c.Code)
		}
		if err := validateTerm("name", c.Name); err != nil {
			return err
		}
	}
	return e.store.RunInTx(ctx, func(ctx context.Context) error {
		for _, c := range countries {
			_, err := e.store.FindCountry(ctx, c.Code)
			if err == nil {
				continue
			}
			if !domerrors.Is(err, domerrors.CodeNotFound) {
				return err
			}
			if err := e.store.AddCountry(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
}
