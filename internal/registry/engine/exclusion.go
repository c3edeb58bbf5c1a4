package engine

import (
	"context"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/models"
)

// AddMatchingExclusion adds a term to the matching blacklist. Identities
// whose fields match an excluded term are never candidates for automatic
// unification.
func (e *Engine) AddMatchingExclusion(ctx context.Context, term string) (*models.MatchingExclusion, error) {
	if err := validateTerm("term", term); err != nil {
		return nil, err
	}

	params := map[string]any{"term": term}

	var entry *models.MatchingExclusion
	err := e.run(ctx, provenance.OpAddMatchingExclusion, params, func(ctx context.Context, rec *recorder) error {
		var err error
		entry, err = e.store.AddMatchingExclusion(ctx, term)
		if err != nil {
			return err
		}
		rec.record(provenance.EntityBlacklistEntry, provenance.ChangeAdd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Invalidate(ctx)
	}
	return entry, nil
}

// DeleteMatchingExclusion removes a term from the matching blacklist.
func (e *Engine) DeleteMatchingExclusion(ctx context.Context, term string) error {
	if err := validateTerm("term", term); err != nil {
		return err
	}

	params := map[string]any{"term": term}

	err := e.run(ctx, provenance.OpDeleteMatchingExclusion, params, func(ctx context.Context, rec *recorder) error {
		if err := e.store.DeleteMatchingExclusion(ctx, term); err != nil {
			return err
		}
		rec.record(provenance.EntityBlacklistEntry, provenance.ChangeDelete)
		return nil
	})
	if err != nil {
		return err
	}
	if e.cache != nil {
		e.cache.Invalidate(ctx)
	}
	return nil
}
