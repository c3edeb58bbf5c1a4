package engine

import (
	"context"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/models"
)

// AddOrganization registers a new organization.
func (e *Engine) AddOrganization(ctx context.Context, name string) (*models.Organization, error) {
	if err := validateTerm("name", name); err != nil {
		return nil, err
	}

	params := map[string]any{"name": name}

	var org *models.Organization
	err := e.run(ctx, provenance.OpAddOrganization, params, func(ctx context.Context, rec *recorder) error {
		var err error
		org, err = e.store.AddOrganization(ctx, name)
		if err != nil {
			return err
		}
		rec.record(provenance.EntityOrganization, provenance.ChangeAdd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// DeleteOrganization removes an organization together with its domains and
// every enrollment referencing it.
func (e *Engine) DeleteOrganization(ctx context.Context, name string) error {
	if err := validateTerm("name", name); err != nil {
		return err
	}

	params := map[string]any{"name": name}

	return e.run(ctx, provenance.OpDeleteOrganization, params, func(ctx context.Context, rec *recorder) error {
		cascade, err := e.store.DeleteOrganization(ctx, name)
		if err != nil {
			return err
		}
		rec.record(provenance.EntityOrganization, provenance.ChangeDelete)
		if cascade.Domains > 0 {
			rec.record(provenance.EntityDomain, provenance.ChangeDelete)
		}
		if cascade.Enrollments > 0 {
			rec.record(provenance.EntityEnrollment, provenance.ChangeDelete)
		}
		return nil
	})
}

// AddDomain attaches a domain to an existing organization. A domain belongs
// to at most one organization at a time.
func (e *Engine) AddDomain(ctx context.Context, organization, domain string, isTopDomain bool) (*models.Domain, error) {
	if err := validateTerm("organization", organization); err != nil {
		return nil, err
	}
	if err := validateTerm("domain", domain); err != nil {
		return nil, err
	}

	params := map[string]any{
		"organization":  organization,
		"domain":        domain,
		"is_top_domain": isTopDomain,
	}

	var dom *models.Domain
	err := e.run(ctx, provenance.OpAddDomain, params, func(ctx context.Context, rec *recorder) error {
		if _, err := e.store.FindOrganization(ctx, organization); err != nil {
			return err
		}
		var err error
		dom, err = e.store.AddDomain(ctx, organization, domain, isTopDomain)
		if err != nil {
			return err
		}
		rec.record(provenance.EntityDomain, provenance.ChangeAdd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dom, nil
}

// DeleteDomain detaches a domain from its organization.
func (e *Engine) DeleteDomain(ctx context.Context, domain string) error {
	if err := validateTerm("domain", domain); err != nil {
		return err
	}

	params := map[string]any{"domain": domain}

	return e.run(ctx, provenance.OpDeleteDomain, params, func(ctx context.Context, rec *recorder) error {
		if err := e.store.DeleteDomain(ctx, domain); err != nil {
			return err
		}
		rec.record(provenance.EntityDomain, provenance.ChangeDelete)
		return nil
	})
}
