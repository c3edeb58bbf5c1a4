package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"idregistry/internal/registry/models"
	"idregistry/internal/registry/store"
	"idregistry/pkg/domerrors"
)

func (s *Store) AddOrganization(ctx context.Context, name string) (*models.Organization, error) {
	now := time.Now().UTC()
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO organizations (name, created_at, last_modified) VALUES ($1, $2, $2)`,
		name, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domerrors.New(domerrors.CodeDuplicate, "organization %q already exists", name)
		}
		return nil, fmt.Errorf("add organization: %w", err)
	}
	return &models.Organization{Name: name, CreatedAt: now, LastModified: now}, nil
}

func (s *Store) FindOrganization(ctx context.Context, name string) (*models.Organization, error) {
	var org models.Organization
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT name, created_at, last_modified FROM organizations WHERE name = $1`,
		name).Scan(&org.Name, &org.CreatedAt, &org.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domerrors.New(domerrors.CodeNotFound, "organization %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("find organization: %w", err)
	}
	domains, err := s.domainsOf(ctx, name)
	if err != nil {
		return nil, err
	}
	org.Domains = domains
	return &org, nil
}

func (s *Store) domainsOf(ctx context.Context, organization string) ([]models.Domain, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT domain, is_top_domain, organization, created_at, last_modified
		 FROM domains WHERE organization = $1 ORDER BY domain`,
		organization)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var domains []models.Domain
	for rows.Next() {
		var d models.Domain
		if err := rows.Scan(&d.Domain, &d.IsTopDomain, &d.Organization, &d.CreatedAt, &d.LastModified); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *Store) DeleteOrganization(ctx context.Context, name string) (store.Cascade, error) {
	var cascade store.Cascade
	q := s.q(ctx)

	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM domains WHERE organization = $1`, name).Scan(&cascade.Domains)
	if err != nil {
		return store.Cascade{}, fmt.Errorf("count domains: %w", err)
	}
	err = q.QueryRowContext(ctx,
		`SELECT count(*) FROM enrollments WHERE organization = $1`, name).Scan(&cascade.Enrollments)
	if err != nil {
		return store.Cascade{}, fmt.Errorf("count enrollments: %w", err)
	}

	res, err := q.ExecContext(ctx, `DELETE FROM organizations WHERE name = $1`, name)
	if err != nil {
		return store.Cascade{}, fmt.Errorf("delete organization: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Cascade{}, fmt.Errorf("delete organization: %w", err)
	}
	if affected == 0 {
		return store.Cascade{}, domerrors.New(domerrors.CodeNotFound, "organization %q not found", name)
	}
	return cascade, nil
}

func (s *Store) ListOrganizations(ctx context.Context, nameEq string, offset, limit int) ([]models.Organization, int, error) {
	q := s.q(ctx)

	var total int
	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM organizations WHERE ($1 = '' OR name = $1)`,
		nameEq).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count organizations: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT name, created_at, last_modified FROM organizations
		 WHERE ($1 = '' OR name = $1) ORDER BY name OFFSET $2 LIMIT $3`,
		nameEq, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.Name, &org.CreatedAt, &org.LastModified); err != nil {
			return nil, 0, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range orgs {
		domains, err := s.domainsOf(ctx, orgs[i].Name)
		if err != nil {
			return nil, 0, err
		}
		orgs[i].Domains = domains
	}
	return orgs, total, nil
}

func (s *Store) AddDomain(ctx context.Context, organization, domain string, isTopDomain bool) (*models.Domain, error) {
	now := time.Now().UTC()
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO domains (domain, is_top_domain, organization, created_at, last_modified)
		 VALUES ($1, $2, $3, $4, $4)`,
		domain, isTopDomain, organization, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domerrors.New(domerrors.CodeDuplicate, "domain %q already exists", domain)
		}
		if isForeignKeyViolation(err) {
			return nil, domerrors.New(domerrors.CodeNotFound, "organization %q not found", organization)
		}
		return nil, fmt.Errorf("add domain: %w", err)
	}
	return &models.Domain{
		Domain: domain, IsTopDomain: isTopDomain, Organization: organization,
		CreatedAt: now, LastModified: now,
	}, nil
}

func (s *Store) FindDomain(ctx context.Context, domain string) (*models.Domain, error) {
	var d models.Domain
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT domain, is_top_domain, organization, created_at, last_modified
		 FROM domains WHERE domain = $1`,
		domain).Scan(&d.Domain, &d.IsTopDomain, &d.Organization, &d.CreatedAt, &d.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domerrors.New(domerrors.CodeNotFound, "domain %q not found", domain)
	}
	if err != nil {
		return nil, fmt.Errorf("find domain: %w", err)
	}
	return &d, nil
}

func (s *Store) DeleteDomain(ctx context.Context, domain string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM domains WHERE domain = $1`, domain)
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	if affected == 0 {
		return domerrors.New(domerrors.CodeNotFound, "domain %q not found", domain)
	}
	return nil
}

func (s *Store) AddCountry(ctx context.Context, country models.Country) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO countries (code, name, alpha3) VALUES ($1, $2, $3)`,
		country.Code, country.Name, country.Alpha3)
	if err != nil {
		if isUniqueViolation(err) {
			return domerrors.New(domerrors.CodeDuplicate, "country %q already exists", country.Code)
		}
		return fmt.Errorf("add country: %w", err)
	}
	return nil
}

func (s *Store) FindCountry(ctx context.Context, code string) (*models.Country, error) {
	var c models.Country
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT code, name, alpha3 FROM countries WHERE code = $1`,
		code).Scan(&c.Code, &c.Name, &c.Alpha3)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domerrors.New(domerrors.CodeNotFound, "country %q not found", code)
	}
	if err != nil {
		return nil, fmt.Errorf("find country: %w", err)
	}
	return &c, nil
}

func (s *Store) ListCountries(ctx context.Context) ([]models.Country, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT code, name, alpha3 FROM countries ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list countries: %w", err)
	}
	defer rows.Close()

	var countries []models.Country
	for rows.Next() {
		var c models.Country
		if err := rows.Scan(&c.Code, &c.Name, &c.Alpha3); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		countries = append(countries, c)
	}
	return countries, rows.Err()
}
