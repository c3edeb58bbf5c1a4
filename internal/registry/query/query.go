// Package query is the read side of the registry: paginated, filtered
// listings over organizations, unique identities and the provenance log.
package query

import (
	"context"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/models"
	"idregistry/internal/registry/store"
	"idregistry/pkg/domerrors"
)

// Config carries the pagination defaults; there is no ambient global state.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Service serves read queries against the store.
type Service struct {
	store store.Store
	cfg   Config
}

// New builds the query service. Zero config fields fall back to sane
// defaults.
func New(st store.Store, cfg Config) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 10
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	return &Service{store: st, cfg: cfg}
}

// Page is one page of a filtered result set. Indexes are 1-based; EndIndex
// is inclusive, matching what a paging UI displays.
type Page[T any] struct {
	Items        []T  `json:"items"`
	Page         int  `json:"page"`
	PageSize     int  `json:"page_size"`
	NumPages     int  `json:"num_pages"`
	TotalResults int  `json:"total_results"`
	StartIndex   int  `json:"start_index"`
	EndIndex     int  `json:"end_index"`
	HasNext      bool `json:"has_next"`
	HasPrev      bool `json:"has_prev"`
}

func (s *Service) resolvePaging(page, pageSize int) (int, int, error) {
	if pageSize == 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return 0, 0, domerrors.New(domerrors.CodeInvalidFilter, "page must be a positive integer, got %d", page)
	}
	if pageSize < 1 || pageSize > s.cfg.MaxPageSize {
		return 0, 0, domerrors.New(domerrors.CodeInvalidFilter, "page_size must be in range [1,%d], got %d", s.cfg.MaxPageSize, pageSize)
	}
	return page, pageSize, nil
}

func buildPage[T any](items []T, page, pageSize, total int) Page[T] {
	numPages := (total + pageSize - 1) / pageSize
	start := 0
	end := 0
	if len(items) > 0 {
		start = (page-1)*pageSize + 1
		end = start + len(items) - 1
	}
	return Page[T]{
		Items:        items,
		Page:         page,
		PageSize:     pageSize,
		NumPages:     numPages,
		TotalResults: total,
		StartIndex:   start,
		EndIndex:     end,
		HasNext:      page < numPages,
		HasPrev:      page > 1,
	}
}

// Organizations lists organizations, optionally narrowed to an exact name.
func (s *Service) Organizations(ctx context.Context, filter OrganizationFilter, page, pageSize int) (Page[models.Organization], error) {
	page, pageSize, err := s.resolvePaging(page, pageSize)
	if err != nil {
		return Page[models.Organization]{}, err
	}
	items, total, err := s.store.ListOrganizations(ctx, filter.Name, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page[models.Organization]{}, err
	}
	return buildPage(items, page, pageSize, total), nil
}

// UniqueIdentities lists canonical identity clusters with their full
// aggregates, optionally narrowed to an exact uuid.
func (s *Service) UniqueIdentities(ctx context.Context, filter UniqueIdentityFilter, page, pageSize int) (Page[models.UniqueIdentity], error) {
	page, pageSize, err := s.resolvePaging(page, pageSize)
	if err != nil {
		return Page[models.UniqueIdentity]{}, err
	}
	items, total, err := s.store.ListUniqueIdentities(ctx, filter.UUID, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page[models.UniqueIdentity]{}, err
	}
	return buildPage(items, page, pageSize, total), nil
}

// UniqueIdentity fetches one cluster by uuid.
func (s *Service) UniqueIdentity(ctx context.Context, uuid string) (*models.UniqueIdentity, error) {
	return s.store.FindUniqueIdentity(ctx, uuid)
}

// Organization fetches one organization with its domains.
func (s *Service) Organization(ctx context.Context, name string) (*models.Organization, error) {
	return s.store.FindOrganization(ctx, name)
}

// Countries lists the country reference data.
func (s *Service) Countries(ctx context.Context) ([]models.Country, error) {
	return s.store.ListCountries(ctx)
}

// MatchingExclusions lists the full blacklist; it is expected to stay small.
func (s *Service) MatchingExclusions(ctx context.Context) ([]models.MatchingExclusion, error) {
	return s.store.ListMatchingExclusions(ctx)
}

// Contexts lists provenance contexts matching the filter.
func (s *Service) Contexts(ctx context.Context, filter store.ContextFilter, page, pageSize int) (Page[provenance.Context], error) {
	page, pageSize, err := s.resolvePaging(page, pageSize)
	if err != nil {
		return Page[provenance.Context]{}, err
	}
	items, total, err := s.store.ListContexts(ctx, filter, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page[provenance.Context]{}, err
	}
	return buildPage(items, page, pageSize, total), nil
}

// Transactions lists provenance transactions matching the filter.
func (s *Service) Transactions(ctx context.Context, filter store.TransactionFilter, page, pageSize int) (Page[provenance.Transaction], error) {
	page, pageSize, err := s.resolvePaging(page, pageSize)
	if err != nil {
		return Page[provenance.Transaction]{}, err
	}
	items, total, err := s.store.ListTransactions(ctx, filter, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page[provenance.Transaction]{}, err
	}
	return buildPage(items, page, pageSize, total), nil
}
