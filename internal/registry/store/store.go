// Package store defines the persistence contract of the registry. Stores are
// interface-driven so the engine and query layer run unchanged against the
// in-memory implementation in tests and PostgreSQL in production.
package store

import (
	"context"
	"time"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/models"
)

// Runner executes fn as one atomic unit. Implementations either commit every
// mutation fn performed or none of them. Store-level conflicts are surfaced
// as retryable domerrors.CodeConflict failures.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Cascade reports what a cascading delete removed besides the entity itself.
type Cascade struct {
	Domains     int
	Enrollments int
}

// ProfileUpdate is a partial profile mutation; nil fields are left untouched.
type ProfileUpdate struct {
	Name        *string
	Email       *string
	Gender      *string
	GenderAcc   *int
	IsBot       *bool
	CountryCode *string
}

// EntityStore is CRUD plus constrained mutation over the registry entities.
// Uniqueness and referential integrity are enforced here; multi-entity
// orchestration (merge, withdraw splitting) lives in the engine.
type EntityStore interface {
	// Organizations and domains.
	AddOrganization(ctx context.Context, name string) (*models.Organization, error)
	FindOrganization(ctx context.Context, name string) (*models.Organization, error)
	DeleteOrganization(ctx context.Context, name string) (Cascade, error)
	ListOrganizations(ctx context.Context, nameEq string, offset, limit int) ([]models.Organization, int, error)
	AddDomain(ctx context.Context, organization, domain string, isTopDomain bool) (*models.Domain, error)
	FindDomain(ctx context.Context, domain string) (*models.Domain, error)
	DeleteDomain(ctx context.Context, domain string) error

	// Countries are reference data; no provenance is recorded for them.
	AddCountry(ctx context.Context, country models.Country) error
	FindCountry(ctx context.Context, code string) (*models.Country, error)
	ListCountries(ctx context.Context) ([]models.Country, error)

	// Unique identities and their raw identities. AddUniqueIdentity creates
	// the empty profile; DeleteUniqueIdentity cascades to profile, raw
	// identities and enrollments.
	AddUniqueIdentity(ctx context.Context, uuid string) (*models.UniqueIdentity, error)
	FindUniqueIdentity(ctx context.Context, uuid string) (*models.UniqueIdentity, error)
	DeleteUniqueIdentity(ctx context.Context, uuid string) error
	ListUniqueIdentities(ctx context.Context, uuidEq string, offset, limit int) ([]models.UniqueIdentity, int, error)

	AddIdentity(ctx context.Context, identity *models.Identity) error
	FindIdentity(ctx context.Context, id string) (*models.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	MoveIdentity(ctx context.Context, id, toUUID string) error

	SaveProfile(ctx context.Context, profile *models.Profile) error

	// Enrollments. AddEnrollment rejects an exact duplicate interval;
	// overlapping intervals are legal. SearchEnrollments returns the
	// enrollments of (uuid, organization) intersecting [from, to],
	// boundaries inclusive, ordered by start then end.
	AddEnrollment(ctx context.Context, enrollment models.Enrollment) error
	DeleteEnrollment(ctx context.Context, enrollment models.Enrollment) error
	SearchEnrollments(ctx context.Context, uuid, organization string, from, to time.Time) ([]models.Enrollment, error)

	// Matching exclusion list.
	AddMatchingExclusion(ctx context.Context, value string) (*models.MatchingExclusion, error)
	DeleteMatchingExclusion(ctx context.Context, value string) error
	HasMatchingExclusion(ctx context.Context, value string) (bool, error)
	ListMatchingExclusions(ctx context.Context) ([]models.MatchingExclusion, error)
}

// ContextFilter narrows provenance context listings. Zero values mean "any".
type ContextFilter struct {
	CUID      string
	Operation provenance.Operation
	From      *time.Time
	To        *time.Time
}

// TransactionFilter narrows transaction listings. Zero values mean "any".
type TransactionFilter struct {
	TUID      string
	Entity    provenance.EntityKind
	Change    provenance.ChangeKind
	ContextID string
	From      *time.Time
	To        *time.Time
}

// ProvenanceStore is the append-only audit log. Deleting a context nulls the
// back-reference on its transactions instead of cascading.
type ProvenanceStore interface {
	AddContext(ctx context.Context, opCtx *provenance.Context) error
	FindContext(ctx context.Context, cuid string) (*provenance.Context, error)
	DeleteContext(ctx context.Context, cuid string) error
	ListContexts(ctx context.Context, filter ContextFilter, offset, limit int) ([]provenance.Context, int, error)

	AddTransaction(ctx context.Context, txn *provenance.Transaction) error
	ListTransactions(ctx context.Context, filter TransactionFilter, offset, limit int) ([]provenance.Transaction, int, error)
}

// Store is the full persistence surface an engine operates on.
type Store interface {
	Runner
	EntityStore
	ProvenanceStore
}
