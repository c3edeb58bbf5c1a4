// Package memory holds the in-memory Store implementation. It favors clarity
// over performance and is the backend unit tests run against; transactional
// rollback is implemented by snapshotting state before each unit of work.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/models"
	"idregistry/internal/registry/store"
	"idregistry/pkg/domerrors"
)

// Store keeps every entity in maps guarded by a single mutex. RunInTx
// serializes mutating units of work, so interleaved operations observe only
// committed state.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	now func() time.Time

	orgs       map[string]models.Organization
	domains    map[string]models.Domain
	countries  map[string]models.Country
	uids       map[string]models.UniqueIdentity
	profiles   map[string]models.Profile
	identities map[string]models.Identity
	rolls      []models.Enrollment
	exclusions map[string]models.MatchingExclusion

	contexts map[string]provenance.Context
	txns     []provenance.Transaction
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		now:        func() time.Time { return time.Now().UTC() },
		orgs:       make(map[string]models.Organization),
		domains:    make(map[string]models.Domain),
		countries:  make(map[string]models.Country),
		uids:       make(map[string]models.UniqueIdentity),
		profiles:   make(map[string]models.Profile),
		identities: make(map[string]models.Identity),
		exclusions: make(map[string]models.MatchingExclusion),
		contexts:   make(map[string]provenance.Context),
	}
}

// SetClock overrides the store clock. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// RunInTx serializes the unit of work and restores the pre-transaction state
// when fn fails, so a failed operation leaves no partial mutation behind.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return domerrors.Wrap(err, domerrors.CodeConflict, "transaction aborted")
	}

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	orgs       map[string]models.Organization
	domains    map[string]models.Domain
	countries  map[string]models.Country
	uids       map[string]models.UniqueIdentity
	profiles   map[string]models.Profile
	identities map[string]models.Identity
	rolls      []models.Enrollment
	exclusions map[string]models.MatchingExclusion
	contexts   map[string]provenance.Context
	txns       []provenance.Transaction
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		orgs:       copyMap(s.orgs),
		domains:    copyMap(s.domains),
		countries:  copyMap(s.countries),
		uids:       copyMap(s.uids),
		profiles:   copyMap(s.profiles),
		identities: copyMap(s.identities),
		rolls:      append([]models.Enrollment(nil), s.rolls...),
		exclusions: copyMap(s.exclusions),
		contexts:   copyMap(s.contexts),
		txns:       append([]provenance.Transaction(nil), s.txns...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs = snap.orgs
	s.domains = snap.domains
	s.countries = snap.countries
	s.uids = snap.uids
	s.profiles = snap.profiles
	s.identities = snap.identities
	s.rolls = snap.rolls
	s.exclusions = snap.exclusions
	s.contexts = snap.contexts
	s.txns = snap.txns
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ----------------------------------------------------------------------------
// Organizations and domains
// ----------------------------------------------------------------------------

func (s *Store) AddOrganization(_ context.Context, name string) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[name]; ok {
		return nil, domerrors.New(domerrors.CodeDuplicate, "organization %q already exists", name)
	}
	now := s.now()
	org := models.Organization{Name: name, CreatedAt: now, LastModified: now}
	s.orgs[name] = org
	return &org, nil
}

func (s *Store) FindOrganization(_ context.Context, name string) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[name]
	if !ok {
		return nil, domerrors.New(domerrors.CodeNotFound, "organization %q not found", name)
	}
	org.Domains = s.domainsOf(name)
	return &org, nil
}

func (s *Store) domainsOf(org string) []models.Domain {
	var out []models.Domain
	for _, d := range s.domains {
		if d.Organization == org {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

func (s *Store) DeleteOrganization(_ context.Context, name string) (store.Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[name]; !ok {
		return store.Cascade{}, domerrors.New(domerrors.CodeNotFound, "organization %q not found", name)
	}

	var cascade store.Cascade
	for domain, d := range s.domains {
		if d.Organization == name {
			delete(s.domains, domain)
			cascade.Domains++
		}
	}
	kept := s.rolls[:0]
	for _, r := range s.rolls {
		if r.Organization == name {
			cascade.Enrollments++
			continue
		}
		kept = append(kept, r)
	}
	s.rolls = kept
	delete(s.orgs, name)
	return cascade, nil
}

func (s *Store) ListOrganizations(_ context.Context, nameEq string, offset, limit int) ([]models.Organization, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.Organization
	for _, org := range s.orgs {
		if nameEq != "" && org.Name != nameEq {
			continue
		}
		org.Domains = s.domainsOf(org.Name)
		all = append(all, org)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, offset, limit), len(all), nil
}

func (s *Store) AddDomain(_ context.Context, organization, domain string, isTopDomain bool) (*models.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[organization]; !ok {
		return nil, domerrors.New(domerrors.CodeNotFound, "organization %q not found", organization)
	}
	if _, ok := s.domains[domain]; ok {
		return nil, domerrors.New(domerrors.CodeDuplicate, "domain %q already exists", domain)
	}
	now := s.now()
	d := models.Domain{Domain: domain, IsTopDomain: isTopDomain, Organization: organization, CreatedAt: now, LastModified: now}
	s.domains[domain] = d
	return &d, nil
}

func (s *Store) FindDomain(_ context.Context, domain string) (*models.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[domain]
	if !ok {
		return nil, domerrors.New(domerrors.CodeNotFound, "domain %q not found", domain)
	}
	return &d, nil
}

func (s *Store) DeleteDomain(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[domain]; !ok {
		return domerrors.New(domerrors.CodeNotFound, "domain %q not found", domain)
	}
	delete(s.domains, domain)
	return nil
}

// ----------------------------------------------------------------------------
// Countries
// ----------------------------------------------------------------------------

func (s *Store) AddCountry(_ context.Context, country models.Country) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.countries[country.Code]; ok {
		return domerrors.New(domerrors.CodeDuplicate, "country %q already exists", country.Code)
	}
	s.countries[country.Code] = country
	return nil
}

func (s *Store) FindCountry(_ context.Context, code string) (*models.Country, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	country, ok := s.countries[code]
	if !ok {
		return nil, domerrors.New(domerrors.CodeNotFound, "country %q not found", code)
	}
	return &country, nil
}

func (s *Store) ListCountries(_ context.Context) ([]models.Country, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	countries := make([]models.Country, 0, len(s.countries))
	for _, c := range s.countries {
		countries = append(countries, c)
	}
	sort.Slice(countries, func(i, j int) bool { return countries[i].Code < countries[j].Code })
	return countries, nil
}

// ----------------------------------------------------------------------------
// Unique identities, raw identities, profiles
// ----------------------------------------------------------------------------

func (s *Store) AddUniqueIdentity(_ context.Context, uuid string) (*models.UniqueIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uids[uuid]; ok {
		return nil, domerrors.New(domerrors.CodeDuplicate, "unique identity %q already exists", uuid)
	}
	now := s.now()
	uid := models.UniqueIdentity{UUID: uuid, CreatedAt: now, LastModified: now}
	s.uids[uuid] = uid
	s.profiles[uuid] = models.Profile{UUID: uuid, CreatedAt: now, LastModified: now}

	return s.assembleLocked(uuid), nil
}

// assembleLocked builds the aggregate view of a unique identity. Caller holds mu.
func (s *Store) assembleLocked(uuid string) *models.UniqueIdentity {
	uid := s.uids[uuid]
	if profile, ok := s.profiles[uuid]; ok {
		uid.Profile = &profile
	}
	for _, identity := range s.identities {
		if identity.UUID == uuid {
			uid.Identities = append(uid.Identities, identity)
		}
	}
	sort.Slice(uid.Identities, func(i, j int) bool { return uid.Identities[i].ID < uid.Identities[j].ID })
	for _, r := range s.rolls {
		if r.UUID == uuid {
			uid.Enrollments = append(uid.Enrollments, r)
		}
	}
	sortEnrollments(uid.Enrollments)
	return &uid
}

func (s *Store) FindUniqueIdentity(_ context.Context, uuid string) (*models.UniqueIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uids[uuid]; !ok {
		return nil, domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", uuid)
	}
	return s.assembleLocked(uuid), nil
}

func (s *Store) DeleteUniqueIdentity(_ context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uids[uuid]; !ok {
		return domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", uuid)
	}
	delete(s.uids, uuid)
	delete(s.profiles, uuid)
	for id, identity := range s.identities {
		if identity.UUID == uuid {
			delete(s.identities, id)
		}
	}
	kept := s.rolls[:0]
	for _, r := range s.rolls {
		if r.UUID != uuid {
			kept = append(kept, r)
		}
	}
	s.rolls = kept
	return nil
}

func (s *Store) ListUniqueIdentities(_ context.Context, uuidEq string, offset, limit int) ([]models.UniqueIdentity, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.UniqueIdentity
	for uuid := range s.uids {
		if uuidEq != "" && uuid != uuidEq {
			continue
		}
		all = append(all, *s.assembleLocked(uuid))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UUID < all[j].UUID })
	return page(all, offset, limit), len(all), nil
}

func (s *Store) AddIdentity(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uids[identity.UUID]; !ok {
		return domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", identity.UUID)
	}
	if _, ok := s.identities[identity.ID]; ok {
		return domerrors.New(domerrors.CodeDuplicate, "identity %q already exists", identity.ID)
	}
	for _, existing := range s.identities {
		if sameTuple(&existing, identity) {
			return domerrors.New(domerrors.CodeDuplicate, "identity %q already exists", tupleString(identity))
		}
	}
	now := s.now()
	stored := *identity
	stored.CreatedAt = now
	stored.LastModified = now
	s.identities[identity.ID] = stored
	s.touchUniqueIdentityLocked(identity.UUID)
	return nil
}

func sameTuple(a, b *models.Identity) bool {
	return a.Source == b.Source &&
		models.StringValue(a.Name) == models.StringValue(b.Name) &&
		models.StringValue(a.Email) == models.StringValue(b.Email) &&
		models.StringValue(a.Username) == models.StringValue(b.Username)
}

func tupleString(identity *models.Identity) string {
	return strings.Join([]string{
		models.StringValue(identity.Name),
		models.StringValue(identity.Email),
		models.StringValue(identity.Username),
		identity.Source,
	}, "-")
}

func (s *Store) FindIdentity(_ context.Context, id string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, domerrors.New(domerrors.CodeNotFound, "identity %q not found", id)
	}
	return &identity, nil
}

func (s *Store) DeleteIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return domerrors.New(domerrors.CodeNotFound, "identity %q not found", id)
	}
	delete(s.identities, id)
	s.touchUniqueIdentityLocked(identity.UUID)
	return nil
}

func (s *Store) MoveIdentity(_ context.Context, id, toUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return domerrors.New(domerrors.CodeNotFound, "identity %q not found", id)
	}
	if _, ok := s.uids[toUUID]; !ok {
		return domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", toUUID)
	}
	from := identity.UUID
	identity.UUID = toUUID
	identity.LastModified = s.now()
	s.identities[id] = identity
	s.touchUniqueIdentityLocked(from)
	s.touchUniqueIdentityLocked(toUUID)
	return nil
}

func (s *Store) touchUniqueIdentityLocked(uuid string) {
	if uid, ok := s.uids[uuid]; ok {
		uid.LastModified = s.now()
		s.uids[uuid] = uid
	}
}

func (s *Store) SaveProfile(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uids[profile.UUID]; !ok {
		return domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", profile.UUID)
	}
	stored := *profile
	stored.LastModified = s.now()
	if existing, ok := s.profiles[profile.UUID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	s.profiles[profile.UUID] = stored
	s.touchUniqueIdentityLocked(profile.UUID)
	return nil
}

// ----------------------------------------------------------------------------
// Enrollments
// ----------------------------------------------------------------------------

func (s *Store) AddEnrollment(_ context.Context, enrollment models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uids[enrollment.UUID]; !ok {
		return domerrors.New(domerrors.CodeNotFound, "unique identity %q not found", enrollment.UUID)
	}
	if _, ok := s.orgs[enrollment.Organization]; !ok {
		return domerrors.New(domerrors.CodeNotFound, "organization %q not found", enrollment.Organization)
	}
	for _, r := range s.rolls {
		if r.UUID == enrollment.UUID && r.Organization == enrollment.Organization &&
			r.Start.Equal(enrollment.Start) && r.End.Equal(enrollment.End) {
			return domerrors.New(domerrors.CodeDuplicate,
				"enrollment %s-%s-%s-%s already exists",
				enrollment.UUID, enrollment.Organization, enrollment.Start, enrollment.End)
		}
	}
	now := s.now()
	enrollment.CreatedAt = now
	enrollment.LastModified = now
	s.rolls = append(s.rolls, enrollment)
	s.touchUniqueIdentityLocked(enrollment.UUID)
	return nil
}

func (s *Store) DeleteEnrollment(_ context.Context, enrollment models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rolls {
		if r.UUID == enrollment.UUID && r.Organization == enrollment.Organization &&
			r.Start.Equal(enrollment.Start) && r.End.Equal(enrollment.End) {
			s.rolls = append(s.rolls[:i], s.rolls[i+1:]...)
			s.touchUniqueIdentityLocked(enrollment.UUID)
			return nil
		}
	}
	return domerrors.New(domerrors.CodeNotFound,
		"enrollment %s-%s-%s-%s not found",
		enrollment.UUID, enrollment.Organization, enrollment.Start, enrollment.End)
}

func (s *Store) SearchEnrollments(_ context.Context, uuid, organization string, from, to time.Time) ([]models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Enrollment
	for _, r := range s.rolls {
		if r.UUID != uuid || r.Organization != organization {
			continue
		}
		if !r.Start.After(to) && !r.End.Before(from) {
			out = append(out, r)
		}
	}
	sortEnrollments(out)
	return out, nil
}

func sortEnrollments(rolls []models.Enrollment) {
	sort.Slice(rolls, func(i, j int) bool {
		if !rolls[i].Start.Equal(rolls[j].Start) {
			return rolls[i].Start.Before(rolls[j].Start)
		}
		return rolls[i].End.Before(rolls[j].End)
	})
}

// ----------------------------------------------------------------------------
// Matching exclusion list
// ----------------------------------------------------------------------------

func (s *Store) AddMatchingExclusion(_ context.Context, value string) (*models.MatchingExclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exclusions[value]; ok {
		return nil, domerrors.New(domerrors.CodeDuplicate, "%q already exists in the exclusion list", value)
	}
	now := s.now()
	exclusion := models.MatchingExclusion{Excluded: value, CreatedAt: now, LastModified: now}
	s.exclusions[value] = exclusion
	return &exclusion, nil
}

func (s *Store) DeleteMatchingExclusion(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exclusions[value]; !ok {
		return domerrors.New(domerrors.CodeNotFound, "%q not found in the exclusion list", value)
	}
	delete(s.exclusions, value)
	return nil
}

func (s *Store) HasMatchingExclusion(_ context.Context, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.exclusions[value]
	return ok, nil
}

func (s *Store) ListMatchingExclusions(_ context.Context) ([]models.MatchingExclusion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.MatchingExclusion, 0, len(s.exclusions))
	for _, exclusion := range s.exclusions {
		out = append(out, exclusion)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Excluded < out[j].Excluded })
	return out, nil
}

// ----------------------------------------------------------------------------
// Provenance log
// ----------------------------------------------------------------------------

func (s *Store) AddContext(_ context.Context, opCtx *provenance.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts[opCtx.CUID]; ok {
		return domerrors.New(domerrors.CodeDuplicate, "context %q already exists", opCtx.CUID)
	}
	s.contexts[opCtx.CUID] = *opCtx
	return nil
}

func (s *Store) FindContext(_ context.Context, cuid string) (*provenance.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opCtx, ok := s.contexts[cuid]
	if !ok {
		return nil, domerrors.New(domerrors.CodeNotFound, "context %q not found", cuid)
	}
	return &opCtx, nil
}

// DeleteContext prunes the logical grouping but keeps its transactions,
// nulling their back-reference.
func (s *Store) DeleteContext(_ context.Context, cuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts[cuid]; !ok {
		return domerrors.New(domerrors.CodeNotFound, "context %q not found", cuid)
	}
	delete(s.contexts, cuid)
	for i := range s.txns {
		if s.txns[i].ContextID != nil && *s.txns[i].ContextID == cuid {
			s.txns[i].ContextID = nil
		}
	}
	return nil
}

func (s *Store) ListContexts(_ context.Context, filter store.ContextFilter, offset, limit int) ([]provenance.Context, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []provenance.Context
	for _, opCtx := range s.contexts {
		if filter.CUID != "" && opCtx.CUID != filter.CUID {
			continue
		}
		if filter.Operation != "" && opCtx.Operation != filter.Operation {
			continue
		}
		if filter.From != nil && opCtx.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && opCtx.Timestamp.After(*filter.To) {
			continue
		}
		all = append(all, opCtx)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].CUID < all[j].CUID
	})
	return page(all, offset, limit), len(all), nil
}

func (s *Store) AddTransaction(_ context.Context, txn *provenance.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.txns {
		if existing.TUID == txn.TUID {
			return domerrors.New(domerrors.CodeDuplicate, "transaction %q already exists", txn.TUID)
		}
	}
	stored := *txn
	stored.Args = append([]byte(nil), txn.Args...)
	s.txns = append(s.txns, stored)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, filter store.TransactionFilter, offset, limit int) ([]provenance.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []provenance.Transaction
	for _, txn := range s.txns {
		if filter.TUID != "" && txn.TUID != filter.TUID {
			continue
		}
		if filter.Entity != "" && txn.Entity != filter.Entity {
			continue
		}
		if filter.Change != "" && txn.Change != filter.Change {
			continue
		}
		if filter.ContextID != "" && (txn.ContextID == nil || *txn.ContextID != filter.ContextID) {
			continue
		}
		if filter.From != nil && txn.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && txn.Timestamp.After(*filter.To) {
			continue
		}
		all = append(all, txn)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].TUID < all[j].TUID
	})
	return page(all, offset, limit), len(all), nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]T(nil), all[offset:end]...)
}
