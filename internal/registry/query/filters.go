package query

import (
	"time"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/store"
	"idregistry/pkg/domerrors"
)

// OrganizationFilter narrows organization listings.
type OrganizationFilter struct {
	Name string
}

// UniqueIdentityFilter narrows unique identity listings.
type UniqueIdentityFilter struct {
	UUID string
}

// Filter keys accepted from external callers. Anything else is rejected at
// the boundary.
var (
	organizationFilterKeys = map[string]bool{"name": true}
	uidFilterKeys          = map[string]bool{"uuid": true}
	contextFilterKeys      = map[string]bool{"cuid": true, "operation": true, "from_date": true, "to_date": true}
	transactionFilterKeys  = map[string]bool{"tuid": true, "entity": true, "change": true, "cuid": true, "from_date": true, "to_date": true}
)

func checkKeys(raw map[string]string, allowed map[string]bool) error {
	for key := range raw {
		if !allowed[key] {
			return domerrors.New(domerrors.CodeInvalidFilter, "unsupported filter key %q", key)
		}
	}
	return nil
}

func parseFilterDate(raw map[string]string, key string) (*time.Time, error) {
	value, ok := raw[key]
	if !ok || value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, domerrors.New(domerrors.CodeInvalidFilter, "%q is not a valid RFC 3339 timestamp for %q", value, key)
	}
	return &t, nil
}

// ParseOrganizationFilter validates external filter parameters.
func ParseOrganizationFilter(raw map[string]string) (OrganizationFilter, error) {
	if err := checkKeys(raw, organizationFilterKeys); err != nil {
		return OrganizationFilter{}, err
	}
	return OrganizationFilter{Name: raw["name"]}, nil
}

// ParseUniqueIdentityFilter validates external filter parameters.
func ParseUniqueIdentityFilter(raw map[string]string) (UniqueIdentityFilter, error) {
	if err := checkKeys(raw, uidFilterKeys); err != nil {
		return UniqueIdentityFilter{}, err
	}
	return UniqueIdentityFilter{UUID: raw["uuid"]}, nil
}

// ParseContextFilter validates external filter parameters for context
// listings, rejecting unknown keys, operations and malformed dates.
func ParseContextFilter(raw map[string]string) (store.ContextFilter, error) {
	if err := checkKeys(raw, contextFilterKeys); err != nil {
		return store.ContextFilter{}, err
	}
	filter := store.ContextFilter{CUID: raw["cuid"]}
	if value := raw["operation"]; value != "" {
		op, err := provenance.ParseOperation(value)
		if err != nil {
			return store.ContextFilter{}, domerrors.Wrap(err, domerrors.CodeInvalidFilter, "invalid operation filter")
		}
		filter.Operation = op
	}
	var err error
	if filter.From, err = parseFilterDate(raw, "from_date"); err != nil {
		return store.ContextFilter{}, err
	}
	if filter.To, err = parseFilterDate(raw, "to_date"); err != nil {
		return store.ContextFilter{}, err
	}
	return filter, nil
}

// ParseTransactionFilter validates external filter parameters for
// transaction listings.
func ParseTransactionFilter(raw map[string]string) (store.TransactionFilter, error) {
	if err := checkKeys(raw, transactionFilterKeys); err != nil {
		return store.TransactionFilter{}, err
	}
	filter := store.TransactionFilter{TUID: raw["tuid"], ContextID: raw["cuid"]}
	if value := raw["entity"]; value != "" {
		entity, err := provenance.ParseEntityKind(value)
		if err != nil {
			return store.TransactionFilter{}, domerrors.Wrap(err, domerrors.CodeInvalidFilter, "invalid entity filter")
		}
		filter.Entity = entity
	}
	if value := raw["change"]; value != "" {
		change := provenance.ChangeKind(value)
		if !change.Valid() {
			return store.TransactionFilter{}, domerrors.New(domerrors.CodeInvalidFilter, "invalid change kind %q", value)
		}
		filter.Change = change
	}
	var err error
	if filter.From, err = parseFilterDate(raw, "from_date"); err != nil {
		return store.TransactionFilter{}, err
	}
	if filter.To, err = parseFilterDate(raw, "to_date"); err != nil {
		return store.TransactionFilter{}, err
	}
	return filter, nil
}
