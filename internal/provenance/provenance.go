// Package provenance models the audit trail of the registry: every mutation
// runs under a Context (one logical operation) and leaves one Transaction per
// kind of entity it changed. The trail is append-only and queryable.
package provenance

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"idregistry/pkg/domerrors"
)

// Operation names the logical operation a Context groups. The set is closed;
// unknown values are rejected at the boundary.
type Operation string

const (
	OpAddIdentity             Operation = "add_identity"
	OpDeleteIdentity          Operation = "delete_identity"
	OpUpdateProfile           Operation = "update_profile"
	OpMoveIdentity            Operation = "move_identity"
	OpAddOrganization         Operation = "add_organization"
	OpDeleteOrganization      Operation = "delete_organization"
	OpAddDomain               Operation = "add_domain"
	OpDeleteDomain            Operation = "delete_domain"
	OpEnroll                  Operation = "enroll"
	OpWithdraw                Operation = "withdraw"
	OpMergeIdentities         Operation = "merge_identities"
	OpAddMatchingExclusion    Operation = "add_matching_blacklist"
	OpDeleteMatchingExclusion Operation = "delete_matching_blacklist"
)

var operations = map[Operation]bool{
	OpAddIdentity:             true,
	OpDeleteIdentity:          true,
	OpUpdateProfile:           true,
	OpMoveIdentity:            true,
	OpAddOrganization:         true,
	OpDeleteOrganization:      true,
	OpAddDomain:               true,
	OpDeleteDomain:            true,
	OpEnroll:                  true,
	OpWithdraw:                true,
	OpMergeIdentities:         true,
	OpAddMatchingExclusion:    true,
	OpDeleteMatchingExclusion: true,
}

// Valid reports whether o is a member of the closed operation set.
func (o Operation) Valid() bool { return operations[o] }

// ParseOperation validates an externally supplied operation name.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", domerrors.New(domerrors.CodeInvalidValue, "unknown operation %q", s)
	}
	return op, nil
}

// ChangeKind is the kind of entity-level change a Transaction records.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeDelete ChangeKind = "delete"
	ChangeUpdate ChangeKind = "update"
)

// Valid reports whether k is a known change kind.
func (k ChangeKind) Valid() bool {
	return k == ChangeAdd || k == ChangeDelete || k == ChangeUpdate
}

// EntityKind identifies which entity a Transaction touched.
type EntityKind string

const (
	EntityUniqueIdentity EntityKind = "unique_identity"
	EntityIdentity       EntityKind = "identity"
	EntityOrganization   EntityKind = "organization"
	EntityDomain         EntityKind = "domain"
	EntityEnrollment     EntityKind = "enrollment"
	EntityProfile        EntityKind = "profile"
	EntityBlacklistEntry EntityKind = "blacklist_entry"
)

var entityKinds = map[EntityKind]bool{
	EntityUniqueIdentity: true,
	EntityIdentity:       true,
	EntityOrganization:   true,
	EntityDomain:         true,
	EntityEnrollment:     true,
	EntityProfile:        true,
	EntityBlacklistEntry: true,
}

// Valid reports whether e is a known entity kind.
func (e EntityKind) Valid() bool { return entityKinds[e] }

// ParseEntityKind validates an externally supplied entity kind.
func ParseEntityKind(s string) (EntityKind, error) {
	kind := EntityKind(s)
	if !kind.Valid() {
		return "", domerrors.New(domerrors.CodeInvalidValue, "unknown entity kind %q", s)
	}
	return kind, nil
}

// Context is a named, timestamped logical operation. Its timestamp is the
// logical commit time shared by all of its Transactions.
type Context struct {
	CUID      string    `json:"cuid"`
	Operation Operation `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// Transaction records one entity-level change caused by a Context. The
// context back-reference is nullable: pruning a Context orphans its
// Transactions without deleting them.
type Transaction struct {
	TUID      string          `json:"tuid"`
	Change    ChangeKind      `json:"change"`
	Entity    EntityKind      `json:"entity"`
	ContextID *string         `json:"context,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Args      json.RawMessage `json:"args,omitempty"` // serialized argument snapshot, see EncodeArgs
}

// NewCUID returns a fresh context identifier.
func NewCUID() string { return uuid.NewString() }

// NewTUID returns a fresh transaction identifier.
func NewTUID() string { return uuid.NewString() }
