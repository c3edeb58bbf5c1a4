// Package models defines the entities of the identity registry: canonical
// identities and their raw records, profiles, organizations, time-bounded
// enrollments, and the matching exclusion list.
package models

import "time"

// Period sentinel bounds. An enrollment with these values is open-ended on
// that side; any persisted representation must preserve them exactly.
var (
	MinPeriodDate = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxPeriodDate = time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Column limits kept for interoperability with stores that index identifiers
// under a 191-character cap (utf8mb4 InnoDB indexes).
const (
	MaxCharIndex  = 191
	MaxCharField  = 128
	MaxCharSource = 32
)

// Organization groups domains and enrollments under a unique name.
type Organization struct {
	Name         string    `json:"name"`
	Domains      []Domain  `json:"domains,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// Domain belongs to exactly one organization.
type Domain struct {
	Domain       string    `json:"domain"`
	IsTopDomain  bool      `json:"is_top_domain"`
	Organization string    `json:"organization"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// Country is reference data for profiles.
type Country struct {
	Code   string `json:"code"` // two-letter code, primary key
	Name   string `json:"name"`
	Alpha3 string `json:"alpha3"`
}

// UniqueIdentity is the canonical cluster representing one real person. Its
// uuid never changes once assigned, even across merges.
type UniqueIdentity struct {
	UUID         string       `json:"uuid"`
	Profile      *Profile     `json:"profile,omitempty"`
	Identities   []Identity   `json:"identities,omitempty"`
	Enrollments  []Enrollment `json:"enrollments,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastModified time.Time    `json:"last_modified"`
}

// Identity is a single raw record observed in one data source. The
// (name, email, username, source) tuple is unique across the registry.
type Identity struct {
	ID           string    `json:"id"` // content hash of source and identity data
	Name         *string   `json:"name,omitempty"`
	Email        *string   `json:"email,omitempty"`
	Username     *string   `json:"username,omitempty"`
	Source       string    `json:"source"`
	UUID         string    `json:"uuid"` // owning unique identity
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// Profile is the curated, human-maintained view of a unique identity. It
// lives exactly as long as its owner.
type Profile struct {
	UUID         string    `json:"uuid"`
	Name         *string   `json:"name,omitempty"`
	Email        *string   `json:"email,omitempty"`
	Gender       *string   `json:"gender,omitempty"`
	GenderAcc    *int      `json:"gender_acc,omitempty"` // confidence, 0-100
	IsBot        bool      `json:"is_bot"`
	CountryCode  *string   `json:"country_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// Enrollment is a time interval of affiliation between a unique identity and
// an organization. Overlapping intervals for the same pair are allowed;
// identical intervals are not.
type Enrollment struct {
	UUID         string    `json:"uuid"`
	Organization string    `json:"organization"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// MatchingExclusion is a name, email or username value permanently excluded
// from automatic duplicate-matching suggestions.
type MatchingExclusion struct {
	Excluded     string    `json:"excluded"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// StringPtr returns a pointer to s, or nil when s is empty. Raw identity
// fields and profile fields treat the empty string as absent.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
