package models

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// IdentityID derives the stable identifier of a raw identity from its
// content. Absent fields are rendered as the literal "none" and the whole
// string is lowercased before hashing, so ids are case-insensitive and
// reproducible across harvesters.
func IdentityID(source string, name, email, username *string) string {
	parts := []string{source, orNone(email), orNone(name), orNone(username)}
	data := strings.ToLower(strings.Join(parts, ":"))
	sum := sha1.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

func orNone(p *string) string {
	if p == nil || *p == "" {
		return "none"
	}
	return *p
}
