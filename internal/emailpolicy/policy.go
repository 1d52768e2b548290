// Package emailpolicy decides which email addresses may hold an account.
package emailpolicy

import "strings"

// DefaultDomain is the College of Idaho student mail suffix.
const DefaultDomain = "@yotes.collegeofidaho.edu"

// Policy admits email addresses that end with a fixed domain suffix.
// It is a suffix match, not an address validator.
type Policy struct {
	domain string
}

// New returns a Policy for the given suffix. A missing leading "@" is added
// and an empty suffix falls back to DefaultDomain.
func New(domain string) Policy {
	normalized := Normalize(domain)
	if normalized == "" {
		normalized = DefaultDomain
	}
	if !strings.HasPrefix(normalized, "@") {
		normalized = "@" + normalized
	}
	return Policy{domain: normalized}
}

// Normalize trims surrounding whitespace and lower-cases the address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsAllowed reports whether the normalized email ends with the policy domain.
func (p Policy) IsAllowed(email string) bool {
	domain := p.domain
	if domain == "" {
		domain = DefaultDomain
	}
	return strings.HasSuffix(Normalize(email), domain)
}

// Domain returns the configured suffix.
func (p Policy) Domain() string {
	if p.domain == "" {
		return DefaultDomain
	}
	return p.domain
}
