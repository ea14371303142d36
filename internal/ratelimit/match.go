package ratelimit

// Match is a tagged predicate over one rule dimension: either a specific
// value or a wildcard. The zero value matches nothing; construct via
// MatchAny or MatchExact.
type Match struct {
	set   bool
	any   bool
	value string
}

// MatchAny returns a predicate matching every value.
func MatchAny() Match {
	return Match{set: true, any: true}
}

// MatchExact returns a predicate matching only the given value.
func MatchExact(value string) Match {
	return Match{set: true, value: value}
}

// Matches reports whether the predicate accepts the value.
func (m Match) Matches(value string) bool {
	if !m.set {
		return false
	}
	if m.any {
		return true
	}
	return m.value == value
}

// IsAny reports whether the predicate is a wildcard.
func (m Match) IsAny() bool {
	return m.set && m.any
}

// Value returns the exact value and whether one is set.
func (m Match) Value() (string, bool) {
	if !m.set || m.any {
		return "", false
	}
	return m.value, true
}
