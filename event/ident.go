package event

import "regexp"

// identRE matches safe SQL identifiers: alphanumeric/underscore with a
// non-digit first character. Channel and table names must match it before
// they get anywhere near a query.
var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether s is usable as a channel or table identifier.
func ValidIdent(s string) bool {
	return identRE.MatchString(s)
}
