package common

import "strings"

// ToLowerWithTrim normalizes user-provided identifiers from config files.
func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
