package utils

import "strings"

// BuildKey joins typed key segments with a fixed separator. Call sites build
// keys from explicit identifying fields; there is intentionally no automatic
// key derivation from arbitrary arguments, which would not be injective.
func BuildKey(segments ...string) string {
	return strings.Join(segments, ":")
}
