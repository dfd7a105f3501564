package relay

import (
	"crypto/subtle"
	"strings"
)

const bearerPrefix = "Bearer "

// Authorize reports whether header carries the configured bearer token.
// An empty token disables auth.
func Authorize(token, header string) bool {
	if token == "" {
		return true
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return false
	}
	got := header[len(bearerPrefix):]
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
