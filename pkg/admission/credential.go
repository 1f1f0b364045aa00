package admission

import "strings"

// Credential length bounds after the optional Bearer prefix is stripped.
const (
	MinCredentialLen = 16
	MaxCredentialLen = 4096
)

const bearerPrefix = "bearer "

// ValidCredential reports whether cred has the shape of a bearer token.
// It checks shape only; verifying the token is the upstream's job.
func ValidCredential(cred string) bool {
	cred = strings.TrimSpace(cred)
	if len(cred) >= len(bearerPrefix) && strings.EqualFold(cred[:len(bearerPrefix)], bearerPrefix) {
		cred = strings.TrimSpace(cred[len(bearerPrefix):])
	}

	if len(cred) < MinCredentialLen || len(cred) > MaxCredentialLen {
		return false
	}
	for i := 0; i < len(cred); i++ {
		if !isTokenChar(cred[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '.', '_', '~', '+', '/', '=', '-':
		return true
	}
	return false
}
