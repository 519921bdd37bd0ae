package gitadapter

import (
	"fmt"
	"strings"
)

// AuthError indicates the remote rejected our credentials (401/403 or an
// equivalent permission denial), spec.md §4.2.
type AuthError struct {
	Remote string
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("git auth error for %s: %s", e.Remote, e.Detail)
}

// TransportError indicates a network/DNS failure reaching the remote.
type TransportError struct {
	Remote string
	Detail string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("git transport error for %s: %s", e.Remote, e.Detail)
}

// ProtocolError indicates git produced output this adapter could not parse.
type ProtocolError struct {
	Remote string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("git protocol error for %s: %s", e.Remote, e.Detail)
}

// classifyError inspects git's stderr/stdout, scrubbed of any secret via
// creds, to pick an error kind, per spec.md §4.2's contract for list_refs
// and §7's error table.
func classifyError(creds *credentials, remote string, output []byte, err error) error {
	text := creds.scrubSecrets(string(output))
	switch {
	case containsAny(text, "Authentication failed", "401", "403", "Permission denied", "could not read Username", "could not read Password"):
		return &AuthError{Remote: remote, Detail: text}
	case containsAny(text, "Could not resolve host", "Connection timed out", "Connection refused", "Network is unreachable", "unable to access"):
		return &TransportError{Remote: remote, Detail: text}
	default:
		return fmt.Errorf("git command failed: %w: %s", err, text)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
