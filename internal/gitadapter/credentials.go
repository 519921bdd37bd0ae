package gitadapter

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fossas/broker/internal/config"
)

// credentials is the materialized, process-local form of an
// config.AuthDescriptor: extra git command-line args/env plus an
// optional key file to clean up afterward (spec.md §4.2, §5).
type credentials struct {
	extraArgs []string          // e.g. "-c", "http.extraHeader=..."
	env       []string          // appended to the git process's environment
	keyFile   string            // non-empty if an SSH key file was written
	scrub     map[string]string // literal secret values to redact from output
}

// materialize turns an AuthDescriptor into credentials usable by a git
// invocation. keyDir is the directory short-lived SSH key files are
// written to (the configured temp directory, per spec.md §4.2).
func materialize(auth config.AuthDescriptor, keyDir string) (*credentials, error) {
	c := &credentials{scrub: map[string]string{}}

	switch auth.Type {
	case config.AuthNone:
		return c, nil

	case config.AuthHTTPBasic:
		token := base64.StdEncoding.EncodeToString(
			[]byte(auth.Username.Reveal() + ":" + auth.Password.Reveal()))
		header := "Authorization: Basic " + token
		c.extraArgs = []string{"-c", "http.extraHeader=" + header}
		c.scrub[token] = "[redacted]"
		return c, nil

	case config.AuthHTTPHeader:
		header := auth.Header.Reveal()
		c.extraArgs = []string{"-c", "http.extraHeader=" + header}
		c.scrub[header] = "[redacted]"
		return c, nil

	case config.AuthSSHKey:
		path, err := writeKeyFile(keyDir, auth.Key.Reveal())
		if err != nil {
			return nil, fmt.Errorf("materialize ssh_key: %w", err)
		}
		c.keyFile = path
		c.env = []string{"GIT_SSH_COMMAND=" + sshCommand(path)}
		return c, nil

	case config.AuthSSHKeyFile:
		c.env = []string{"GIT_SSH_COMMAND=" + sshCommand(auth.Path)}
		return c, nil

	default:
		return nil, fmt.Errorf("unsupported auth type %q", auth.Type)
	}
}

// writeKeyFile writes key to a new owner-read-only file under dir,
// per spec.md §4.2's "SSH key file is written to a path with
// owner-read-only permissions under the configured temp directory".
func writeKeyFile(dir, key string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create key dir: %w", err)
	}
	path := filepath.Join(dir, "broker-key-"+uuid.NewString())
	if err := os.WriteFile(path, []byte(key), 0o400); err != nil {
		return "", fmt.Errorf("write key file: %w", err)
	}
	return path, nil
}

func sshCommand(keyPath string) string {
	return fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new -o BatchMode=yes", keyPath)
}

// cleanup removes any credential material written to disk.
func (c *credentials) cleanup() {
	if c.keyFile != "" {
		_ = os.Remove(c.keyFile)
	}
}

// scrubSecrets is applied to every scrub map built by materialize to
// redact any literal secret value from command output before it is
// classified or surfaced as an error (spec.md §4.2: "the adapter MUST
// scrub secrets from any error text it surfaces upward").
func (c *credentials) scrubSecrets(s string) string {
	for secret, replacement := range c.scrub {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, replacement)
	}
	return s
}
