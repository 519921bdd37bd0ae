package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMinimalValid(t *testing.T) {
	path := writeConfig(t, `
version: 1
fossa_endpoint: https://app.fossa.com
fossa_integration_key: shh
debugging:
  location: /tmp/broker-debug
integrations:
  - type: git
    remote: https://example.com/r.git
    poll_interval: 1h
    auth:
      type: none
      transport: http
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 7, cfg.Debugging.Retention.Days)
	require.Len(t, cfg.Integrations, 1)
	assert.Equal(t, time.Hour, time.Duration(cfg.Integrations[0].PollInterval))
	assert.True(t, cfg.Integrations[0].ImportBranchesOrDefault())
	assert.False(t, cfg.Integrations[0].ImportTagsOrDefault())
	assert.NotEmpty(t, cfg.Integrations[0].ID)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
version: 1
fossa_endpoint: https://app.fossa.com
fossa_integration_key: shh
debugging:
  location: /tmp/broker-debug
bogus_key: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsShortPollInterval(t *testing.T) {
	path := writeConfig(t, `
version: 1
fossa_endpoint: https://app.fossa.com
fossa_integration_key: shh
debugging:
  location: /tmp/broker-debug
integrations:
  - type: git
    remote: https://example.com/r.git
    poll_interval: 5m
    auth: { type: none, transport: http }
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "poll_interval")
}

func TestLoadRejectsWatchedBranchesWithBranchesDisabled(t *testing.T) {
	path := writeConfig(t, `
version: 1
fossa_endpoint: https://app.fossa.com
fossa_integration_key: shh
debugging:
  location: /tmp/broker-debug
integrations:
  - type: git
    remote: https://example.com/r.git
    poll_interval: 1h
    import_branches: false
    watched_branches: ["release*"]
    auth: { type: none, transport: http }
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "watched_branches")
}

func TestLoadRejectsUnknownKeyUnderAuth(t *testing.T) {
	path := writeConfig(t, `
version: 1
fossa_endpoint: https://app.fossa.com
fossa_integration_key: shh
debugging:
  location: /tmp/broker-debug
integrations:
  - type: git
    remote: https://example.com/r.git
    poll_interval: 1h
    auth: { type: none, transport: http, bogus_key: true }
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsAuthSchemeMismatch(t *testing.T) {
	path := writeConfig(t, `
version: 1
fossa_endpoint: https://app.fossa.com
fossa_integration_key: shh
debugging:
  location: /tmp/broker-debug
integrations:
  - type: git
    remote: https://example.com/r.git
    poll_interval: 1h
    auth: { type: ssh_key, key: "ssh-secret" }
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "ssh")
}

func TestParseDurationGrammar(t *testing.T) {
	cases := map[string]time.Duration{
		"1h":     time.Hour,
		"90m":    90 * time.Minute,
		"1h30m":  90 * time.Minute,
		"2d":     48 * time.Hour,
		"3600":   time.Hour,
		"1w":     7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestSecretStringRedacts(t *testing.T) {
	s := NewSecret("super-secret")
	assert.Equal(t, "[redacted]", s.String())
	assert.Equal(t, "super-secret", s.Reveal())
}
