package config

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthType discriminates the AuthDescriptor variants of spec.md §6.3.
type AuthType string

const (
	AuthNone         AuthType = "none"
	AuthHTTPBasic    AuthType = "http_basic"
	AuthHTTPHeader   AuthType = "http_header"
	AuthSSHKey       AuthType = "ssh_key"
	AuthSSHKeyFile   AuthType = "ssh_key_file"
)

// Transport names the transport a "none" auth descriptor applies to.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportSSH  Transport = "ssh"
)

// AuthDescriptor is the tagged union described in spec.md §6.3/§6.4.
// Exactly one of the variant-specific fields is populated, selected by Type.
type AuthDescriptor struct {
	Type AuthType

	// AuthNone
	Transport Transport

	// AuthHTTPBasic
	Username Secret
	Password Secret

	// AuthHTTPHeader
	Header Secret

	// AuthSSHKey
	Key Secret

	// AuthSSHKeyFile
	Path string
}

// UnmarshalYAML implements yaml.Unmarshaler, dispatching on the "type" key.
// It re-decodes value through a KnownFields(true) decoder rather than
// value.Decode directly, so that an unknown key under "auth:" is a fatal
// error at every nesting level, per spec.md §6.3, matching the strict
// mode the top-level config.Load decoder already applies.
func (a *AuthDescriptor) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Type      string `yaml:"type"`
		Transport string `yaml:"transport"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		Header    string `yaml:"header"`
		Key       string `yaml:"key"`
		Path      string `yaml:"path"`
	}

	encoded, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(encoded))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	a.Type = AuthType(raw.Type)
	switch a.Type {
	case AuthNone:
		a.Transport = Transport(raw.Transport)
		if a.Transport != TransportHTTP && a.Transport != TransportSSH {
			return fmt.Errorf("auth type none requires transport: http or ssh, got %q", raw.Transport)
		}
	case AuthHTTPBasic:
		a.Username = NewSecret(raw.Username)
		a.Password = NewSecret(raw.Password)
		if raw.Username == "" || raw.Password == "" {
			return fmt.Errorf("auth type http_basic requires username and password")
		}
	case AuthHTTPHeader:
		a.Header = NewSecret(raw.Header)
		if raw.Header == "" {
			return fmt.Errorf("auth type http_header requires header")
		}
	case AuthSSHKey:
		a.Key = NewSecret(raw.Key)
		if raw.Key == "" {
			return fmt.Errorf("auth type ssh_key requires key")
		}
	case AuthSSHKeyFile:
		a.Path = raw.Path
		if a.Path == "" {
			return fmt.Errorf("auth type ssh_key_file requires path")
		}
	default:
		return fmt.Errorf("unknown auth type %q", raw.Type)
	}
	return nil
}

// ValidateForRemote checks that the auth variant is permitted for the
// remote's URL scheme, per spec.md §6.3 ("URL scheme constrains
// permissible variants").
func (a AuthDescriptor) ValidateForRemote(remote string) error {
	isSSH := strings.HasPrefix(remote, "ssh://") || strings.Contains(remote, "@") && strings.Contains(remote, ":") && !strings.Contains(remote, "://")
	isHTTP := strings.HasPrefix(remote, "http://") || strings.HasPrefix(remote, "https://")

	switch a.Type {
	case AuthSSHKey, AuthSSHKeyFile:
		if !isSSH {
			return fmt.Errorf("auth type %s requires an ssh remote, got %q", a.Type, remote)
		}
	case AuthHTTPBasic, AuthHTTPHeader:
		if !isHTTP {
			return fmt.Errorf("auth type %s requires an http(s) remote, got %q", a.Type, remote)
		}
	case AuthNone:
		if a.Transport == TransportHTTP && !isHTTP {
			return fmt.Errorf("auth none/http requires an http(s) remote, got %q", remote)
		}
		if a.Transport == TransportSSH && !isSSH {
			return fmt.Errorf("auth none/ssh requires an ssh remote, got %q", remote)
		}
	}
	return nil
}
