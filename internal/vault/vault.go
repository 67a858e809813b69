// Package vault stores the simulator session credential obtained at
// login: the agent id, session id, and circuit code that stamp every
// outbound packet. Storage is the OS keychain, with an environment-variable
// fallback for headless machines; ResolveKeyRef also reads file:// refs.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/zalando/go-keyring"
)

const serviceName = "avatarsync"
const credentialAccount = "session"

// SessionCredential is the simulator login session: the agent and session
// ids that must appear on every outbound packet, plus the circuit code
// used to authenticate the UDP circuit (out of this module's scope to
// open, but the code itself still needs to be carried and resolved).
type SessionCredential struct {
	AgentID     uuid.UUID
	SessionID   uuid.UUID
	CircuitCode uint32
}

// Vault provides secure session-credential storage using the OS keychain,
// with fallback to an environment variable. The credential is not read
// from a file.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores the session credential in the OS keychain as JSON.
func (v *Vault) Set(cred SessionCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("vault: marshal session credential: %w", err)
	}
	return keyring.Set(serviceName, credentialAccount, string(data))
}

// Get retrieves the session credential. It first checks the OS keychain,
// then falls back to the environment variable AVATARSYNC_SESSION (expected
// to hold the same JSON shape as Set stores).
func (v *Vault) Get() (SessionCredential, error) {
	secret, err := keyring.Get(serviceName, credentialAccount)
	if err == nil && secret != "" {
		return decodeCredential(secret)
	}

	const envKey = "AVATARSYNC_SESSION"
	if val := os.Getenv(envKey); val != "" {
		return decodeCredential(val)
	}

	return SessionCredential{}, fmt.Errorf("vault: no session credential found: not in keychain and %s not set", envKey)
}

// Delete removes the session credential from the OS keychain.
func (v *Vault) Delete() error {
	return keyring.Delete(serviceName, credentialAccount)
}

func decodeCredential(raw string) (SessionCredential, error) {
	var cred SessionCredential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return SessionCredential{}, fmt.Errorf("vault: decode session credential: %w", err)
	}
	return cred, nil
}

// ResolveKeyRef retrieves a secret named by a URI-style reference, for
// any out-of-keychain secret the daemon resolves at startup. Supported
// schemes: "keyring://avatarsync/<account>", the legacy
// "keychain:avatarsync/<account>", "env:VARIABLE_NAME", and
// "file:///path/to/secret".
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	scheme, rest, found := strings.Cut(keyRef, ":")
	if !found {
		return "", fmt.Errorf("vault: key reference %q has no scheme", keyRef)
	}

	switch scheme {
	case "keyring", "keychain":
		return keyringLookup(keyRef, strings.TrimPrefix(rest, "//"))
	case "env":
		if val := os.Getenv(rest); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("vault: environment variable %q is not set", rest)
	case "file":
		path := strings.TrimPrefix(rest, "//")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("vault: reading key file %q: %w", path, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("vault: key file %q is empty", path)
		}
		return secret, nil
	default:
		return "", fmt.Errorf("vault: key reference %q: unknown scheme %q", keyRef, scheme)
	}
}

// keyringLookup resolves an "<service>/<account>" path against the OS
// keychain, rejecting references for a different service.
func keyringLookup(keyRef, path string) (string, error) {
	service, account, found := strings.Cut(path, "/")
	if !found || service != serviceName || account == "" {
		return "", fmt.Errorf("vault: key reference %q: expected %s/<account>", keyRef, serviceName)
	}
	secret, err := keyring.Get(serviceName, account)
	if err != nil {
		return "", fmt.Errorf("vault: keychain lookup %q: %w", keyRef, err)
	}
	return secret, nil
}
