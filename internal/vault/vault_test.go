package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestGet_EnvFallback(t *testing.T) {
	v := New()

	cred := SessionCredential{AgentID: uuid.New(), SessionID: uuid.New(), CircuitCode: 12345}
	data, err := json.Marshal(cred)
	if err != nil {
		t.Fatalf("marshal fixture credential: %v", err)
	}
	t.Setenv("AVATARSYNC_SESSION", string(data))

	got, err := v.Get()
	if err != nil {
		t.Fatalf("Get with env fallback: %v", err)
	}
	if got.AgentID != cred.AgentID || got.SessionID != cred.SessionID || got.CircuitCode != cred.CircuitCode {
		t.Errorf("got %+v, want %+v", got, cred)
	}
}

func TestGet_NoCredentialFound(t *testing.T) {
	v := New()

	os.Unsetenv("AVATARSYNC_SESSION")

	if _, err := v.Get(); err == nil {
		t.Fatal("expected error when no session credential found")
	}
}

func TestResolveKeyRef_EnvFormat(t *testing.T) {
	v := New()

	const envVar = "TEST_AVATARSYNC_VAULT_KEY"
	const expected = "circuit-code-secret"

	t.Setenv(envVar, expected)

	got, err := v.ResolveKeyRef("env:" + envVar)
	if err != nil {
		t.Fatalf("ResolveKeyRef(env:): %v", err)
	}
	if got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
}

func TestResolveKeyRef_EnvFormat_Unset(t *testing.T) {
	v := New()

	os.Unsetenv("NONEXISTENT_KEY_VAR")

	_, err := v.ResolveKeyRef("env:NONEXISTENT_KEY_VAR")
	if err == nil {
		t.Fatal("expected error for unset env var")
	}
}

func TestResolveKeyRef_InvalidFormat(t *testing.T) {
	v := New()

	_, err := v.ResolveKeyRef("plaintext:secret")
	if err == nil {
		t.Fatal("expected error for invalid key ref format")
	}
}

func TestResolveKeyRef_KeyringBadFormat(t *testing.T) {
	v := New()

	_, err := v.ResolveKeyRef("keyring://badformat")
	if err == nil {
		t.Fatal("expected error for malformed keyring ref")
	}
}

func TestResolveKeyRef_KeyringWrongService(t *testing.T) {
	v := New()

	_, err := v.ResolveKeyRef("keyring://other-service/session")
	if err == nil {
		t.Fatal("expected error for wrong service name")
	}
}

func TestResolveKeyRef_KeychainBadFormat(t *testing.T) {
	v := New()

	_, err := v.ResolveKeyRef("keychain:badformat")
	if err == nil {
		t.Fatal("expected error for malformed keychain ref")
	}
}

func TestResolveKeyRef_EmptyAccount(t *testing.T) {
	v := New()

	_, err := v.ResolveKeyRef("keyring://avatarsync/")
	if err == nil {
		t.Fatal("expected error for empty account in keyring ref")
	}
}

func TestResolveKeyRef_FileFormat(t *testing.T) {
	v := New()

	dir := t.TempDir()
	keyFile := filepath.Join(dir, "circuit-code.txt")
	if err := os.WriteFile(keyFile, []byte("987654\n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	got, err := v.ResolveKeyRef("file://" + keyFile)
	if err != nil {
		t.Fatalf("ResolveKeyRef(file://): %v", err)
	}
	if got != "987654" {
		t.Errorf("got %q, want %q", got, "987654")
	}
}

func TestResolveKeyRef_FileFormat_NotFound(t *testing.T) {
	v := New()

	_, err := v.ResolveKeyRef("file:///nonexistent/path/secret.txt")
	if err == nil {
		t.Fatal("expected error for missing key file")
	}
}

func TestResolveKeyRef_FileFormat_Empty(t *testing.T) {
	v := New()

	dir := t.TempDir()
	keyFile := filepath.Join(dir, "empty-secret.txt")
	if err := os.WriteFile(keyFile, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	_, err := v.ResolveKeyRef("file://" + keyFile)
	if err == nil {
		t.Fatal("expected error for empty key file")
	}
}
