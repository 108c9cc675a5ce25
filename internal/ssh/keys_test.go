package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	xssh "golang.org/x/crypto/ssh"
)

// writeTestKey writes a fresh ed25519 key in OpenSSH format and returns its path.
func writeTestKey(t *testing.T, dir string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	block, err := xssh.MarshalPrivateKey(priv, "test")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func TestLoadPrivateKeySigner(t *testing.T) {
	dir := t.TempDir()
	path := writeTestKey(t, dir)
	signer, err := LoadPrivateKeySigner(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if signer.PublicKey().Type() != xssh.KeyAlgoED25519 {
		t.Fatalf("unexpected key type %s", signer.PublicKey().Type())
	}

	if _, err := LoadPrivateKeySigner(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing key")
	}
	garbage := filepath.Join(dir, "garbage")
	if err := os.WriteFile(garbage, []byte("not a key"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPrivateKeySigner(garbage); err == nil {
		t.Fatalf("expected parse error")
	}
}
