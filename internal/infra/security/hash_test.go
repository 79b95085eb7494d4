package security

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T) *Argon2Hasher {
	t.Helper()
	h, err := NewArgon2Hasher(testArgon2Config())
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return h
}

func TestHashAndVerifySuccess(t *testing.T) {
	h := newTestHasher(t)
	ctx := context.Background()
	password := "Passw0rd"

	encoded, err := h.Hash(ctx, password)
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if encoded == "" || encoded == password {
		t.Fatalf("Hash returned unusable digest %q", encoded)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		t.Fatalf("unexpected hash format: %q", encoded)
	}
	if parts[0] != argon2Variant || parts[1] != argon2Version {
		t.Fatalf("unexpected prefix: %s$%s", parts[0], parts[1])
	}
	if parts[2] != "m=8192,t=1,p=1" {
		t.Fatalf("encoded hash does not reflect configured parameters: %s", parts[2])
	}

	ok, err := h.Verify(ctx, password, encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Fatal("Verify returned false for correct password")
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := newTestHasher(t)
	a, _ := h.Hash(context.Background(), "Passw0rd")
	b, _ := h.Hash(context.Background(), "Passw0rd")
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestVerifyIncorrectPassword(t *testing.T) {
	h := newTestHasher(t)
	encoded, err := h.Hash(context.Background(), "Passw0rd")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	ok, err := h.Verify(context.Background(), "wrong", encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("Verify returned true for incorrect password")
	}
}

func TestVerifyInvalidFormat(t *testing.T) {
	h := newTestHasher(t)
	if _, err := h.Verify(context.Background(), "password", "invalid-format"); err == nil {
		t.Fatal("Verify expected to return error for invalid format")
	}
}

func TestVerifyEmptyInputs(t *testing.T) {
	h := newTestHasher(t)
	ok, err := h.Verify(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Verify returned error for empty inputs: %v", err)
	}
	if ok {
		t.Fatal("Verify should return false for empty inputs")
	}
}

func TestVerifyBcryptDigest(t *testing.T) {
	h := newTestHasher(t)
	legacy, err := bcrypt.GenerateFromPassword([]byte("Passw0rd"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := h.Verify(context.Background(), "Passw0rd", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected bcrypt digest to verify, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify(context.Background(), "wrong", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch, ok=%v err=%v", ok, err)
	}
	if !h.NeedsRehash(string(legacy)) {
		t.Fatal("bcrypt digests must be flagged for rehash")
	}
}

func TestNeedsRehashOnParameterChange(t *testing.T) {
	h := newTestHasher(t)
	encoded, _ := h.Hash(context.Background(), "Passw0rd")
	if h.NeedsRehash(encoded) {
		t.Fatal("fresh digest must not need rehash")
	}

	stronger := testArgon2Config()
	stronger.Iterations = 2
	h2, err := NewArgon2Hasher(stronger)
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	if !h2.NeedsRehash(encoded) {
		t.Fatal("digest with older parameters must need rehash")
	}
	ok, err := h2.Verify(context.Background(), "Passw0rd", encoded)
	if err != nil || !ok {
		t.Fatalf("older digest must still verify, ok=%v err=%v", ok, err)
	}
}

func TestNewArgon2HasherRejectsWeakConfig(t *testing.T) {
	cfg := testArgon2Config()
	cfg.Memory = 1024
	if _, err := NewArgon2Hasher(cfg); err == nil {
		t.Fatal("expected error for low memory configuration")
	}
}
