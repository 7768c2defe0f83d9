package crypt

import (
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
)

func TestIdentityIsPassthrough(t *testing.T) {
	var id Identity
	buf := []byte("hello")
	if n := id.Encrypt(buf, len(buf)); n != len(buf) {
		t.Errorf("expected Encrypt to return length unchanged, got %d", n)
	}
	if n := id.Decrypt(buf, len(buf)); n != len(buf) {
		t.Errorf("expected Decrypt to return length unchanged, got %d", n)
	}
}

func TestChaChaRoundTrip(t *testing.T) {
	var key [chacha20poly1305.KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := NewChaCha(key)
	if err != nil {
		t.Fatalf("NewChaCha failed: %v", err)
	}
	dec, err := NewChaCha(key)
	if err != nil {
		t.Fatalf("NewChaCha failed: %v", err)
	}

	plain := []byte("a secret zone packet")
	overhead := chacha20poly1305.NonceSize + chacha20poly1305.Overhead
	buf := make([]byte, len(plain), len(plain)+overhead)
	copy(buf, plain)

	n := enc.Encrypt(buf, len(plain))
	if n <= len(plain) {
		t.Fatalf("expected ciphertext to grow past plaintext length, got %d", n)
	}
	sealed := buf[:n]

	m := dec.Decrypt(sealed, len(sealed))
	if m != len(plain) {
		t.Fatalf("expected decrypted length %d, got %d", len(plain), m)
	}
	if string(sealed[:m]) != string(plain) {
		t.Errorf("expected round-tripped plaintext %q, got %q", plain, sealed[:m])
	}
}

func TestChaChaDecryptFailureReturnsZero(t *testing.T) {
	var key [chacha20poly1305.KeySize]byte
	dec, err := NewChaCha(key)
	if err != nil {
		t.Fatalf("NewChaCha failed: %v", err)
	}
	garbage := make([]byte, 40)
	if n := dec.Decrypt(garbage, len(garbage)); n != 0 {
		t.Errorf("expected 0 on decrypt failure, got %d", n)
	}
}

func TestRegistryAcquireReleaseRefCounts(t *testing.T) {
	r := NewRegistry()
	r.Register("none", func() (Encryptor, error) { return Identity{}, nil })

	if _, ok, err := r.Acquire("missing"); ok || err != nil {
		t.Fatalf("expected unregistered name to report ok=false err=nil, got ok=%v err=%v", ok, err)
	}

	enc, ok, err := r.Acquire("none")
	if !ok || err != nil {
		t.Fatalf("expected successful acquire, got ok=%v err=%v", ok, err)
	}
	if r.RefCount("none") != 1 {
		t.Errorf("expected refcount 1 after one acquire, got %d", r.RefCount("none"))
	}

	enc2, _, _ := r.Acquire("none")
	if r.RefCount("none") != 2 {
		t.Errorf("expected refcount 2 after two acquires, got %d", r.RefCount("none"))
	}

	r.Release("none", enc)
	if r.RefCount("none") != 1 {
		t.Errorf("expected refcount 1 after one release, got %d", r.RefCount("none"))
	}
	r.Release("none", enc2)
	if r.RefCount("none") != 0 {
		t.Errorf("expected refcount 0 after releasing both, got %d", r.RefCount("none"))
	}
	// Releasing past zero must not underflow.
	r.Release("none", Identity{})
	if r.RefCount("none") != 0 {
		t.Errorf("expected refcount to stay at 0, got %d", r.RefCount("none"))
	}
}
