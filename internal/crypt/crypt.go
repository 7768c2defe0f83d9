// Package crypt defines the encryptor capability trait §9 Design Notes asks
// for (pluggable, in-place, caller guarantees trailing scratch) and a small
// registry of named instances, ref-counted the way §5 "Encryptors are
// externally provided and ref-counted by name" requires. The algorithm
// itself is pluggable per spec.md §1 Non-goals ("cryptographic algorithm
// choice"); what's fixed here is the shape every Connection talks to.
package crypt

import (
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Encryptor is bound to one connection ("target" in spec §6's naming) at
// NewConnection time. Encrypt/Decrypt operate in place on buf[:length] and
// return the new length; a zero return from Decrypt is a decrypt failure
// (§4.4 step 4). The caller guarantees 4 bytes of trailing scratch in buf's
// backing array for algorithms that need to grow the ciphertext in place.
type Encryptor interface {
	Encrypt(buf []byte, length int) int
	Decrypt(buf []byte, length int) int
	// Void releases any per-connection state (e.g. a derived session key)
	// when the connection tears down.
	Void()
}

// Identity is a pass-through encryptor used by tests and by connections
// that negotiated no encryption.
type Identity struct{}

func (Identity) Encrypt(buf []byte, length int) int { return length }
func (Identity) Decrypt(buf []byte, length int) int { return length }
func (Identity) Void()                              {}

// ChaCha wraps chacha20poly1305, the AEAD awenaw-wireguard-go (a UDP
// datagram transport in the retrieval pack) uses for its own per-packet
// encryption over an unreliable channel. A random nonce is prepended to the
// ciphertext on encrypt and stripped on decrypt; zero-length Decrypt return
// on AEAD failure matches §4.4's "decrypt failure → drop" contract exactly.
type ChaCha struct {
	aead chacha20poly1305.AEAD
}

// NewChaCha derives an AEAD from a 32-byte key (e.g. from a key-exchange
// handled upstream of this package, out of scope per spec.md §1).
func NewChaCha(key [chacha20poly1305.KeySize]byte) (*ChaCha, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypt: init chacha20poly1305: %w", err)
	}
	return &ChaCha{aead: aead}, nil
}

func (c *ChaCha) Encrypt(buf []byte, length int) int {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return 0
	}
	sealed := c.aead.Seal(nil, nonce, buf[:length], nil)
	out := append(nonce, sealed...)
	n := copy(buf[:cap(buf)], out)
	return n
}

func (c *ChaCha) Decrypt(buf []byte, length int) int {
	ns := c.aead.NonceSize()
	if length < ns {
		return 0
	}
	nonce, ct := buf[:ns], buf[ns:length]
	plain, err := c.aead.Open(ct[:0], nonce, ct, nil)
	if err != nil {
		return 0
	}
	n := copy(buf, plain)
	return n
}

func (c *ChaCha) Void() {}

// Registry is the by-name, ref-counted encryptor directory §5 describes.
// Encryption algorithm modules are out of scope (spec.md §1), so Registry
// just holds whatever factories the embedding application installs.
type Registry struct {
	mu    sync.Mutex
	refs  map[string]int
	insts map[string]func() (Encryptor, error)
}

func NewRegistry() *Registry {
	return &Registry{
		refs:  make(map[string]int),
		insts: make(map[string]func() (Encryptor, error)),
	}
}

// Register installs a named encryptor factory (e.g. "vie" or "cont" for the
// two negotiation flows §3 SUPPLEMENTED FEATURES calls out).
func (r *Registry) Register(name string, factory func() (Encryptor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insts[name] = factory
}

// Acquire resolves name to a fresh Encryptor instance and bumps its
// reference count; Release must be called exactly once per Acquire.
func (r *Registry) Acquire(name string) (Encryptor, bool, error) {
	r.mu.Lock()
	factory, ok := r.insts[name]
	r.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	enc, err := factory()
	if err != nil {
		return nil, true, err
	}
	r.mu.Lock()
	r.refs[name]++
	r.mu.Unlock()
	return enc, true, nil
}

func (r *Registry) Release(name string, enc Encryptor) {
	if enc != nil {
		enc.Void()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs[name] > 0 {
		r.refs[name]--
	}
}

// RefCount reports the current outstanding acquisitions for name, exposed
// for tests and diagnostics.
func (r *Registry) RefCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[name]
}
