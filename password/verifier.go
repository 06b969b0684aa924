package password

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Algorithm names a supported hash family.
type Algorithm string

const (
	AlgArgon2id Algorithm = "argon2id"
	AlgBcrypt   Algorithm = "bcrypt"
)

// Hasher is implemented by [Argon2] and [Bcrypt].
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
}

// Identify reports which algorithm produced encoded, or "" when none does.
func Identify(encoded string) Algorithm {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return AlgArgon2id
	case isBcrypt(encoded):
		return AlgBcrypt
	default:
		return ""
	}
}

// Options configures a [Verifier].
type Options struct {
	Algorithm  Algorithm
	Argon2     Config
	BcryptCost int
}

// Verifier hashes new passwords with the primary algorithm and verifies
// stored hashes of either family.
type Verifier struct {
	primary   Algorithm
	hashers   map[Algorithm]Hasher
	dummyHash string
}

// NewVerifier builds both hashers and precomputes the hash used by
// [Verifier.VerifyDummy].
func NewVerifier(opts Options) (*Verifier, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = AlgArgon2id
	}

	a, err := NewArgon2(opts.Argon2)
	if err != nil {
		return nil, err
	}
	b, err := NewBcrypt(opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	v := &Verifier{
		primary: opts.Algorithm,
		hashers: map[Algorithm]Hasher{AlgArgon2id: a, AlgBcrypt: b},
	}
	if _, ok := v.hashers[v.primary]; !ok {
		return nil, fmt.Errorf("password: unsupported algorithm %q", opts.Algorithm)
	}

	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("password: dummy seed: %w", err)
	}
	if v.dummyHash, err = v.Hash(hex.EncodeToString(seed)); err != nil {
		return nil, err
	}
	return v, nil
}

// Primary returns the algorithm used for new hashes.
func (v *Verifier) Primary() Algorithm { return v.primary }

func (v *Verifier) Hash(password string) (string, error) {
	return v.hashers[v.primary].Hash(password)
}

// Verify dispatches on the hash prefix. Comparison is constant-time in both
// families.
func (v *Verifier) Verify(password, encoded string) (bool, error) {
	h, ok := v.hashers[Identify(encoded)]
	if !ok {
		return false, ErrUnknownFormat
	}
	return h.Verify(password, encoded)
}

// VerifyDummy spends the same work as a real verification and always fails.
// Call it when the identity does not exist so lookup misses cost as much as
// password mismatches.
func (v *Verifier) VerifyDummy(password string) {
	_, _ = v.hashers[v.primary].Verify(password, v.dummyHash)
}

// NeedsRehash is true when encoded belongs to a different family than the
// primary one, or was produced with weaker parameters.
func (v *Verifier) NeedsRehash(encoded string) bool {
	alg := Identify(encoded)
	if alg != v.primary {
		return true
	}
	return v.hashers[alg].NeedsRehash(encoded)
}
