// Package credential hashes and verifies user passwords.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/atinyakov/ozon/internal/registry"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher turns a plain secret into a stored hash and checks a secret
// against one. Verify returns false with a nil error on mismatch.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) (bool, error)
}

// ErrMalformedHash is returned by Verify when hash is not in the hasher's format.
var ErrMalformedHash = errors.New("malformed password hash")

// Names of the built-in hashers.
const (
	Argon2ID = "argon2id"
	Bcrypt   = "bcrypt"
)

// NewRegistry returns a registry holding the built-in hashers.
func NewRegistry() *registry.Registry[Hasher] {
	r := registry.New[Hasher]("password hasher")
	r.MustRegister(Argon2ID, func() (Hasher, error) { return NewArgon2(), nil })
	r.MustRegister(Bcrypt, func() (Hasher, error) { return NewBcrypt(bcrypt.DefaultCost), nil })
	return r
}

var _ Hasher = (*Argon2)(nil)

// Argon2 hashes with argon2id and encodes the result in the PHC string
// format: $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>.
type Argon2 struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func NewArgon2() *Argon2 {
	return &Argon2{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (a *Argon2) Hash(plain string) (string, error) {
	salt := make([]byte, a.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plain), salt, a.Iterations, a.Memory, a.Parallelism, a.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, a.Memory, a.Iterations, a.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func (a *Argon2) Verify(plain, hash string) (bool, error) {
	params, salt, key, err := decodeArgon2(hash)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(plain), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, computed) == 1, nil
}

func decodeArgon2(hash string) (*Argon2, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, nil, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, nil, fmt.Errorf("%w: version %q", ErrMalformedHash, parts[2])
	}
	p := &Argon2{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: parameters: %v", ErrMalformedHash, err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return p, salt, key, nil
}

var _ Hasher = (*BcryptHasher)(nil)

type BcryptHasher struct {
	Cost int
}

func NewBcrypt(cost int) *BcryptHasher {
	return &BcryptHasher{Cost: cost}
}

func (b *BcryptHasher) Hash(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), b.Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(h), nil
}

func (b *BcryptHasher) Verify(plain, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// Auto hashes with Primary and verifies any hash produced by one of the
// built-in hashers, picking the scheme from the hash prefix. Stored hashes
// therefore survive a change of the configured scheme.
type Auto struct {
	Primary Hasher
	argon   *Argon2
	bcrypt  *BcryptHasher
}

func NewAuto(primary Hasher) *Auto {
	return &Auto{Primary: primary, argon: NewArgon2(), bcrypt: NewBcrypt(bcrypt.DefaultCost)}
}

func (a *Auto) Hash(plain string) (string, error) {
	return a.Primary.Hash(plain)
}

func (a *Auto) Verify(plain, hash string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return a.argon.Verify(plain, hash)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return a.bcrypt.Verify(plain, hash)
	}
	return a.Primary.Verify(plain, hash)
}
