package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2idPrefix = "$argon2id$"

	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

var (
	ErrEmptyPassword   = errors.New("password cannot be empty")
	ErrUnsupportedHash = errors.New("unsupported password hash format")
)

// PasswordHasher hashes account passwords. Every produced hash carries its own
// algorithm and cost, so hashes written under older settings keep verifying.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
	NeedsUpgrade(hash string) bool
}

type Hasher struct {
	algorithm  string
	bcryptCost int
}

// NewHasher returns a hasher producing bcrypt or argon2id hashes.
func NewHasher(algorithm string, bcryptCost int) (*Hasher, error) {
	switch algorithm {
	case "bcrypt":
		if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
	case "argon2id":
	default:
		return nil, fmt.Errorf("unsupported password hash algorithm %q", algorithm)
	}

	return &Hasher{algorithm: algorithm, bcryptCost: bcryptCost}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	if h.algorithm == "argon2id" {
		return hashArgon2id(password)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify returns (false, nil) on mismatch and an error only for malformed hashes.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	if strings.HasPrefix(hash, argon2idPrefix) {
		return verifyArgon2id(password, hash)
	}

	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NeedsUpgrade reports whether hash was produced with a different algorithm or a
// lower bcrypt cost than currently configured.
func (h *Hasher) NeedsUpgrade(hash string) bool {
	isArgon := strings.HasPrefix(hash, argon2idPrefix)
	if h.algorithm == "argon2id" {
		return !isArgon
	}
	if isArgon {
		return true
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost < h.bcryptCost
}

func hashArgon2id(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, ErrUnsupportedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("%w: argon2 version %d", ErrUnsupportedHash, version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
	}
	if threads == 0 || threads > 255 {
		return false, fmt.Errorf("%w: parallelism %d", ErrUnsupportedHash, threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
	}
	if len(expected) == 0 || len(expected) > 1024 {
		return false, fmt.Errorf("%w: key length %d", ErrUnsupportedHash, len(expected))
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
