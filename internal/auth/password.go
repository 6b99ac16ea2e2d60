package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16

	// MinSecretLength is the shortest secret accepted for new passwords.
	MinSecretLength = 8

	generatedSecretLength   = 16
	generatedSecretAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
)

var errMalformedHash = errors.New("password hash is malformed")

// HashSecret derives an argon2id PHC string with a random salt.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("password is empty")
	}
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifySecret compares secret with a stored hash in constant time. needsRehash
// is true when the hash uses a format or parameters older than HashSecret.
func VerifySecret(hash, secret string) (ok bool, needsRehash bool, err error) {
	switch {
	case hash == "":
		return false, false, errors.New("password hash is empty")
	case strings.HasPrefix(hash, "$argon2id$"):
		return verifyArgon2(hash, secret)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, false, nil
		}
		if err != nil {
			return false, false, err
		}
		return true, true, nil
	case isLegacyDigest(hash):
		sum := sha256.Sum256([]byte(secret))
		actual := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(hash)), []byte(actual)) == 1, true, nil
	default:
		return false, false, errMalformedHash
	}
}

func verifyArgon2(encoded, secret string) (bool, bool, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 {
		return false, false, errMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, false, errMalformedHash
	}
	var (
		memory      uint32
		iterations  uint32
		parallelism uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, false, errMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, false, errMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, false, errMalformedHash
	}
	got := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return false, false, nil
	}
	stale := version != argon2.Version || memory != argonMemory || iterations != argonIterations ||
		parallelism != argonParallelism || len(want) != argonKeyLength
	return true, stale, nil
}

// isLegacyDigest matches the unsalted hex SHA-256 digests of the previous portal.
func isLegacyDigest(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// GenerateSecret returns a random one-time secret without ambiguous characters.
func GenerateSecret() (string, error) {
	limit := big.NewInt(int64(len(generatedSecretAlphabet)))
	var b strings.Builder
	b.Grow(generatedSecretLength)
	for i := 0; i < generatedSecretLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate secret: %w", err)
		}
		b.WriteByte(generatedSecretAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidateNewSecret enforces the minimum policy for chosen secrets.
func ValidateNewSecret(secret string) error {
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%w: new secret is required", ErrValidation)
	}
	if len([]rune(secret)) < MinSecretLength {
		return fmt.Errorf("%w: new secret must be at least %d characters", ErrValidation, MinSecretLength)
	}
	return nil
}
