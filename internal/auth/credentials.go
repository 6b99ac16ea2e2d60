package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// dummyHash is verified when no official matches so both paths cost one KDF run.
var (
	dummyHashOnce sync.Once
	dummyHash     string
)

func timingPad(secret string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashSecret("portal-timing-pad")
	})
	if dummyHash != "" {
		_, _, _ = VerifySecret(dummyHash, secret)
	}
}

// CredentialStore verifies identifier and secret pairs against stored hashes.
type CredentialStore struct {
	officials OfficialStore
}

func NewCredentialStore(officials OfficialStore) (*CredentialStore, error) {
	if officials == nil {
		return nil, errors.New("official store is required")
	}
	return &CredentialStore{officials: officials}, nil
}

// Verification is the outcome of a successful Verify call.
type Verification struct {
	Official    Official
	NeedsRehash bool
}

// Verify looks the official up by employee code or email and compares the
// secret. The secret is checked before account status so inactive or locked
// accounts are only reported to callers that know the secret.
func (c *CredentialStore) Verify(ctx context.Context, identifier, secret string) (Verification, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return Verification{}, ErrInvalidCredentials
	}
	official, err := c.officials.FindOfficialByIdentifier(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		timingPad(secret)
		return Verification{}, ErrInvalidCredentials
	}
	if err != nil {
		return Verification{}, fmt.Errorf("lookup official: %w", err)
	}
	ok, needsRehash, err := VerifySecret(official.PasswordHash, secret)
	if err != nil || !ok {
		return Verification{}, ErrInvalidCredentials
	}
	if !official.IsActive {
		return Verification{}, ErrAccountInactive
	}
	if official.AccountLocked {
		return Verification{}, ErrAccountLocked
	}
	return Verification{Official: official, NeedsRehash: needsRehash}, nil
}

// CheckSecret confirms that secret matches the stored hash of the official
// with the given id. A mismatch yields ErrInvalidCurrentSecret.
func (c *CredentialStore) CheckSecret(ctx context.Context, officialID, secret string) error {
	official, err := c.officials.GetOfficial(ctx, officialID)
	if err != nil {
		return err
	}
	ok, _, err := VerifySecret(official.PasswordHash, secret)
	if err != nil || !ok {
		return ErrInvalidCurrentSecret
	}
	return nil
}
