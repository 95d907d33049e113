// Package passhash wraps bcrypt with a bounded number of concurrent hash
// operations.
package passhash

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// bcrypt ignores input past this many bytes.
const maxBcryptInput = 72

var ErrMalformedDigest = errors.New("malformed password digest")

type Hasher struct {
	cost  int
	slots *semaphore.Weighted
	dummy []byte
}

// New returns a Hasher using the given bcrypt cost. concurrency caps how many
// hash or verify calls run at once; values below 1 mean runtime.NumCPU().
func New(cost, concurrency int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if concurrency < 1 {
		concurrency = runtime.NumCPU()
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("absent-account"), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy digest failed: %w", err)
	}
	return &Hasher{cost: cost, slots: semaphore.NewWeighted(int64(concurrency)), dummy: dummy}, nil
}

func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hash slot failed: %w", err)
	}
	defer h.slots.Release(1)

	digest, err := bcrypt.GenerateFromPassword(prepare(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password failed: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A digest that bcrypt cannot
// parse yields ErrMalformedDigest rather than a plain mismatch.
func (h *Hasher) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("acquire hash slot failed: %w", err)
	}
	defer h.slots.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(digest), prepare(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
	}
}

// VerifyDummy compares plaintext against a digest of the hasher's own cost and
// discards the result, so a lookup miss costs as much as a wrong password.
func (h *Hasher) VerifyDummy(ctx context.Context, plaintext string) error {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire hash slot failed: %w", err)
	}
	defer h.slots.Release(1)

	_ = bcrypt.CompareHashAndPassword(h.dummy, prepare(plaintext))
	return nil
}

// prepare folds inputs longer than bcrypt accepts into a fixed-size string so
// every byte of the password contributes to the digest.
func prepare(plaintext string) []byte {
	if len(plaintext) <= maxBcryptInput {
		return []byte(plaintext)
	}
	sum := sha256.Sum256([]byte(plaintext))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
