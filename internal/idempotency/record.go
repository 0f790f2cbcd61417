// Package idempotency stores replay records for mutating endpoints so a
// retried request returns the original response instead of repeating the
// operation. Bulk prompt inclusion is the primary client: a network retry
// of an include request must not re-run the paged upsert loop.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// MaxKeyLength bounds client-supplied idempotency keys.
const MaxKeyLength = 64

var (
	ErrNotFound   = errors.New("idempotency record not found")
	ErrDuplicate  = errors.New("idempotency record already exists")
	ErrInvalidKey = errors.New("invalid idempotency key")
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length")
)

// Record is one replayable response, keyed by the client's idempotency key.
type Record struct {
	Key        string    `json:"key"`
	Method     string    `json:"method"`
	Route      string    `json:"route"`
	StatusCode int       `json:"status_code"`
	Body       string    `json:"body"`
	BodyHash   string    `json:"body_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidateKey rejects empty keys and keys longer than MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// HashBody returns the hex SHA-256 of a response body, stored alongside the
// body so replay integrity can be checked.
func HashBody(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Store persists replay records.
type Store interface {
	// Lookup returns the record for key, or ErrNotFound.
	Lookup(key string) (*Record, error)

	// Save persists a new record. Returns ErrDuplicate when the key is
	// already taken.
	Save(rec *Record) error

	// Purge removes records older than maxAge and reports how many were
	// removed.
	Purge(maxAge time.Duration) (int64, error)
}
