package api

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Cursor decoding errors.
var (
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)

// pageCursor carries the opaque continuation state for list endpoints.
// Clients treat the encoded form as a token; the fields here are an
// implementation detail and may change between releases.
type pageCursor struct {
	// Offset is the absolute position of the next page.
	Offset int `cbor:"o"`

	// Seed pins the shuffle order for random-ordered listings so that
	// paging through a randomized view stays stable.
	Seed int64 `cbor:"s,omitempty"`
}

// encodeCursor serializes a page cursor into a URL-safe opaque token.
func encodeCursor(c pageCursor) string {
	data, err := cbor.Marshal(c)
	if err != nil {
		// pageCursor contains only scalars; Marshal cannot fail on it.
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// decodeCursor parses a token produced by encodeCursor. Malformed or
// tampered tokens return ErrInvalidCursor.
func decodeCursor(token string) (pageCursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return pageCursor{}, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	var c pageCursor
	if err := cbor.Unmarshal(data, &c); err != nil {
		return pageCursor{}, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	if c.Offset < 0 {
		return pageCursor{}, fmt.Errorf("%w: negative offset", ErrInvalidCursor)
	}
	return c, nil
}
