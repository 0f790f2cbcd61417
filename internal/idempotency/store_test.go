package idempotency

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid key", "include-run-2026-03-01", nil},
		{"uuid-style key", "9f2c1d34-7a0b-4c1e-9d5f-0a1b2c3d4e5f", nil},
		{"exactly max length", strings.Repeat("k", MaxKeyLength), nil},
		{"empty key", "", ErrInvalidKey},
		{"over max length", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateKey(%q) = %v, expected %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestHashBody(t *testing.T) {
	a := HashBody(`{"included":5}`)
	b := HashBody(`{"included":5}`)
	c := HashBody(`{"included":6}`)

	if a != b {
		t.Error("expected identical bodies to hash identically")
	}
	if a == c {
		t.Error("expected distinct bodies to hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(a))
	}
}

func TestMemoryStore_SaveAndLookup(t *testing.T) {
	store := NewMemoryStore()

	rec := &Record{
		Key:        "include-1",
		Method:     "POST",
		Route:      "/prompt-sets/set-1/include",
		StatusCode: 200,
		Body:       `{"inserted":3,"updated":0}`,
		BodyHash:   HashBody(`{"inserted":3,"updated":0}`),
	}
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Lookup("include-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Body != rec.Body {
		t.Errorf("expected body %q, got %q", rec.Body, got.Body)
	}
	if got.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", got.StatusCode)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set on save")
	}

	// Mutating the returned record must not affect the store.
	got.Body = "tampered"
	again, err := store.Lookup("include-1")
	if err != nil {
		t.Fatalf("second Lookup: %v", err)
	}
	if again.Body != rec.Body {
		t.Error("stored record was mutated through a lookup result")
	}
}

func TestMemoryStore_LookupMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Lookup("never-saved"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SaveDuplicate(t *testing.T) {
	store := NewMemoryStore()

	if err := store.Save(&Record{Key: "dup", StatusCode: 200}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := store.Save(&Record{Key: "dup", StatusCode: 500}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	// The original record survives.
	got, err := store.Lookup("dup")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.StatusCode != 200 {
		t.Errorf("expected original status 200, got %d", got.StatusCode)
	}
}

func TestMemoryStore_SaveInvalidKey(t *testing.T) {
	store := NewMemoryStore()

	if err := store.Save(&Record{Key: ""}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if err := store.Save(&Record{Key: strings.Repeat("x", MaxKeyLength+1)}); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("expected ErrKeyTooLong, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected no records stored, got %d", store.Len())
	}
}

func TestMemoryStore_Purge(t *testing.T) {
	store := NewMemoryStore()

	if err := store.Save(&Record{Key: "stale", CreatedAt: time.Now().Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("Save stale: %v", err)
	}
	if err := store.Save(&Record{Key: "fresh"}); err != nil {
		t.Fatalf("Save fresh: %v", err)
	}

	removed, err := store.Purge(DefaultMaxAge)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 record purged, got %d", removed)
	}
	if _, err := store.Lookup("stale"); !errors.Is(err, ErrNotFound) {
		t.Error("expected stale record to be gone")
	}
	if _, err := store.Lookup("fresh"); err != nil {
		t.Errorf("expected fresh record to survive, got %v", err)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", n)
			if err := store.Save(&Record{Key: key, StatusCode: 200}); err != nil {
				t.Errorf("Save %s: %v", key, err)
			}
			if _, err := store.Lookup(key); err != nil {
				t.Errorf("Lookup %s: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 50 {
		t.Errorf("expected 50 records, got %d", store.Len())
	}
}
