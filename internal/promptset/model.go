// Package promptset provides models and repositories for prompt sets and
// their membership roles.
package promptset

import (
	"errors"
	"time"

	"github.com/promptarena/promptarena/internal/access"
)

// Common errors for prompt set operations.
var (
	ErrPromptSetNotFound = errors.New("prompt set not found")

	// ErrPublicSubmissionsRequirePublic is returned when enabling public
	// submissions on a non-public set. Maps to a bad_request at the API
	// boundary.
	ErrPublicSubmissionsRequirePublic = errors.New("public submissions require public visibility")

	// ErrOwnerRoleImmutable is returned when a role update attempts to
	// assign or remove the owner role. Ownership is fixed at creation.
	ErrOwnerRoleImmutable = errors.New("owner role cannot be assigned or removed")

	ErrInvalidRole = errors.New("invalid membership role")
)

// PromptSet is a named collection of benchmark prompts with its own
// visibility and membership roles.
type PromptSet struct {
	ID                      string            `json:"id"`
	Title                   string            `json:"title"`
	Visibility              access.Visibility `json:"visibility"`
	AllowsPublicSubmissions bool              `json:"allows_public_submissions"`
	OwnerID                 string            `json:"owner_id"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Validate checks the prompt set's structural invariants.
// AllowsPublicSubmissions is only meaningful for public sets.
func (p *PromptSet) Validate() error {
	if p.AllowsPublicSubmissions && p.Visibility != access.VisibilityPublic {
		return ErrPublicSubmissionsRequirePublic
	}
	return nil
}

// Target builds the access resolver target for a prompt-set level check
// given the caller's role on this set.
func (p *PromptSet) Target(role access.Role) access.Target {
	return access.Target{
		Visibility:              p.Visibility,
		AllowsPublicSubmissions: p.AllowsPublicSubmissions,
		Role:                    role,
	}
}

// Membership binds a user to a prompt set with a role.
type Membership struct {
	UserID      string      `json:"user_id"`
	PromptSetID string      `json:"prompt_set_id"`
	Role        access.Role `json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
