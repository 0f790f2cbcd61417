package promptset

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptarena/promptarena/internal/access"
)

// Repository defines the interface for prompt set data operations.
// All implementations assign the creating user the owner role atomically
// with set creation, and never allow the owner role to change afterwards.
type Repository interface {
	// Create stores a new prompt set and assigns the owner membership.
	// Returns ErrPublicSubmissionsRequirePublic when the submission policy
	// violates the visibility invariant.
	Create(ctx context.Context, set *PromptSet) error

	// Update modifies a prompt set's title, visibility, and submission
	// policy. Ownership is untouched.
	Update(ctx context.Context, set *PromptSet) error

	// Delete soft-deletes a prompt set by setting deleted_at.
	Delete(ctx context.Context, id string) error

	// GetByID retrieves a prompt set by ID, excluding soft-deleted sets.
	GetByID(ctx context.Context, id string) (*PromptSet, error)

	// RoleOf returns the caller's role on a prompt set. The owner reported
	// by the set itself always resolves to RoleOwner; users with no
	// membership resolve to RoleNone. An empty userID resolves to RoleNone.
	RoleOf(ctx context.Context, userID, promptSetID string) (access.Role, error)

	// SetRole grants or updates a non-owner membership role.
	// Returns ErrOwnerRoleImmutable when the target user is the owner or
	// the requested role is owner.
	SetRole(ctx context.Context, userID, promptSetID string, role access.Role) error

	// RemoveRole revokes a non-owner membership. Removing a membership that
	// does not exist is a no-op.
	RemoveRole(ctx context.Context, userID, promptSetID string) error

	// ListMembers returns all memberships for a prompt set, including the
	// synthetic owner membership.
	ListMembers(ctx context.Context, promptSetID string) ([]Membership, error)

	// ListVisible returns every non-deleted prompt set the identity may
	// view, paired with the identity's role on each.
	ListVisible(ctx context.Context, caller access.Identity) ([]VisibleSet, error)
}

// VisibleSet is a prompt set the caller may view, with the caller's role.
type VisibleSet struct {
	Set  PromptSet
	Role access.Role
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	sets    map[string]*PromptSet
	members map[string]map[string]access.Role // promptSetID -> userID -> role
}

// NewInMemoryRepository creates a new in-memory prompt set repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sets:    make(map[string]*PromptSet),
		members: make(map[string]map[string]access.Role),
	}
}

// Create stores a new prompt set and assigns the owner membership.
func (r *InMemoryRepository) Create(ctx context.Context, set *PromptSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if set.ID == "" {
		set.ID = uuid.New().String()
	}
	set.CreatedAt = now
	set.UpdatedAt = now

	setCopy := *set
	r.sets[set.ID] = &setCopy
	r.members[set.ID] = map[string]access.Role{set.OwnerID: access.RoleOwner}
	return nil
}

// Update modifies a prompt set's mutable fields.
func (r *InMemoryRepository) Update(ctx context.Context, set *PromptSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sets[set.ID]
	if !ok || existing.DeletedAt != nil {
		return ErrPromptSetNotFound
	}

	existing.Title = set.Title
	existing.Visibility = set.Visibility
	existing.AllowsPublicSubmissions = set.AllowsPublicSubmissions
	existing.UpdatedAt = time.Now()
	return nil
}

// Delete soft-deletes a prompt set.
func (r *InMemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[id]
	if !ok || set.DeletedAt != nil {
		return ErrPromptSetNotFound
	}

	now := time.Now()
	set.DeletedAt = &now
	return nil
}

// GetByID retrieves a prompt set by ID, excluding soft-deleted sets.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*PromptSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sets[id]
	if !ok || set.DeletedAt != nil {
		return nil, ErrPromptSetNotFound
	}

	setCopy := *set
	return &setCopy, nil
}

// RoleOf returns the caller's role on a prompt set.
func (r *InMemoryRepository) RoleOf(ctx context.Context, userID, promptSetID string) (access.Role, error) {
	if userID == "" {
		return access.RoleNone, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sets[promptSetID]
	if !ok || set.DeletedAt != nil {
		return access.RoleNone, ErrPromptSetNotFound
	}

	if role, ok := r.members[promptSetID][userID]; ok {
		return role, nil
	}
	return access.RoleNone, nil
}

// SetRole grants or updates a non-owner membership role.
func (r *InMemoryRepository) SetRole(ctx context.Context, userID, promptSetID string, role access.Role) error {
	if !access.ValidRole(role) {
		return ErrInvalidRole
	}
	if role == access.RoleOwner {
		return ErrOwnerRoleImmutable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[promptSetID]
	if !ok || set.DeletedAt != nil {
		return ErrPromptSetNotFound
	}
	if set.OwnerID == userID {
		return ErrOwnerRoleImmutable
	}

	r.members[promptSetID][userID] = role
	return nil
}

// RemoveRole revokes a non-owner membership.
func (r *InMemoryRepository) RemoveRole(ctx context.Context, userID, promptSetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[promptSetID]
	if !ok || set.DeletedAt != nil {
		return ErrPromptSetNotFound
	}
	if set.OwnerID == userID {
		return ErrOwnerRoleImmutable
	}

	delete(r.members[promptSetID], userID)
	return nil
}

// ListMembers returns all memberships for a prompt set.
func (r *InMemoryRepository) ListMembers(ctx context.Context, promptSetID string) ([]Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sets[promptSetID]
	if !ok || set.DeletedAt != nil {
		return nil, ErrPromptSetNotFound
	}

	members := make([]Membership, 0, len(r.members[promptSetID]))
	for userID, role := range r.members[promptSetID] {
		members = append(members, Membership{
			UserID:      userID,
			PromptSetID: promptSetID,
			Role:        role,
		})
	}
	return members, nil
}

// ListVisible returns every non-deleted prompt set the identity may view.
func (r *InMemoryRepository) ListVisible(ctx context.Context, caller access.Identity) ([]VisibleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []VisibleSet
	for id, set := range r.sets {
		if set.DeletedAt != nil {
			continue
		}
		role := access.RoleNone
		if caller.UserID != "" {
			if got, ok := r.members[id][caller.UserID]; ok {
				role = got
			}
		}
		if access.Decide(caller, set.Target(role), access.ActionView) != access.Permit {
			continue
		}
		out = append(out, VisibleSet{Set: *set, Role: role})
	}
	return out, nil
}
