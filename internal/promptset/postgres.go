package promptset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/tracing"
)

// PostgresRepository implements Repository using PostgreSQL.
// Owner membership is inserted in the same transaction as the set row,
// so a set can never be observed without its owner.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a new prompt set and its owner membership atomically.
func (r *PostgresRepository) Create(ctx context.Context, set *PromptSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	ctx, finish := tracing.StartDBSpan(ctx, "prompt_sets", tracing.DBOperationInsert)
	var err error
	defer func() { finish(err) }()

	now := time.Now()
	if set.ID == "" {
		set.ID = uuid.New().String()
	}
	set.CreatedAt = now
	set.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		r.logger.Error("failed to begin transaction",
			slog.String("error", err.Error()),
			slog.String("prompt_set_id", set.ID))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction",
				slog.String("error", rbErr.Error()))
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prompt_sets (id, title, visibility, allows_public_submissions, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		set.ID, set.Title, string(set.Visibility), set.AllowsPublicSubmissions,
		set.OwnerID, set.CreatedAt, set.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert prompt set: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prompt_set_memberships (prompt_set_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		set.ID, set.OwnerID, string(access.RoleOwner), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert owner membership: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Update modifies a prompt set's title, visibility, and submission policy.
func (r *PostgresRepository) Update(ctx context.Context, set *PromptSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	ctx, finish := tracing.StartDBSpan(ctx, "prompt_sets", tracing.DBOperationUpdate)
	var err error
	defer func() { finish(err) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE prompt_sets
		SET title = $2, visibility = $3, allows_public_submissions = $4, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		set.ID, set.Title, string(set.Visibility), set.AllowsPublicSubmissions)
	if err != nil {
		return fmt.Errorf("failed to update prompt set: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		err = ErrPromptSetNotFound
		return err
	}
	return nil
}

// Delete soft-deletes a prompt set.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	ctx, finish := tracing.StartDBSpan(ctx, "prompt_sets", tracing.DBOperationUpdate)
	var err error
	defer func() { finish(err) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE prompt_sets
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete prompt set: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		err = ErrPromptSetNotFound
		return err
	}
	return nil
}

// GetByID retrieves a prompt set by ID, excluding soft-deleted sets.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*PromptSet, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "prompt_sets", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	set, err := scanPromptSet(r.db.QueryRowContext(ctx, `
		SELECT id, title, visibility, allows_public_submissions, owner_id, created_at, updated_at
		FROM prompt_sets
		WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrPromptSetNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get prompt set: %w", err)
	}
	return set, nil
}

// RoleOf returns the caller's role on a prompt set.
func (r *PostgresRepository) RoleOf(ctx context.Context, userID, promptSetID string) (access.Role, error) {
	if userID == "" {
		return access.RoleNone, nil
	}

	ctx, finish := tracing.StartDBSpan(ctx, "prompt_set_memberships", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	// A LEFT JOIN distinguishes "set missing" from "no membership" in one
	// round trip.
	var role sql.NullString
	err = r.db.QueryRowContext(ctx, `
		SELECT m.role
		FROM prompt_sets s
		LEFT JOIN prompt_set_memberships m
			ON m.prompt_set_id = s.id AND m.user_id = $2
		WHERE s.id = $1 AND s.deleted_at IS NULL`,
		promptSetID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrPromptSetNotFound
			return access.RoleNone, err
		}
		return access.RoleNone, fmt.Errorf("failed to resolve role: %w", err)
	}
	if !role.Valid {
		return access.RoleNone, nil
	}
	return access.Role(role.String), nil
}

// SetRole grants or updates a non-owner membership role.
func (r *PostgresRepository) SetRole(ctx context.Context, userID, promptSetID string, role access.Role) error {
	if !access.ValidRole(role) {
		return ErrInvalidRole
	}
	if role == access.RoleOwner {
		return ErrOwnerRoleImmutable
	}

	set, err := r.GetByID(ctx, promptSetID)
	if err != nil {
		return err
	}
	if set.OwnerID == userID {
		return ErrOwnerRoleImmutable
	}

	ctx, finish := tracing.StartDBSpan(ctx, "prompt_set_memberships", tracing.DBOperationInsert)
	defer func() { finish(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO prompt_set_memberships (prompt_set_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (prompt_set_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()`,
		promptSetID, userID, string(role))
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	return nil
}

// RemoveRole revokes a non-owner membership.
func (r *PostgresRepository) RemoveRole(ctx context.Context, userID, promptSetID string) error {
	set, err := r.GetByID(ctx, promptSetID)
	if err != nil {
		return err
	}
	if set.OwnerID == userID {
		return ErrOwnerRoleImmutable
	}

	ctx, finish := tracing.StartDBSpan(ctx, "prompt_set_memberships", tracing.DBOperationDelete)
	defer func() { finish(err) }()

	_, err = r.db.ExecContext(ctx, `
		DELETE FROM prompt_set_memberships
		WHERE prompt_set_id = $1 AND user_id = $2`,
		promptSetID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// ListMembers returns all memberships for a prompt set.
func (r *PostgresRepository) ListMembers(ctx context.Context, promptSetID string) ([]Membership, error) {
	if _, err := r.GetByID(ctx, promptSetID); err != nil {
		return nil, err
	}

	ctx, finish := tracing.StartDBSpan(ctx, "prompt_set_memberships", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT prompt_set_id, user_id, role, created_at, updated_at
		FROM prompt_set_memberships
		WHERE prompt_set_id = $1
		ORDER BY created_at`, promptSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		var role string
		if err = rows.Scan(&m.PromptSetID, &m.UserID, &role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.Role = access.Role(role)
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return members, nil
}

// ListVisible returns every non-deleted prompt set the identity may view.
// Visibility is decided in Go so the access rules live in exactly one
// place; the query only narrows to non-deleted sets and joins the
// caller's membership.
func (r *PostgresRepository) ListVisible(ctx context.Context, caller access.Identity) ([]VisibleSet, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "prompt_sets", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.visibility, s.allows_public_submissions, s.owner_id,
			s.created_at, s.updated_at, m.role
		FROM prompt_sets s
		LEFT JOIN prompt_set_memberships m
			ON m.prompt_set_id = s.id AND m.user_id = $1
		WHERE s.deleted_at IS NULL
		ORDER BY s.created_at DESC`, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt sets: %w", err)
	}
	defer rows.Close()

	var out []VisibleSet
	for rows.Next() {
		var set PromptSet
		var visibility string
		var role sql.NullString
		if err = rows.Scan(&set.ID, &set.Title, &visibility, &set.AllowsPublicSubmissions,
			&set.OwnerID, &set.CreatedAt, &set.UpdatedAt, &role); err != nil {
			return nil, fmt.Errorf("failed to scan prompt set: %w", err)
		}
		set.Visibility = access.Visibility(visibility)

		callerRole := access.RoleNone
		if role.Valid {
			callerRole = access.Role(role.String)
		}
		if access.Decide(caller, set.Target(callerRole), access.ActionView) != access.Permit {
			continue
		}
		out = append(out, VisibleSet{Set: set, Role: callerRole})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompt sets: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPromptSet(row rowScanner) (*PromptSet, error) {
	var set PromptSet
	var visibility string
	if err := row.Scan(&set.ID, &set.Title, &visibility, &set.AllowsPublicSubmissions,
		&set.OwnerID, &set.CreatedAt, &set.UpdatedAt); err != nil {
		return nil, err
	}
	set.Visibility = access.Visibility(visibility)
	return &set, nil
}
