package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/promptset"
	"github.com/promptarena/promptarena/internal/stats"
)

// ErrForbidden is returned when the caller's role does not permit the
// requested assignment change.
var ErrForbidden = errors.New("forbidden")

// bulkPageSize is the fixed page size for bulk inclusion runs. Pages keep
// memory bounded on large populations and give cancellation a checkpoint
// between batches.
const bulkPageSize = 500

// AssignmentService manages prompt membership in prompt sets: single
// status transitions and bulk inclusion runs.
type AssignmentService struct {
	prompts Repository
	sets    promptset.Repository
	query   *QueryService
	logger  *slog.Logger
}

// NewAssignmentService creates an assignment service.
func NewAssignmentService(prompts Repository, sets promptset.Repository, query *QueryService, logger *slog.Logger) *AssignmentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssignmentService{prompts: prompts, sets: sets, query: query, logger: logger}
}

// UpdateStatus transitions a prompt's assignment status within a set.
//
// The caller must hold a role permitting the transition; collaborators may
// only promote drafts to included, owners and admins may make any valid
// transition. Setting the status it already holds is a successful no-op.
// A missing or invisible assignment returns ErrAssignmentNotFound so the
// caller cannot probe for hidden rows.
func (s *AssignmentService) UpdateStatus(ctx context.Context, caller access.Identity, promptID, promptSetID string, to access.AssignmentStatus) error {
	if !access.ValidStatus(to) {
		return fmt.Errorf("%w: %q", ErrInvalidTransition, to)
	}

	set, err := s.sets.GetByID(ctx, promptSetID)
	if err != nil {
		return err
	}
	role, err := s.sets.RoleOf(ctx, caller.UserID, promptSetID)
	if err != nil {
		return err
	}

	if access.Decide(caller, set.Target(role), access.ActionView) != access.Permit {
		// The set itself is invisible: report not-found, not forbidden.
		return promptset.ErrPromptSetNotFound
	}

	a, err := s.prompts.GetAssignment(ctx, promptID, promptSetID)
	if err != nil {
		return err
	}

	if a.Status == access.StatusExcluded && !access.CanManage(caller, set.Target(role)) {
		// Excluded rows do not exist for non-managers.
		return ErrAssignmentNotFound
	}

	if a.Status == to {
		return nil
	}

	if !ValidTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	if !access.CanTransition(caller, role, a.Status, to) {
		return ErrForbidden
	}

	res, err := s.prompts.UpsertAssignment(ctx, &Assignment{
		PromptID:    promptID,
		PromptSetID: promptSetID,
		Status:      to,
	})
	if err != nil {
		return err
	}

	s.logger.Info("assignment status changed",
		"prompt_id", promptID,
		"prompt_set_id", promptSetID,
		"from", string(a.Status),
		"to", string(to),
		"user_id", caller.UserID,
		"updated", res.Updated)
	return nil
}

// BulkIncludeResult summarizes a bulk inclusion run.
type BulkIncludeResult struct {
	Matched  int64 `json:"matched"`
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
	Skipped  int64 `json:"skipped"`
}

// IncludePrompts includes every prompt matching the filters into the target
// set with status included.
//
// The run pages through the matching population in fixed-size batches and
// checks ctx between pages, so cancellation stops promptly without leaving
// a partially-written batch. Each row is an idempotent upsert: re-running
// after an interruption converges on the same final state. The caller must
// be able to manage the target set.
func (s *AssignmentService) IncludePrompts(ctx context.Context, caller access.Identity, promptSetID string, f Filters) (*BulkIncludeResult, error) {
	set, err := s.sets.GetByID(ctx, promptSetID)
	if err != nil {
		return nil, err
	}
	role, err := s.sets.RoleOf(ctx, caller.UserID, promptSetID)
	if err != nil {
		return nil, err
	}
	if !access.CanManage(caller, set.Target(role)) {
		return nil, ErrForbidden
	}

	view, err := s.query.BuildView(ctx, caller)
	if err != nil {
		return nil, err
	}

	// Resolve the full matching population before writing anything.
	// Upserts can move rows in or out of the filtered set (a status
	// filter on the target set, for instance), and offset pagination
	// over a shifting population skips rows.
	var ids []string
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("bulk include canceled: %w", err)
		}

		page, err := s.prompts.List(ctx, ListQuery{
			View:    view,
			Filters: f,
			OrderBy: OrderCreatedAt,
			Limit:   bulkPageSize,
			Offset:  offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list page at offset %d: %w", offset, err)
		}
		if len(page.Prompts) == 0 {
			break
		}
		for _, p := range page.Prompts {
			ids = append(ids, p.ID)
		}
		offset += len(page.Prompts)
		if offset >= page.Total {
			break
		}
	}

	progress := stats.NewUpsertStats()
	for i, id := range ids {
		if i%bulkPageSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("bulk include canceled after %d rows: %w", progress.Total(), err)
			}
		}

		res, err := s.prompts.UpsertAssignment(ctx, &Assignment{
			PromptID:    id,
			PromptSetID: promptSetID,
			Status:      access.StatusIncluded,
		})
		if err != nil {
			return nil, fmt.Errorf("upsert prompt %s: %w", id, err)
		}
		switch {
		case res.Inserted:
			progress.RecordInsert()
		case res.Updated:
			progress.RecordUpdate()
		default:
			progress.RecordSkip()
		}
	}

	progress.LogSummary(s.logger.With("prompt_set_id", promptSetID), "prompt_set_prompts")

	return &BulkIncludeResult{
		Matched:  int64(len(ids)),
		Inserted: progress.Inserted(),
		Updated:  progress.Updated(),
		Skipped:  progress.Skipped(),
	}, nil
}
