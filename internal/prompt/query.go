package prompt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/promptset"
)

// QueryService answers prompt queries under the caller's access view. It
// resolves visibility once per request, delegates filtering and ordering to
// the repository, and finishes the rows: unrevealed prompt content is
// withheld from callers without standing, and per-set capability flags are
// filled from the resolved roles.
type QueryService struct {
	prompts Repository
	sets    promptset.Repository
	logger  *slog.Logger
}

// NewQueryService creates a prompt query service.
func NewQueryService(prompts Repository, sets promptset.Repository, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{prompts: prompts, sets: sets, logger: logger}
}

// BuildView resolves the caller's visibility over all prompt sets.
func (s *QueryService) BuildView(ctx context.Context, caller access.Identity) (AccessView, error) {
	view := AccessView{Caller: caller, Sets: make(map[string]SetAccess)}

	visible, err := s.sets.ListVisible(ctx, caller)
	if err != nil {
		return AccessView{}, fmt.Errorf("list visible prompt sets: %w", err)
	}
	for _, vs := range visible {
		view.Sets[vs.Set.ID] = SetAccess{
			Role:    vs.Role,
			Manager: access.CanManage(caller, vs.Set.Target(vs.Role)),
		}
	}
	return view, nil
}

// GetPrompts returns one page of prompts visible to the caller. Prompts the
// caller cannot see are omitted from results rather than producing errors.
func (s *QueryService) GetPrompts(ctx context.Context, caller access.Identity, q ListQuery) (*ListResult, error) {
	view, err := s.BuildView(ctx, caller)
	if err != nil {
		return nil, err
	}
	q.View = view

	res, err := s.prompts.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}

	for _, e := range res.Prompts {
		s.finish(e, view)
	}

	s.logger.Debug("prompt query",
		"user_id", caller.UserID,
		"total", res.Total,
		"returned", len(res.Prompts),
		"order", string(q.OrderBy))
	return res, nil
}

// GetPrompt returns a single enriched prompt, or ErrPromptNotFound when the
// prompt does not exist or the caller cannot see any of its assignments.
// Invisible prompts are indistinguishable from missing ones.
func (s *QueryService) GetPrompt(ctx context.Context, caller access.Identity, id string) (*EnrichedPrompt, error) {
	view, err := s.BuildView(ctx, caller)
	if err != nil {
		return nil, err
	}

	e, err := s.prompts.GetEnriched(ctx, view, id)
	if err != nil {
		return nil, err
	}
	s.finish(e, view)
	return e, nil
}

// finish applies content hiding and capability flags to an enriched prompt.
func (s *QueryService) finish(e *EnrichedPrompt, view AccessView) {
	caller := view.Caller

	canSeeContent := e.IsRevealed || caller.Superuser || (caller.UserID != "" && caller.UserID == e.UploaderID)
	for i := range e.Sets {
		info := &e.Sets[i]
		sa := view.Sets[info.PromptSetID]

		role := sa.Role
		if caller.Superuser {
			role = access.RoleOwner
		}
		info.CanExclude = access.CanTransition(caller, role, info.Status, access.StatusExcluded)
		info.CanInclude = access.CanTransition(caller, role, info.Status, access.StatusIncluded)

		if sa.Manager {
			canSeeContent = true
		}
	}

	if !canSeeContent {
		// Unrevealed content stays opaque: hashes identify it, the text
		// does not travel.
		e.Question = ""
	}
}
