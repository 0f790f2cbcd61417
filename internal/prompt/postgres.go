package prompt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/tracing"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// Query methods narrow the candidate set with cheap SQL predicates
// (set, status, type, age) and hydrate the surviving rows, then run the
// same pure aggregation and filter helpers as the in-memory repository.
// Keeping the score-derived logic in one place means the two
// implementations cannot disagree on aggregate semantics.
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

// CreatePrompt stores a new prompt, deduplicating by content hash.
// A conflicting hash returns the existing prompt's ID without inserting.
func (r *PostgresRepository) CreatePrompt(ctx context.Context, p *Prompt) (string, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "prompts", tracing.DBOperationInsert)
	var err error
	defer func() { finish(err) }()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	if p.SHA256 == "" {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO prompts (id, cid, sha256, question, prompt_type, tags, uploader_id, is_revealed, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, p.CID, p.SHA256, p.Question, p.PromptType, pq.Array(p.Tags),
			p.UploaderID, p.IsRevealed, p.CreatedAt)
		if err != nil {
			return "", fmt.Errorf("failed to insert prompt: %w", err)
		}
		return p.ID, nil
	}

	// The no-op DO UPDATE makes RETURNING yield the existing row's ID on
	// a hash conflict.
	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO prompts (id, cid, sha256, question, prompt_type, tags, uploader_id, is_revealed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sha256) WHERE sha256 <> '' DO UPDATE SET sha256 = EXCLUDED.sha256
		RETURNING id`,
		p.ID, p.CID, p.SHA256, p.Question, p.PromptType, pq.Array(p.Tags),
		p.UploaderID, p.IsRevealed, p.CreatedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to insert prompt: %w", err)
	}
	return id, nil
}

// GetPrompt retrieves a prompt by ID.
func (r *PostgresRepository) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "prompts", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	p := &Prompt{}
	err = r.db.QueryRowContext(ctx, `
		SELECT id, cid, sha256, question, prompt_type, tags, uploader_id, is_revealed, created_at
		FROM prompts
		WHERE id = $1`, id).
		Scan(&p.ID, &p.CID, &p.SHA256, &p.Question, &p.PromptType,
			pq.Array(&p.Tags), &p.UploaderID, &p.IsRevealed, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrPromptNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}
	return p, nil
}

// UpsertAssignment inserts an assignment or updates its status.
// The conditional DO UPDATE makes an identical-status re-run return no
// row, which we report as a no-op.
func (r *PostgresRepository) UpsertAssignment(ctx context.Context, a *Assignment) (*UpsertResult, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "prompt_assignments", tracing.DBOperationInsert)
	var err error
	defer func() { finish(err) }()

	var inserted bool
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO prompt_assignments (prompt_id, prompt_set_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (prompt_id, prompt_set_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		WHERE prompt_assignments.status IS DISTINCT FROM EXCLUDED.status
		RETURNING (xmax = 0)`,
		a.PromptID, a.PromptSetID, string(a.Status)).Scan(&inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Converged already.
			err = nil
			return &UpsertResult{PromptID: a.PromptID}, nil
		}
		if isForeignKeyViolation(err) {
			err = ErrPromptNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to upsert assignment: %w", err)
	}

	if inserted {
		return &UpsertResult{Inserted: true, PromptID: a.PromptID}, nil
	}
	return &UpsertResult{Updated: true, PromptID: a.PromptID}, nil
}

// GetAssignment retrieves the assignment of a prompt in a set.
func (r *PostgresRepository) GetAssignment(ctx context.Context, promptID, promptSetID string) (*Assignment, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "prompt_assignments", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	a := &Assignment{}
	var status string
	err = r.db.QueryRowContext(ctx, `
		SELECT prompt_id, prompt_set_id, status, created_at, updated_at
		FROM prompt_assignments
		WHERE prompt_id = $1 AND prompt_set_id = $2`,
		promptID, promptSetID).
		Scan(&a.PromptID, &a.PromptSetID, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrAssignmentNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	a.Status = access.AssignmentStatus(status)
	return a, nil
}

// CreateResponse stores a model response.
func (r *PostgresRepository) CreateResponse(ctx context.Context, resp *Response) error {
	ctx, finish := tracing.StartDBSpan(ctx, "responses", tracing.DBOperationInsert)
	var err error
	defer func() { finish(err) }()

	if resp.ID == "" {
		resp.ID = uuid.New().String()
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO responses (id, prompt_id, model_slug, run_id, answer, started_at, finished_at,
			input_tokens, output_tokens, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		resp.ID, resp.PromptID, resp.ModelSlug, resp.RunID, resp.Answer,
		resp.StartedAt, resp.FinishedAt, resp.InputTokens, resp.OutputTokens,
		resp.CostUSD, resp.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			err = ErrPromptNotFound
			return err
		}
		return fmt.Errorf("failed to insert response: %w", err)
	}
	return nil
}

// CreateScore stores a score after validating its value range.
func (r *PostgresRepository) CreateScore(ctx context.Context, s *Score) error {
	if err := s.Validate(); err != nil {
		return err
	}

	ctx, finish := tracing.StartDBSpan(ctx, "scores", tracing.DBOperationInsert)
	var err error
	defer func() { finish(err) }()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scores (id, response_id, method, value, scorer_user_id, scorer_model_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.ResponseID, string(s.Method), s.Value,
		s.ScorerUserID, s.ScorerModelID, s.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			err = ErrResponseNotFound
			return err
		}
		return fmt.Errorf("failed to insert score: %w", err)
	}
	return nil
}

// AddQuickFeedback records a lightweight feedback signal.
func (r *PostgresRepository) AddQuickFeedback(ctx context.Context, f *QuickFeedback) error {
	ctx, finish := tracing.StartDBSpan(ctx, "quick_feedback", tracing.DBOperationInsert)
	var err error
	defer func() { finish(err) }()

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO quick_feedback (prompt_id, user_id, positive, created_at)
		VALUES ($1, $2, $3, $4)`,
		f.PromptID, f.UserID, f.Positive, f.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			err = ErrPromptNotFound
			return err
		}
		return fmt.Errorf("failed to insert quick feedback: %w", err)
	}
	return nil
}

// List returns one page of enriched prompts.
func (r *PostgresRepository) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	candidates, _, err := r.loadCandidates(ctx, q.View, q.Filters)
	if err != nil {
		return nil, err
	}

	seed := q.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	orderCandidates(candidates, q.OrderBy, seed)

	total := len(candidates)

	start := q.Offset
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}

	page := candidates[start:end]
	prompts := make([]*EnrichedPrompt, len(page))
	for i, c := range page {
		prompts[i] = c.enriched
	}

	return &ListResult{Prompts: prompts, Total: total}, nil
}

// GetEnriched returns one enriched prompt under the access view.
func (r *PostgresRepository) GetEnriched(ctx context.Context, view AccessView, id string) (*EnrichedPrompt, error) {
	p, err := r.GetPrompt(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.loadPromptRows(ctx, []string{id})
	if err != nil {
		return nil, err
	}

	visible := filterVisible(rows.assignments[id], view, Filters{})
	if len(visible) == 0 {
		return nil, ErrPromptNotFound
	}
	return enrichPrompt(p, visible, rows.responses[id], rows.scores, rows.feedback[id]), nil
}

// CollectScored returns the full filtered population with responses and
// scores attached.
func (r *PostgresRepository) CollectScored(ctx context.Context, view AccessView, f Filters) ([]*ScoredPrompt, error) {
	candidates, rows, err := r.loadCandidates(ctx, view, f)
	if err != nil {
		return nil, err
	}

	result := make([]*ScoredPrompt, 0, len(candidates))
	for _, c := range candidates {
		sp := &ScoredPrompt{Prompt: *c.prompt}
		for _, a := range c.assignments {
			sp.PromptSetIDs = append(sp.PromptSetIDs, a.PromptSetID)
		}
		sort.Strings(sp.PromptSetIDs)
		for _, resp := range rows.responses[c.prompt.ID] {
			rws := ResponseWithScores{Response: *resp}
			for _, s := range rows.scores[resp.ID] {
				rws.Scores = append(rws.Scores, *s)
			}
			sp.Responses = append(sp.Responses, rws)
		}
		result = append(result, sp)
	}
	return result, nil
}

// loadCandidates fetches prompts surviving the cheap SQL predicates,
// hydrates their assignments, responses, scores, and feedback counts,
// and applies the shared visibility, field, and aggregate filters.
func (r *PostgresRepository) loadCandidates(ctx context.Context, view AccessView, f Filters) ([]*candidate, *promptRows, error) {
	ids, err := r.selectCandidateIDs(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return nil, &promptRows{}, nil
	}

	rows, err := r.loadPromptRows(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	var out []*candidate
	for _, p := range rows.prompts {
		visible := filterVisible(rows.assignments[p.ID], view, f)
		if len(visible) == 0 {
			continue
		}
		if !matchesPromptFields(p, f, now) {
			continue
		}

		e := enrichPrompt(p, visible, rows.responses[p.ID], rows.scores, rows.feedback[p.ID])
		callerScored := scoredByUser(rows.responses[p.ID], rows.scores, view.Caller.UserID)
		if !matchesAggregates(e, f, view.Caller.UserID, callerScored) {
			continue
		}

		out = append(out, &candidate{prompt: p, assignments: visible, enriched: e})
	}
	return out, rows, nil
}

// selectCandidateIDs narrows the candidate prompt IDs in SQL. Tags and
// the score-derived filters are intentionally left to the Go side so
// their matching semantics have a single implementation.
func (r *PostgresRepository) selectCandidateIDs(ctx context.Context, f Filters) ([]string, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "prompts", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	var setID, promptType sql.NullString
	if f.PromptSetID != nil {
		setID = sql.NullString{String: *f.PromptSetID, Valid: true}
	}
	if f.PromptType != nil {
		promptType = sql.NullString{String: *f.PromptType, Valid: true}
	}
	var cutoff sql.NullTime
	if f.MaxAge != nil {
		cutoff = sql.NullTime{Time: time.Now().Add(-*f.MaxAge), Valid: true}
	}
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT p.id
		FROM prompts p
		JOIN prompt_assignments a ON a.prompt_id = p.id
		WHERE ($1::text IS NULL OR a.prompt_set_id = $1)
			AND (cardinality($2::text[]) = 0 OR a.status = ANY($2))
			AND ($3::text IS NULL OR p.prompt_type = $3)
			AND ($4::timestamptz IS NULL OR p.created_at >= $4)`,
		setID, pq.Array(statuses), promptType, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate prompts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan prompt id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompt ids: %w", err)
	}
	return ids, nil
}

// promptRows is the hydrated row set for a group of prompts.
type promptRows struct {
	prompts     []*Prompt
	assignments map[string][]*Assignment // promptID -> assignments
	responses   map[string][]*Response   // promptID -> responses
	scores      map[string][]*Score      // responseID -> scores
	feedback    map[string]int           // promptID -> feedback count
}

// loadPromptRows hydrates prompts and their dependent rows in four
// queries regardless of population size.
func (r *PostgresRepository) loadPromptRows(ctx context.Context, ids []string) (*promptRows, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "prompts", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	out := &promptRows{
		assignments: make(map[string][]*Assignment),
		responses:   make(map[string][]*Response),
		scores:      make(map[string][]*Score),
		feedback:    make(map[string]int),
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, cid, sha256, question, prompt_type, tags, uploader_id, is_revealed, created_at
		FROM prompts
		WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p := &Prompt{}
		if err = rows.Scan(&p.ID, &p.CID, &p.SHA256, &p.Question, &p.PromptType,
			pq.Array(&p.Tags), &p.UploaderID, &p.IsRevealed, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		out.prompts = append(out.prompts, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompts: %w", err)
	}

	aRows, err := r.db.QueryContext(ctx, `
		SELECT prompt_id, prompt_set_id, status, created_at, updated_at
		FROM prompt_assignments
		WHERE prompt_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	defer aRows.Close()
	for aRows.Next() {
		a := &Assignment{}
		var status string
		if err = aRows.Scan(&a.PromptID, &a.PromptSetID, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.Status = access.AssignmentStatus(status)
		out.assignments[a.PromptID] = append(out.assignments[a.PromptID], a)
	}
	if err = aRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}

	var responseIDs []string
	rRows, err := r.db.QueryContext(ctx, `
		SELECT id, prompt_id, model_slug, run_id, answer, started_at, finished_at,
			input_tokens, output_tokens, cost_usd, created_at
		FROM responses
		WHERE prompt_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load responses: %w", err)
	}
	defer rRows.Close()
	for rRows.Next() {
		resp := &Response{}
		if err = rRows.Scan(&resp.ID, &resp.PromptID, &resp.ModelSlug, &resp.RunID,
			&resp.Answer, &resp.StartedAt, &resp.FinishedAt,
			&resp.InputTokens, &resp.OutputTokens, &resp.CostUSD, &resp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		out.responses[resp.PromptID] = append(out.responses[resp.PromptID], resp)
		responseIDs = append(responseIDs, resp.ID)
	}
	if err = rRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responses: %w", err)
	}

	if len(responseIDs) > 0 {
		sRows, err2 := r.db.QueryContext(ctx, `
			SELECT id, response_id, method, value, scorer_user_id, scorer_model_id, created_at
			FROM scores
			WHERE response_id = ANY($1)`, pq.Array(responseIDs))
		if err2 != nil {
			err = fmt.Errorf("failed to load scores: %w", err2)
			return nil, err
		}
		defer sRows.Close()
		for sRows.Next() {
			s := &Score{}
			var method string
			var scorerUser, scorerModel sql.NullString
			if err = sRows.Scan(&s.ID, &s.ResponseID, &method, &s.Value,
				&scorerUser, &scorerModel, &s.CreatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan score: %w", err)
			}
			s.Method = ScoreMethod(method)
			if scorerUser.Valid {
				s.ScorerUserID = &scorerUser.String
			}
			if scorerModel.Valid {
				s.ScorerModelID = &scorerModel.String
			}
			out.scores[s.ResponseID] = append(out.scores[s.ResponseID], s)
		}
		if err = sRows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate scores: %w", err)
		}
	}

	fRows, err := r.db.QueryContext(ctx, `
		SELECT prompt_id, COUNT(*)
		FROM quick_feedback
		WHERE prompt_id = ANY($1)
		GROUP BY prompt_id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback counts: %w", err)
	}
	defer fRows.Close()
	for fRows.Next() {
		var promptID string
		var count int
		if err = fRows.Scan(&promptID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan feedback count: %w", err)
		}
		out.feedback[promptID] = count
	}
	if err = fRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback counts: %w", err)
	}

	return out, nil
}

// filterVisible returns the assignments visible under the view, honoring
// the PromptSetID and status filters. Mirrors the in-memory repository's
// per-assignment visibility pass.
func filterVisible(assignments []*Assignment, view AccessView, f Filters) []*Assignment {
	var out []*Assignment
	for _, a := range assignments {
		if f.PromptSetID != nil && a.PromptSetID != *f.PromptSetID {
			continue
		}
		if len(f.Statuses) > 0 && !statusIn(a.Status, f.Statuses) {
			continue
		}
		if !view.visible(*a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// scoredByUser reports whether userID has a human-method score on any of
// the prompt's responses.
func scoredByUser(responses []*Response, scores map[string][]*Score, userID string) bool {
	if userID == "" {
		return false
	}
	for _, resp := range responses {
		for _, s := range scores[resp.ID] {
			if s.Method == MethodHuman && s.ScorerUserID != nil && *s.ScorerUserID == userID {
				return true
			}
		}
	}
	return false
}

// isForeignKeyViolation reports whether err is a Postgres foreign key
// violation, used to translate referential failures into domain errors.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
