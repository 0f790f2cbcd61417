package prompt

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptarena/promptarena/internal/access"
)

// Filters is the fully-enumerated filter configuration for prompt queries.
// Nil fields are ignored; the query layer translates non-nil fields into
// predicates so the aggregation logic stays free of query construction.
type Filters struct {
	// PromptSetID restricts results to a single prompt set.
	PromptSetID *string

	// Tags matches prompts carrying at least one of the listed tags.
	Tags []string

	// PromptType matches the prompt's type exactly.
	PromptType *string

	// MinScoreCount / MaxScoreCount bound the total score count.
	MinScoreCount *int
	MaxScoreCount *int

	// MinAvgScore / MaxAvgScore bound the unweighted average score.
	MinAvgScore *float64
	MaxAvgScore *float64

	// ScoredByModels requires a score from every listed model slug
	// (AND semantics).
	ScoredByModels []string

	// ReviewedByCaller selects prompts the caller has (true) or has not
	// (false) reviewed with a human-method score.
	ReviewedByCaller *bool

	// MaxAge excludes prompts created more than this long ago.
	MaxAge *time.Duration

	// Statuses restricts to the listed assignment statuses. Empty means
	// any status the caller may see.
	Statuses []access.AssignmentStatus
}

// OrderKey selects result ordering for prompt queries.
type OrderKey string

// Ordering keys.
const (
	OrderCreatedAt OrderKey = "createdAt"
	OrderQuestion  OrderKey = "question"
	OrderRandom    OrderKey = "random"

	// OrderFeedbackPriority buckets prompts by review count so reviewer
	// attention is biased toward prompts close to quorum: 2 prior reviews
	// first, then 1, then 0, then 3 or more, random within each bucket.
	OrderFeedbackPriority OrderKey = "feedbackPriority"
)

// SetAccess is the caller's resolved standing on one visible prompt set.
type SetAccess struct {
	Role    access.Role
	Manager bool // owner/admin: may see excluded prompts and manage status
}

// AccessView is the caller's precomputed visibility over prompt sets.
// Query implementations consult it instead of re-resolving access per row;
// prompts whose every assignment falls outside the view are silently
// omitted rather than erroring the query.
type AccessView struct {
	Caller access.Identity
	Sets   map[string]SetAccess
}

// visible reports whether an assignment row is visible under the view.
func (v AccessView) visible(a Assignment) bool {
	if v.Caller.Superuser {
		return true
	}
	sa, ok := v.Sets[a.PromptSetID]
	if !ok {
		return false
	}
	if a.Status == access.StatusExcluded && !sa.Manager {
		return false
	}
	return true
}

// ListQuery bundles everything a repository needs to produce one page of
// enriched prompts.
type ListQuery struct {
	View    AccessView
	Filters Filters
	OrderBy OrderKey
	Limit   int
	Offset  int

	// Seed drives random ordering and feedback-priority tie-breaks.
	// A zero seed falls back to the current time, which matches the
	// "uniform shuffle per request, not stable across calls" contract.
	Seed int64
}

// ListResult is one page of enriched prompts plus the total match count.
type ListResult struct {
	Prompts []*EnrichedPrompt
	Total   int
}

// ResponseWithScores pairs a response with its scores for aggregation.
type ResponseWithScores struct {
	Response Response
	Scores   []Score
}

// ScoredPrompt is the aggregation input: one visible, filtered prompt with
// every response and score attached.
type ScoredPrompt struct {
	Prompt    Prompt
	Responses []ResponseWithScores

	// PromptSetIDs lists the sets whose visible assignments surfaced the
	// prompt, for per-set quality rollups.
	PromptSetIDs []string
}

// UpsertResult tracks the outcome of an assignment upsert.
type UpsertResult struct {
	Inserted bool   // true if a new assignment row was created
	Updated  bool   // true if an existing row's status changed
	PromptID string // the prompt the row belongs to
}

// Repository defines the data operations for prompts, responses, scores,
// and prompt-set assignments.
type Repository interface {
	// CreatePrompt stores a new prompt. The SHA256 field deduplicates
	// content: creating a prompt whose hash already exists returns the
	// existing prompt's ID without inserting.
	CreatePrompt(ctx context.Context, p *Prompt) (string, error)

	// GetPrompt retrieves a prompt by ID.
	GetPrompt(ctx context.Context, id string) (*Prompt, error)

	// UpsertAssignment inserts an assignment or updates its status.
	// Re-running with an identical status is a no-op (idempotent).
	UpsertAssignment(ctx context.Context, a *Assignment) (*UpsertResult, error)

	// GetAssignment retrieves the assignment of a prompt in a set.
	GetAssignment(ctx context.Context, promptID, promptSetID string) (*Assignment, error)

	// CreateResponse stores a model response.
	CreateResponse(ctx context.Context, r *Response) error

	// CreateScore stores a score after validating its value range.
	CreateScore(ctx context.Context, s *Score) error

	// AddQuickFeedback records a lightweight feedback signal.
	AddQuickFeedback(ctx context.Context, f *QuickFeedback) error

	// List returns one page of enriched prompts under the query's access
	// view, filters, and ordering.
	List(ctx context.Context, q ListQuery) (*ListResult, error)

	// GetEnriched returns one enriched prompt under the access view.
	// A prompt with no visible assignment returns ErrPromptNotFound, so
	// invisible and missing prompts are indistinguishable to callers.
	GetEnriched(ctx context.Context, view AccessView, id string) (*EnrichedPrompt, error)

	// CollectScored returns every filtered, visible prompt with responses
	// and scores attached, for leaderboard aggregation. No pagination:
	// the aggregator needs the full filtered population to compute
	// coverage denominators.
	CollectScored(ctx context.Context, view AccessView, f Filters) ([]*ScoredPrompt, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu          sync.RWMutex
	prompts     map[string]*Prompt              // promptID -> prompt
	byHash      map[string]string               // sha256 -> promptID
	assignments map[string]map[string]*Assignment // promptID -> setID -> assignment
	responses   map[string][]*Response          // promptID -> responses
	scores      map[string][]*Score             // responseID -> scores
	feedback    map[string][]*QuickFeedback     // promptID -> feedback
	respPrompt  map[string]string               // responseID -> promptID
}

// NewInMemoryRepository creates a new in-memory prompt repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		prompts:     make(map[string]*Prompt),
		byHash:      make(map[string]string),
		assignments: make(map[string]map[string]*Assignment),
		responses:   make(map[string][]*Response),
		scores:      make(map[string][]*Score),
		feedback:    make(map[string][]*QuickFeedback),
		respPrompt:  make(map[string]string),
	}
}

// CreatePrompt stores a new prompt, deduplicating by content hash.
func (r *InMemoryRepository) CreatePrompt(ctx context.Context, p *Prompt) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.SHA256 != "" {
		if existingID, ok := r.byHash[p.SHA256]; ok {
			return existingID, nil
		}
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	promptCopy := *p
	r.prompts[p.ID] = &promptCopy
	if p.SHA256 != "" {
		r.byHash[p.SHA256] = p.ID
	}
	return p.ID, nil
}

// GetPrompt retrieves a prompt by ID.
func (r *InMemoryRepository) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prompts[id]
	if !ok {
		return nil, ErrPromptNotFound
	}
	promptCopy := *p
	return &promptCopy, nil
}

// UpsertAssignment inserts an assignment or updates its status.
func (r *InMemoryRepository) UpsertAssignment(ctx context.Context, a *Assignment) (*UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.prompts[a.PromptID]; !ok {
		return nil, ErrPromptNotFound
	}

	now := time.Now()
	if r.assignments[a.PromptID] == nil {
		r.assignments[a.PromptID] = make(map[string]*Assignment)
	}

	existing, ok := r.assignments[a.PromptID][a.PromptSetID]
	if !ok {
		aCopy := *a
		aCopy.CreatedAt = now
		aCopy.UpdatedAt = now
		r.assignments[a.PromptID][a.PromptSetID] = &aCopy
		return &UpsertResult{Inserted: true, PromptID: a.PromptID}, nil
	}

	if existing.Status == a.Status {
		// Idempotent no-op: converged already.
		return &UpsertResult{PromptID: a.PromptID}, nil
	}

	existing.Status = a.Status
	existing.UpdatedAt = now
	return &UpsertResult{Updated: true, PromptID: a.PromptID}, nil
}

// GetAssignment retrieves the assignment of a prompt in a set.
func (r *InMemoryRepository) GetAssignment(ctx context.Context, promptID, promptSetID string) (*Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[promptID][promptSetID]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	aCopy := *a
	return &aCopy, nil
}

// CreateResponse stores a model response.
func (r *InMemoryRepository) CreateResponse(ctx context.Context, resp *Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.prompts[resp.PromptID]; !ok {
		return ErrPromptNotFound
	}

	if resp.ID == "" {
		resp.ID = uuid.New().String()
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}

	respCopy := *resp
	r.responses[resp.PromptID] = append(r.responses[resp.PromptID], &respCopy)
	r.respPrompt[resp.ID] = resp.PromptID
	return nil
}

// CreateScore stores a score after validating its value range.
func (r *InMemoryRepository) CreateScore(ctx context.Context, s *Score) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.respPrompt[s.ResponseID]; !ok {
		return ErrResponseNotFound
	}

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	sCopy := *s
	r.scores[s.ResponseID] = append(r.scores[s.ResponseID], &sCopy)
	return nil
}

// AddQuickFeedback records a lightweight feedback signal.
func (r *InMemoryRepository) AddQuickFeedback(ctx context.Context, f *QuickFeedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.prompts[f.PromptID]; !ok {
		return ErrPromptNotFound
	}

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	fCopy := *f
	r.feedback[f.PromptID] = append(r.feedback[f.PromptID], &fCopy)
	return nil
}

// candidate is a prompt that survived visibility and filter checks, with
// its visible assignments and precomputed aggregates.
type candidate struct {
	prompt      *Prompt
	assignments []*Assignment
	enriched    *EnrichedPrompt
}

// List returns one page of enriched prompts.
func (r *InMemoryRepository) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	r.mu.RLock()
	candidates := r.collectCandidates(q.View, q.Filters)
	r.mu.RUnlock()

	seed := q.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	orderCandidates(candidates, q.OrderBy, seed)

	total := len(candidates)

	// Apply offset/limit window.
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
func (r *InMemoryRepository) GetEnriched(ctx context.Context, view AccessView, id string) (*EnrichedPrompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prompts[id]
	if !ok {
		return nil, ErrPromptNotFound
	}
	visible := r.visibleAssignments(id, view, Filters{})
	if len(visible) == 0 {
		return nil, ErrPromptNotFound
	}
	return r.enrich(p, visible), nil
}

// CollectScored returns the full filtered population with responses and
// scores attached.
func (r *InMemoryRepository) CollectScored(ctx context.Context, view AccessView, f Filters) ([]*ScoredPrompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.collectCandidates(view, f)

	result := make([]*ScoredPrompt, 0, len(candidates))
	for _, c := range candidates {
		sp := &ScoredPrompt{Prompt: *c.prompt}
		for _, a := range c.assignments {
			sp.PromptSetIDs = append(sp.PromptSetIDs, a.PromptSetID)
		}
		sort.Strings(sp.PromptSetIDs)
		for _, resp := range r.responses[c.prompt.ID] {
			rws := ResponseWithScores{Response: *resp}
			for _, s := range r.scores[resp.ID] {
				rws.Scores = append(rws.Scores, *s)
			}
			sp.Responses = append(sp.Responses, rws)
		}
		result = append(result, sp)
	}
	return result, nil
}

// collectCandidates applies visibility and filters. Caller must hold at
// least a read lock.
func (r *InMemoryRepository) collectCandidates(view AccessView, f Filters) []*candidate {
	var out []*candidate

	now := time.Now()
	for _, p := range r.prompts {
		visible := r.visibleAssignments(p.ID, view, f)
		if len(visible) == 0 {
			continue
		}

		if !matchesPromptFields(p, f, now) {
			continue
		}

		e := r.enrich(p, visible)
		if !matchesAggregates(e, f, view.Caller.UserID, r.scoresByUser(p.ID, view.Caller.UserID)) {
			continue
		}

		out = append(out, &candidate{prompt: p, assignments: visible, enriched: e})
	}
	return out
}

// visibleAssignments returns the prompt's assignments visible under the
// view, honoring the PromptSetID and status filters.
func (r *InMemoryRepository) visibleAssignments(promptID string, view AccessView, f Filters) []*Assignment {
	var out []*Assignment
	for _, a := range r.assignments[promptID] {
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

// matchesPromptFields applies the prompt-level (non-aggregate) filters.
func matchesPromptFields(p *Prompt, f Filters, now time.Time) bool {
	if f.PromptType != nil && p.PromptType != *f.PromptType {
		return false
	}
	if f.MaxAge != nil && now.Sub(p.CreatedAt) > *f.MaxAge {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range p.Tags {
				if strings.EqualFold(want, have) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchesAggregates applies the score-derived filters to an enriched prompt.
func matchesAggregates(e *EnrichedPrompt, f Filters, callerID string, callerScored bool) bool {
	if f.MinScoreCount != nil && e.ScoreCount < *f.MinScoreCount {
		return false
	}
	if f.MaxScoreCount != nil && e.ScoreCount > *f.MaxScoreCount {
		return false
	}
	if f.MinAvgScore != nil && (e.ScoreCount == 0 || e.AvgScore < *f.MinAvgScore) {
		return false
	}
	if f.MaxAvgScore != nil && (e.ScoreCount == 0 || e.AvgScore > *f.MaxAvgScore) {
		return false
	}
	if len(f.ScoredByModels) > 0 {
		have := make(map[string]bool, len(e.ModelStats))
		for _, ms := range e.ModelStats {
			if ms.ScoreCount > 0 {
				have[ms.ModelSlug] = true
			}
		}
		for _, slug := range f.ScoredByModels {
			if !have[slug] {
				return false
			}
		}
	}
	if f.ReviewedByCaller != nil {
		if callerID == "" {
			// Anonymous callers have reviewed nothing.
			if *f.ReviewedByCaller {
				return false
			}
		} else if callerScored != *f.ReviewedByCaller {
			return false
		}
	}
	return true
}

// scoresByUser reports whether userID has a human-method score on any
// response of the prompt. Caller must hold at least a read lock.
func (r *InMemoryRepository) scoresByUser(promptID, userID string) bool {
	if userID == "" {
		return false
	}
	for _, resp := range r.responses[promptID] {
		for _, s := range r.scores[resp.ID] {
			if s.Method == MethodHuman && s.ScorerUserID != nil && *s.ScorerUserID == userID {
				return true
			}
		}
	}
	return false
}

// enrich builds the EnrichedPrompt aggregates for a prompt. Caller must
// hold at least a read lock.
func (r *InMemoryRepository) enrich(p *Prompt, visible []*Assignment) *EnrichedPrompt {
	return enrichPrompt(p, visible, r.responses[p.ID], r.scores, len(r.feedback[p.ID]))
}

// enrichPrompt computes the per-prompt aggregates from raw rows. Shared by
// every repository implementation so aggregate semantics cannot drift.
// Capability flags on Sets are left false; the query service fills them
// from the access view.
func enrichPrompt(p *Prompt, visible []*Assignment, responses []*Response, scores map[string][]*Score, feedbackCount int) *EnrichedPrompt {
	e := &EnrichedPrompt{Prompt: *p}

	type modelAgg struct {
		scoreSum   float64
		scoreCount int
		latencySum float64
		respCount  int
	}
	models := make(map[string]*modelAgg)

	var scoreSum float64
	for _, resp := range responses {
		agg := models[resp.ModelSlug]
		if agg == nil {
			agg = &modelAgg{}
			models[resp.ModelSlug] = agg
		}
		agg.latencySum += resp.LatencyMS()
		agg.respCount++

		for _, s := range scores[resp.ID] {
			e.ScoreCount++
			scoreSum += s.Value
			agg.scoreSum += s.Value
			agg.scoreCount++

			if s.Value >= GoodScoreThreshold {
				e.GoodScoreCount++
			}
			if s.Value <= BadScoreThreshold {
				e.BadScoreCount++
			}
			if s.Method == MethodHuman {
				e.ReviewCount++
			}
		}
	}

	if e.ScoreCount > 0 {
		e.AvgScore = scoreSum / float64(e.ScoreCount)
	}
	e.QuickFeedbackCount = feedbackCount

	slugs := make([]string, 0, len(models))
	for slug := range models {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	for _, slug := range slugs {
		agg := models[slug]
		ms := ModelStat{ModelSlug: slug, ScoreCount: agg.scoreCount}
		if agg.scoreCount > 0 {
			ms.AvgScore = agg.scoreSum / float64(agg.scoreCount)
		}
		if agg.respCount > 0 {
			ms.AvgLatencyMS = agg.latencySum / float64(agg.respCount)
		}
		e.ModelStats = append(e.ModelStats, ms)
	}

	for _, a := range visible {
		e.Sets = append(e.Sets, SetMembershipInfo{
			PromptSetID: a.PromptSetID,
			Status:      a.Status,
		})
	}
	sort.Slice(e.Sets, func(i, j int) bool { return e.Sets[i].PromptSetID < e.Sets[j].PromptSetID })

	return e
}

// statusIn reports whether s is in the list.
func statusIn(s access.AssignmentStatus, list []access.AssignmentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// feedbackBucket maps a review count to its priority bucket: prompts with
// exactly 2 prior reviews rank highest, then 1, then 0, then 3 or more.
func feedbackBucket(reviewCount int) int {
	switch reviewCount {
	case 2:
		return 0
	case 1:
		return 1
	case 0:
		return 2
	default:
		return 3
	}
}

// orderCandidates sorts candidates in place by the requested key.
func orderCandidates(candidates []*candidate, key OrderKey, seed int64) {
	rng := rand.New(rand.NewSource(seed))

	switch key {
	case OrderQuestion:
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.prompt.Question != b.prompt.Question {
				return a.prompt.Question < b.prompt.Question
			}
			return a.prompt.ID < b.prompt.ID
		})
	case OrderRandom:
		// Stable pre-sort so the shuffle is uniform over a deterministic
		// base ordering regardless of map iteration order.
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].prompt.ID < candidates[j].prompt.ID })
		rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	case OrderFeedbackPriority:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].prompt.ID < candidates[j].prompt.ID })
		rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		// Stable sort preserves the shuffled order inside each bucket.
		sort.SliceStable(candidates, func(i, j int) bool {
			return feedbackBucket(candidates[i].enriched.ReviewCount) < feedbackBucket(candidates[j].enriched.ReviewCount)
		})
	default: // OrderCreatedAt
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if !a.prompt.CreatedAt.Equal(b.prompt.CreatedAt) {
				return a.prompt.CreatedAt.After(b.prompt.CreatedAt)
			}
			return a.prompt.ID < b.prompt.ID
		})
	}
}
