package prompt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/promptarena/promptarena/internal/access"
)

// seedRepo builds a repository with one prompt per spec of the form
// {question, tags, status-per-set}. Returned IDs are indexed by question.
func seedRepo(t *testing.T) (*InMemoryRepository, map[string]string) {
	t.Helper()
	repo := NewInMemoryRepository()
	ctx := context.Background()

	ids := make(map[string]string)
	specs := []struct {
		question string
		tags     []string
		sets     map[string]access.AssignmentStatus
		age      time.Duration
	}{
		{"alpha", []string{"math", "logic"}, map[string]access.AssignmentStatus{"set-1": access.StatusIncluded}, time.Hour},
		{"bravo", []string{"code"}, map[string]access.AssignmentStatus{"set-1": access.StatusIncluded}, 48 * time.Hour},
		{"charlie", []string{"math"}, map[string]access.AssignmentStatus{"set-1": access.StatusExcluded}, 2 * time.Hour},
		{"delta", []string{"trivia"}, map[string]access.AssignmentStatus{"set-2": access.StatusIncluded}, 24 * time.Hour},
		{"echo", nil, map[string]access.AssignmentStatus{"set-1": access.StatusDraft}, time.Minute},
	}

	for _, s := range specs {
		p := &Prompt{
			Question:   s.question,
			SHA256:     HashContent(s.question),
			Tags:       s.tags,
			UploaderID: "uploader-1",
			IsRevealed: true,
			CreatedAt:  time.Now().Add(-s.age),
		}
		id, err := repo.CreatePrompt(ctx, p)
		if err != nil {
			t.Fatalf("CreatePrompt(%s): %v", s.question, err)
		}
		ids[s.question] = id

		for setID, status := range s.sets {
			if _, err := repo.UpsertAssignment(ctx, &Assignment{
				PromptID:    id,
				PromptSetID: setID,
				Status:      status,
			}); err != nil {
				t.Fatalf("UpsertAssignment(%s, %s): %v", s.question, setID, err)
			}
		}
	}
	return repo, ids
}

// memberView is an access view for a non-manager member of the given sets.
func memberView(userID string, setIDs ...string) AccessView {
	v := AccessView{Caller: access.Identity{UserID: userID}, Sets: make(map[string]SetAccess)}
	for _, id := range setIDs {
		v.Sets[id] = SetAccess{Role: access.RoleReviewer}
	}
	return v
}

// managerView is an access view for an owner of the given sets.
func managerView(userID string, setIDs ...string) AccessView {
	v := AccessView{Caller: access.Identity{UserID: userID}, Sets: make(map[string]SetAccess)}
	for _, id := range setIDs {
		v.Sets[id] = SetAccess{Role: access.RoleOwner, Manager: true}
	}
	return v
}

func questions(res *ListResult) []string {
	out := make([]string, len(res.Prompts))
	for i, p := range res.Prompts {
		out[i] = p.Question
	}
	return out
}

func TestCreatePrompt_DeduplicatesByHash(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	first, err := repo.CreatePrompt(ctx, &Prompt{Question: "same", SHA256: HashContent("same")})
	if err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}
	second, err := repo.CreatePrompt(ctx, &Prompt{Question: "same", SHA256: HashContent("same")})
	if err != nil {
		t.Fatalf("CreatePrompt duplicate: %v", err)
	}

	if first != second {
		t.Errorf("Expected duplicate hash to return existing ID %s, got %s", first, second)
	}
}

func TestUpsertAssignment_Idempotent(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	id, _ := repo.CreatePrompt(ctx, &Prompt{Question: "q"})

	a := &Assignment{PromptID: id, PromptSetID: "set-1", Status: access.StatusIncluded}

	res, err := repo.UpsertAssignment(ctx, a)
	if err != nil {
		t.Fatalf("UpsertAssignment: %v", err)
	}
	if !res.Inserted {
		t.Error("Expected first upsert to insert")
	}

	res, err = repo.UpsertAssignment(ctx, a)
	if err != nil {
		t.Fatalf("UpsertAssignment repeat: %v", err)
	}
	if res.Inserted || res.Updated {
		t.Errorf("Expected identical upsert to be a no-op, got %+v", res)
	}

	a.Status = access.StatusExcluded
	res, err = repo.UpsertAssignment(ctx, a)
	if err != nil {
		t.Fatalf("UpsertAssignment status change: %v", err)
	}
	if !res.Updated {
		t.Error("Expected status change to report Updated")
	}
}

func TestUpsertAssignment_UnknownPrompt(t *testing.T) {
	repo := NewInMemoryRepository()

	_, err := repo.UpsertAssignment(context.Background(), &Assignment{
		PromptID:    "missing",
		PromptSetID: "set-1",
		Status:      access.StatusIncluded,
	})
	if err != ErrPromptNotFound {
		t.Errorf("Expected ErrPromptNotFound, got %v", err)
	}
}

func TestList_ExcludedHiddenFromNonManagers(t *testing.T) {
	repo, ids := seedRepo(t)
	ctx := context.Background()

	res, err := repo.List(ctx, ListQuery{View: memberView("user-1", "set-1"), OrderBy: OrderQuestion})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, p := range res.Prompts {
		if p.ID == ids["charlie"] {
			t.Error("Expected excluded prompt to be omitted for non-manager")
		}
	}

	res, err = repo.List(ctx, ListQuery{View: managerView("owner-1", "set-1"), OrderBy: OrderQuestion})
	if err != nil {
		t.Fatalf("List as manager: %v", err)
	}
	found := false
	for _, p := range res.Prompts {
		if p.ID == ids["charlie"] {
			found = true
		}
	}
	if !found {
		t.Error("Expected manager to see excluded prompt")
	}
}

func TestList_SuperuserSeesEverything(t *testing.T) {
	repo, _ := seedRepo(t)

	view := AccessView{Caller: access.Identity{UserID: "root", Superuser: true}, Sets: map[string]SetAccess{}}
	res, err := repo.List(context.Background(), ListQuery{View: view, OrderBy: OrderQuestion})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 5 {
		t.Errorf("Expected superuser to see all 5 prompts, got %d", res.Total)
	}
}

func TestList_InvisibleSetOmittedSilently(t *testing.T) {
	repo, _ := seedRepo(t)

	// Member of set-1 only: delta (set-2) must be silently absent.
	res, err := repo.List(context.Background(), ListQuery{View: memberView("user-1", "set-1"), OrderBy: OrderQuestion})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, q := range questions(res) {
		if q == "delta" {
			t.Error("Expected prompt in invisible set to be omitted")
		}
	}
}

func TestList_Filters(t *testing.T) {
	repo, ids := seedRepo(t)
	ctx := context.Background()

	// Score alpha twice by model-a, once by model-b; bravo once by model-a.
	addScore := func(promptID, model string, value float64, scorer string) {
		t.Helper()
		resp := &Response{PromptID: promptID, ModelSlug: model}
		if err := repo.CreateResponse(ctx, resp); err != nil {
			t.Fatalf("CreateResponse: %v", err)
		}
		s := &Score{ResponseID: resp.ID, Method: MethodHuman, Value: value}
		if scorer != "" {
			s.ScorerUserID = &scorer
		}
		if err := repo.CreateScore(ctx, s); err != nil {
			t.Fatalf("CreateScore: %v", err)
		}
	}
	addScore(ids["alpha"], "model-a", 0.9, "user-1")
	addScore(ids["alpha"], "model-a", 0.8, "")
	addScore(ids["alpha"], "model-b", 0.2, "")
	addScore(ids["bravo"], "model-a", 0.5, "")

	view := memberView("user-1", "set-1")

	intp := func(v int) *int { return &v }
	floatp := func(v float64) *float64 { return &v }
	boolp := func(v bool) *bool { return &v }
	strp := func(v string) *string { return &v }
	durp := func(v time.Duration) *time.Duration { return &v }

	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{"tags any-of", Filters{Tags: []string{"logic", "code"}}, []string{"alpha", "bravo"}},
		{"min score count", Filters{MinScoreCount: intp(2)}, []string{"alpha"}},
		{"max score count", Filters{MaxScoreCount: intp(0)}, []string{"echo"}},
		{"avg score window", Filters{MinAvgScore: floatp(0.4), MaxAvgScore: floatp(0.6)}, []string{"bravo"}},
		{"scored by all models", Filters{ScoredByModels: []string{"model-a", "model-b"}}, []string{"alpha"}},
		{"scored by one model", Filters{ScoredByModels: []string{"model-a"}}, []string{"alpha", "bravo"}},
		{"reviewed by caller", Filters{ReviewedByCaller: boolp(true)}, []string{"alpha"}},
		{"not reviewed by caller", Filters{ReviewedByCaller: boolp(false)}, []string{"bravo", "echo"}},
		{"max age", Filters{MaxAge: durp(3 * time.Hour)}, []string{"alpha", "echo"}},
		{"status draft only", Filters{Statuses: []access.AssignmentStatus{access.StatusDraft}}, []string{"echo"}},
		{"set filter", Filters{PromptSetID: strp("set-1")}, []string{"alpha", "bravo", "echo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, ListQuery{View: view, Filters: tt.filters, OrderBy: OrderQuestion})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got := questions(res)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestList_Enrichment(t *testing.T) {
	repo, ids := seedRepo(t)
	ctx := context.Background()

	resp := &Response{
		PromptID:   ids["alpha"],
		ModelSlug:  "model-a",
		StartedAt:  time.Now(),
		FinishedAt: time.Now().Add(250 * time.Millisecond),
	}
	if err := repo.CreateResponse(ctx, resp); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	for _, v := range []float64{0.9, 0.75, 0.2, 0.5} {
		if err := repo.CreateScore(ctx, &Score{ResponseID: resp.ID, Method: MethodAI, Value: v}); err != nil {
			t.Fatalf("CreateScore(%v): %v", v, err)
		}
	}
	if err := repo.AddQuickFeedback(ctx, &QuickFeedback{PromptID: ids["alpha"], UserID: "user-2", Positive: true}); err != nil {
		t.Fatalf("AddQuickFeedback: %v", err)
	}

	e, err := repo.GetEnriched(ctx, memberView("user-1", "set-1"), ids["alpha"])
	if err != nil {
		t.Fatalf("GetEnriched: %v", err)
	}

	if e.ScoreCount != 4 {
		t.Errorf("Expected 4 scores, got %d", e.ScoreCount)
	}
	if e.GoodScoreCount != 2 {
		t.Errorf("Expected 2 good scores, got %d", e.GoodScoreCount)
	}
	if e.BadScoreCount != 1 {
		t.Errorf("Expected 1 bad score, got %d", e.BadScoreCount)
	}
	wantAvg := (0.9 + 0.75 + 0.2 + 0.5) / 4
	if diff := e.AvgScore - wantAvg; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected avg %f, got %f", wantAvg, e.AvgScore)
	}
	if e.QuickFeedbackCount != 1 {
		t.Errorf("Expected 1 quick feedback, got %d", e.QuickFeedbackCount)
	}
	if len(e.ModelStats) != 1 || e.ModelStats[0].ModelSlug != "model-a" {
		t.Fatalf("Expected model stats for model-a, got %+v", e.ModelStats)
	}
	if e.ModelStats[0].AvgLatencyMS < 249 || e.ModelStats[0].AvgLatencyMS > 251 {
		t.Errorf("Expected avg latency near 250ms, got %f", e.ModelStats[0].AvgLatencyMS)
	}
}

func TestCreateScore_RejectsOutOfRange(t *testing.T) {
	repo, ids := seedRepo(t)
	ctx := context.Background()

	resp := &Response{PromptID: ids["alpha"], ModelSlug: "model-a"}
	if err := repo.CreateResponse(ctx, resp); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	for _, v := range []float64{-0.1, 1.1} {
		err := repo.CreateScore(ctx, &Score{ResponseID: resp.ID, Method: MethodAI, Value: v})
		if err == nil {
			t.Errorf("Expected error for score value %v", v)
		}
	}
}

func TestList_Ordering(t *testing.T) {
	repo, _ := seedRepo(t)
	ctx := context.Background()
	view := managerView("owner-1", "set-1", "set-2")

	t.Run("question ascending", func(t *testing.T) {
		res, err := repo.List(ctx, ListQuery{View: view, OrderBy: OrderQuestion})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		got := questions(res)
		want := []string{"alpha", "bravo", "charlie", "delta", "echo"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Expected %v, got %v", want, got)
			}
		}
	})

	t.Run("created at newest first", func(t *testing.T) {
		res, err := repo.List(ctx, ListQuery{View: view, OrderBy: OrderCreatedAt})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		got := questions(res)
		// Ages: echo 1m, alpha 1h, charlie 2h, delta 24h, bravo 48h.
		want := []string{"echo", "alpha", "charlie", "delta", "bravo"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Expected %v, got %v", want, got)
			}
		}
	})

	t.Run("random is seed deterministic", func(t *testing.T) {
		a, err := repo.List(ctx, ListQuery{View: view, OrderBy: OrderRandom, Seed: 42})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		b, err := repo.List(ctx, ListQuery{View: view, OrderBy: OrderRandom, Seed: 42})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		qa, qb := questions(a), questions(b)
		for i := range qa {
			if qa[i] != qb[i] {
				t.Fatalf("Expected identical order for same seed, got %v vs %v", qa, qb)
			}
		}
	})
}

func TestList_FeedbackPriorityBuckets(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	// One prompt per review count 0..3.
	reviewCounts := []int{0, 1, 2, 3}
	idByReviews := make(map[string]int)
	for _, n := range reviewCounts {
		id, err := repo.CreatePrompt(ctx, &Prompt{Question: fmt.Sprintf("%d-reviews", n)})
		if err != nil {
			t.Fatalf("CreatePrompt: %v", err)
		}
		if _, err := repo.UpsertAssignment(ctx, &Assignment{PromptID: id, PromptSetID: "set-1", Status: access.StatusIncluded}); err != nil {
			t.Fatalf("UpsertAssignment: %v", err)
		}
		resp := &Response{PromptID: id, ModelSlug: "model-a"}
		if err := repo.CreateResponse(ctx, resp); err != nil {
			t.Fatalf("CreateResponse: %v", err)
		}
		for i := 0; i < n; i++ {
			scorer := fmt.Sprintf("scorer-%d", i)
			if err := repo.CreateScore(ctx, &Score{ResponseID: resp.ID, Method: MethodHuman, Value: 0.5, ScorerUserID: &scorer}); err != nil {
				t.Fatalf("CreateScore: %v", err)
			}
		}
		idByReviews[id] = n
	}

	res, err := repo.List(ctx, ListQuery{
		View:    memberView("user-1", "set-1"),
		OrderBy: OrderFeedbackPriority,
		Seed:    7,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Prompts) != 4 {
		t.Fatalf("Expected 4 prompts, got %d", len(res.Prompts))
	}

	wantReviews := []int{2, 1, 0, 3}
	for i, p := range res.Prompts {
		if p.ReviewCount != wantReviews[i] {
			t.Errorf("Position %d: expected %d reviews, got %d", i, wantReviews[i], p.ReviewCount)
		}
	}
}

func TestList_Pagination(t *testing.T) {
	repo, _ := seedRepo(t)
	ctx := context.Background()
	view := managerView("owner-1", "set-1", "set-2")

	seen := make(map[string]bool)
	for offset := 0; ; offset += 2 {
		res, err := repo.List(ctx, ListQuery{View: view, OrderBy: OrderQuestion, Limit: 2, Offset: offset})
		if err != nil {
			t.Fatalf("List offset %d: %v", offset, err)
		}
		if res.Total != 5 {
			t.Errorf("Expected total 5, got %d", res.Total)
		}
		if len(res.Prompts) == 0 {
			break
		}
		for _, p := range res.Prompts {
			if seen[p.ID] {
				t.Errorf("Prompt %s returned twice across pages", p.ID)
			}
			seen[p.ID] = true
		}
	}
	if len(seen) != 5 {
		t.Errorf("Expected 5 distinct prompts across pages, got %d", len(seen))
	}
}
