package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/elo"
	"github.com/promptarena/promptarena/internal/leaderboard"
	"github.com/promptarena/promptarena/internal/prompt"
	"github.com/promptarena/promptarena/internal/tracing"
)

// PromptSource provides the scored prompt population for a ranking cycle.
type PromptSource interface {
	CollectScored(ctx context.Context, view prompt.AccessView, f prompt.Filters) ([]*prompt.ScoredPrompt, error)
}

// JobMetrics provides centralized background job metrics tracking.
// This interface allows the job to report to the centralized job metrics system.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// RecomputeJobConfig configures the ranking recompute job.
type RecomputeJobConfig struct {
	// Interval is the duration between recompute cycles.
	Interval time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for performance tracking.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
	// Timeout for each recompute cycle.
	Timeout time.Duration
	// Calibration holds the cycle's tunable parameters.
	// Nil uses DefaultCalibration.
	Calibration *Calibration
}

// DefaultRecomputeInterval is the default interval between recompute cycles.
const DefaultRecomputeInterval = 5 * time.Minute

// DefaultRecomputeTimeout is the default timeout for a single recompute cycle.
const DefaultRecomputeTimeout = 2 * time.Minute

const jobTypeRankingRecompute = "ranking_recompute"

// RecomputeJob periodically rebuilds the full ranking snapshot: reviewer
// trust, prompt and benchmark quality, contributor scores, weighted model
// performance, and Elo standings. Exactly one cycle runs at a time; each
// cycle reads the whole scored population and commits a new snapshot
// atomically, so readers switch between complete computations and never
// see a half-written one.
type RecomputeJob struct {
	config RecomputeJobConfig
	source PromptSource
	store  SnapshotStore

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecomputeJob creates a new ranking recompute job.
func NewRecomputeJob(config RecomputeJobConfig, source PromptSource, store SnapshotStore) *RecomputeJob {
	if config.Interval == 0 {
		config.Interval = DefaultRecomputeInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultRecomputeTimeout
	}
	if config.Calibration == nil {
		config.Calibration = DefaultCalibration()
	}

	return &RecomputeJob{
		config: config,
		source: source,
		store:  store,
	}
}

// Start begins the periodic recompute job.
// Returns immediately; the job runs in a background goroutine.
func (j *RecomputeJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the recompute job to stop and waits for it to finish.
func (j *RecomputeJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *RecomputeJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// run is the main loop for the recompute job.
func (j *RecomputeJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("ranking recompute job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("ranking recompute job stopping due to stop signal")
			return
		case <-ticker.C:
			if err := j.recompute(ctx); err != nil {
				j.config.Logger.Error("ranking recompute cycle failed", "error", err)
			}
		}
	}
}

// RecomputeNow immediately runs a single recompute cycle without waiting
// for the ticker. This is useful for testing or forcing immediate updates.
func (j *RecomputeJob) RecomputeNow(ctx context.Context) error {
	return j.recompute(ctx)
}

// recompute runs one full ranking cycle and commits the snapshot.
func (j *RecomputeJob) recompute(parentCtx context.Context) (err error) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	ctx, finishSpan := tracing.StartSpan(ctx, "ranking_recompute")
	defer func() { finishSpan(err) }()

	startTime := time.Now()
	cal := j.config.Calibration

	snap, err := j.buildSnapshot(ctx, cal)
	if err == nil {
		err = j.store.SaveSnapshot(ctx, snap)
	}

	duration := time.Since(startTime).Seconds()
	if j.config.Metrics != nil {
		j.config.Metrics.IncRecomputeTotal()
		j.config.Metrics.ObserveRecomputeDuration(duration)
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.ObserveJobDuration(jobTypeRankingRecompute, duration)
	}

	if err != nil {
		if j.config.Metrics != nil {
			j.config.Metrics.IncRecomputeErrors()
		}
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(jobTypeRankingRecompute, "failure")
			j.config.JobMetrics.IncJobErrors(jobTypeRankingRecompute, errorType(ctx))
		}
		return err
	}

	if j.config.Metrics != nil {
		j.config.Metrics.SetLastRecomputeTimestamp(float64(time.Now().Unix()))
		j.config.Metrics.SetLastPromptCount(float64(snap.Computation.PromptCount))
		j.config.Metrics.SetLastModelCount(float64(snap.Computation.ModelCount))
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobTypeRankingRecompute, "success")
	}
	tracing.SetAttributes(ctx,
		attribute.String("computation_id", snap.Computation.ID),
		attribute.Int("prompt_count", snap.Computation.PromptCount),
		attribute.Int("model_count", snap.Computation.ModelCount),
	)

	j.config.Logger.Info("ranking recompute completed",
		"computation_id", snap.Computation.ID,
		"duration_seconds", duration,
		"prompts", snap.Computation.PromptCount,
		"scores", snap.Computation.ScoreCount,
		"models", snap.Computation.ModelCount)
	return nil
}

// buildSnapshot assembles a complete snapshot from the current population.
func (j *RecomputeJob) buildSnapshot(ctx context.Context, cal *Calibration) (*Snapshot, error) {
	// The batch view bypasses per-set membership: excluded and draft
	// prompts are still filtered out below, but visibility does not
	// depend on any one caller's sets.
	view := prompt.AccessView{Caller: access.Identity{UserID: "ranking-job", Superuser: true}}

	filters := prompt.Filters{Statuses: []access.AssignmentStatus{access.StatusIncluded}}
	population, err := j.source.CollectScored(ctx, view, filters)
	if err != nil {
		return nil, fmt.Errorf("collect scored prompts: %w", err)
	}

	computationID := uuid.New().String()

	reviewerTrust := ComputeReviewerTrust(population, cal.AgreementTolerance)
	promptQuality := ComputePromptQuality(population)
	benchmarkQuality := ComputeBenchmarkQuality(population, promptQuality)
	contributors := ComputeContributorScores(population, promptQuality)

	trust := make(map[string]float64, len(contributors))
	for _, c := range contributors {
		trust[c.UserID] = c.Score
	}

	entries := leaderboard.Compute(leaderboard.Input{
		Prompts: population,
		Trust:   trust,
	}, &cal.Weighting)

	standings, err := j.runElo(ctx, cal, population)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	snap := &Snapshot{
		Computation: Computation{
			ID:          computationID,
			ComputedAt:  now,
			PromptCount: len(population),
			ScoreCount:  countScores(population),
			ModelCount:  len(entries),
		},
	}

	for _, rt := range reviewerTrust {
		rt.ComputationID = computationID
		snap.ReviewerTrust = append(snap.ReviewerTrust, rt)
	}
	for _, pq := range promptQuality {
		pq.ComputationID = computationID
		snap.PromptQuality = append(snap.PromptQuality, pq)
	}
	for _, bq := range benchmarkQuality {
		bq.ComputationID = computationID
		snap.BenchmarkQuality = append(snap.BenchmarkQuality, bq)
	}
	for _, c := range contributors {
		c.ComputationID = computationID
		snap.ContributorScores = append(snap.ContributorScores, c)
	}
	for _, e := range entries {
		snap.ModelPerformance = append(snap.ModelPerformance, ModelPerformance{
			ComputationID:    computationID,
			ModelSlug:        e.ModelSlug,
			WeightedAvgScore: e.WeightedAvgScore,
			AvgScore:         e.AvgScore,
			ScoreCount:       e.ScoreCount,
			PromptsScored:    e.PromptsScored,
			Coverage:         e.Coverage,
			AvgLatencyMS:     e.AvgLatencyMS,
		})
	}
	for _, r := range standings {
		snap.ModelElo = append(snap.ModelElo, ModelElo{
			ComputationID: computationID,
			ModelSlug:     r.ModelSlug,
			EloScore:      r.Rating,
			WinCount:      r.Wins,
			LossCount:     r.Losses,
			DrawCount:     r.Draws,
			MatchCount:    r.Matches,
		})
	}

	return snap, nil
}

// runElo replays the cycle's pairwise matches through a fresh Elo engine,
// seeded from the previous computation when carryover is enabled.
func (j *RecomputeJob) runElo(ctx context.Context, cal *Calibration, population []*prompt.ScoredPrompt) ([]elo.Rating, error) {
	engine := elo.NewEngine(cal.EloK)

	if cal.EloCarryover {
		prev, err := j.store.CurrentComputation(ctx)
		switch {
		case err == nil:
			rows, err := j.store.ModelEloFor(ctx, prev.ID)
			if err != nil {
				return nil, fmt.Errorf("load previous elo ratings: %w", err)
			}
			seed := make([]elo.Rating, 0, len(rows))
			for _, row := range rows {
				seed = append(seed, elo.Rating{ModelSlug: row.ModelSlug, Rating: row.EloScore})
			}
			engine.Seed(seed)
		case errors.Is(err, ErrNoComputation):
			// First cycle: nothing to carry over.
		default:
			return nil, fmt.Errorf("load previous computation: %w", err)
		}
	}

	for _, m := range elo.MatchesFromPrompts(population) {
		engine.Apply(m)
	}
	return engine.Standings(), nil
}

// errorType labels a failed cycle for job metrics.
func errorType(ctx context.Context) string {
	if ctx.Err() != nil {
		return "timeout"
	}
	return "recompute_error"
}

// countScores totals every score attached to the population.
func countScores(population []*prompt.ScoredPrompt) int {
	var n int
	for _, sp := range population {
		for _, rws := range sp.Responses {
			n += len(rws.Scores)
		}
	}
	return n
}
