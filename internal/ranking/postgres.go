package ranking

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/promptarena/promptarena/internal/tracing"
)

// PostgresStore implements SnapshotStore using PostgreSQL with full
// transaction support.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// SaveSnapshot writes the computation row and every child row in a single
// transaction. Readers resolve the current computation with a separate
// query, so a snapshot only becomes current once its transaction commits.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	ctx, finish := tracing.StartDBSpan(ctx, "ranking_computations", tracing.DBOperationInsert)
	var err error
	defer func() { finish(err) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		s.logger.Error("failed to begin transaction",
			slog.String("error", err.Error()),
			slog.String("computation_id", snap.Computation.ID))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction",
				slog.String("error", rbErr.Error()))
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ranking_computations (id, computed_at, prompt_count, score_count, model_count)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.Computation.ID, snap.Computation.ComputedAt, snap.Computation.PromptCount,
		snap.Computation.ScoreCount, snap.Computation.ModelCount)
	if err != nil {
		return fmt.Errorf("failed to insert computation: %w", err)
	}

	for _, rt := range snap.ReviewerTrust {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ranking_reviewer_trust (computation_id, user_id, trust, review_count)
			VALUES ($1, $2, $3, $4)
		`, rt.ComputationID, rt.UserID, rt.Trust, rt.ReviewCount)
		if err != nil {
			return fmt.Errorf("failed to insert reviewer trust: %w", err)
		}
	}

	for _, pq := range snap.PromptQuality {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ranking_prompt_quality (computation_id, prompt_id, quality, score_count)
			VALUES ($1, $2, $3, $4)
		`, pq.ComputationID, pq.PromptID, pq.Quality, pq.ScoreCount)
		if err != nil {
			return fmt.Errorf("failed to insert prompt quality: %w", err)
		}
	}

	for _, bq := range snap.BenchmarkQuality {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ranking_benchmark_quality (computation_id, prompt_set_id, quality, prompt_count)
			VALUES ($1, $2, $3, $4)
		`, bq.ComputationID, bq.PromptSetID, bq.Quality, bq.PromptCount)
		if err != nil {
			return fmt.Errorf("failed to insert benchmark quality: %w", err)
		}
	}

	for _, mp := range snap.ModelPerformance {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ranking_model_performance
				(computation_id, model_slug, weighted_avg_score, avg_score, score_count, prompts_scored, coverage, avg_latency_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, mp.ComputationID, mp.ModelSlug, mp.WeightedAvgScore, mp.AvgScore,
			mp.ScoreCount, mp.PromptsScored, mp.Coverage, mp.AvgLatencyMS)
		if err != nil {
			return fmt.Errorf("failed to insert model performance: %w", err)
		}
	}

	for _, me := range snap.ModelElo {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ranking_model_elo
				(computation_id, model_slug, elo_score, win_count, loss_count, draw_count, match_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, me.ComputationID, me.ModelSlug, me.EloScore, me.WinCount, me.LossCount, me.DrawCount, me.MatchCount)
		if err != nil {
			return fmt.Errorf("failed to insert model elo: %w", err)
		}
	}

	for _, cs := range snap.ContributorScores {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ranking_contributor_scores (computation_id, user_id, score, prompt_count)
			VALUES ($1, $2, $3, $4)
		`, cs.ComputationID, cs.UserID, cs.Score, cs.PromptCount)
		if err != nil {
			return fmt.Errorf("failed to insert contributor score: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		s.logger.Error("failed to commit snapshot",
			slog.String("error", err.Error()),
			slog.String("computation_id", snap.Computation.ID))
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.logger.Debug("snapshot committed",
		slog.String("computation_id", snap.Computation.ID),
		slog.Int("prompt_count", snap.Computation.PromptCount),
		slog.Int("model_count", snap.Computation.ModelCount))
	return nil
}

// CurrentComputation returns the most recently committed computation.
func (s *PostgresStore) CurrentComputation(ctx context.Context) (*Computation, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "ranking_computations", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	var c Computation
	err = s.db.QueryRowContext(ctx, `
		SELECT id, computed_at, prompt_count, score_count, model_count
		FROM ranking_computations
		ORDER BY computed_at DESC, id DESC
		LIMIT 1
	`).Scan(&c.ID, &c.ComputedAt, &c.PromptCount, &c.ScoreCount, &c.ModelCount)
	if err == sql.ErrNoRows {
		err = ErrNoComputation
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query current computation: %w", err)
	}
	return &c, nil
}

// ReviewerTrustFor returns the reviewer trust rows of a computation.
func (s *PostgresStore) ReviewerTrustFor(ctx context.Context, computationID string) ([]ReviewerTrust, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "ranking_reviewer_trust", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT computation_id, user_id, trust, review_count
		FROM ranking_reviewer_trust
		WHERE computation_id = $1
		ORDER BY user_id
	`, computationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviewer trust: %w", err)
	}
	defer rows.Close()

	var out []ReviewerTrust
	for rows.Next() {
		var rt ReviewerTrust
		if err = rows.Scan(&rt.ComputationID, &rt.UserID, &rt.Trust, &rt.ReviewCount); err != nil {
			return nil, fmt.Errorf("failed to scan reviewer trust: %w", err)
		}
		out = append(out, rt)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reviewer trust: %w", err)
	}
	return out, nil
}

// PromptQualityFor returns the prompt quality rows of a computation.
func (s *PostgresStore) PromptQualityFor(ctx context.Context, computationID string) ([]PromptQuality, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "ranking_prompt_quality", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT computation_id, prompt_id, quality, score_count
		FROM ranking_prompt_quality
		WHERE computation_id = $1
		ORDER BY prompt_id
	`, computationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt quality: %w", err)
	}
	defer rows.Close()

	var out []PromptQuality
	for rows.Next() {
		var pq PromptQuality
		if err = rows.Scan(&pq.ComputationID, &pq.PromptID, &pq.Quality, &pq.ScoreCount); err != nil {
			return nil, fmt.Errorf("failed to scan prompt quality: %w", err)
		}
		out = append(out, pq)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompt quality: %w", err)
	}
	return out, nil
}

// BenchmarkQualityFor returns the benchmark quality rows of a computation.
func (s *PostgresStore) BenchmarkQualityFor(ctx context.Context, computationID string) ([]BenchmarkQuality, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "ranking_benchmark_quality", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT computation_id, prompt_set_id, quality, prompt_count
		FROM ranking_benchmark_quality
		WHERE computation_id = $1
		ORDER BY prompt_set_id
	`, computationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query benchmark quality: %w", err)
	}
	defer rows.Close()

	var out []BenchmarkQuality
	for rows.Next() {
		var bq BenchmarkQuality
		if err = rows.Scan(&bq.ComputationID, &bq.PromptSetID, &bq.Quality, &bq.PromptCount); err != nil {
			return nil, fmt.Errorf("failed to scan benchmark quality: %w", err)
		}
		out = append(out, bq)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate benchmark quality: %w", err)
	}
	return out, nil
}

// ModelPerformanceFor returns the model performance rows of a computation.
func (s *PostgresStore) ModelPerformanceFor(ctx context.Context, computationID string) ([]ModelPerformance, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "ranking_model_performance", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT computation_id, model_slug, weighted_avg_score, avg_score, score_count, prompts_scored, coverage, avg_latency_ms
		FROM ranking_model_performance
		WHERE computation_id = $1
		ORDER BY weighted_avg_score DESC, model_slug
	`, computationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query model performance: %w", err)
	}
	defer rows.Close()

	var out []ModelPerformance
	for rows.Next() {
		var mp ModelPerformance
		if err = rows.Scan(&mp.ComputationID, &mp.ModelSlug, &mp.WeightedAvgScore, &mp.AvgScore,
			&mp.ScoreCount, &mp.PromptsScored, &mp.Coverage, &mp.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("failed to scan model performance: %w", err)
		}
		out = append(out, mp)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model performance: %w", err)
	}
	return out, nil
}

// ModelEloFor returns the model Elo rows of a computation.
func (s *PostgresStore) ModelEloFor(ctx context.Context, computationID string) ([]ModelElo, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "ranking_model_elo", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT computation_id, model_slug, elo_score, win_count, loss_count, draw_count, match_count
		FROM ranking_model_elo
		WHERE computation_id = $1
		ORDER BY elo_score DESC, model_slug
	`, computationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query model elo: %w", err)
	}
	defer rows.Close()

	var out []ModelElo
	for rows.Next() {
		var me ModelElo
		if err = rows.Scan(&me.ComputationID, &me.ModelSlug, &me.EloScore,
			&me.WinCount, &me.LossCount, &me.DrawCount, &me.MatchCount); err != nil {
			return nil, fmt.Errorf("failed to scan model elo: %w", err)
		}
		out = append(out, me)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model elo: %w", err)
	}
	return out, nil
}

// ContributorScoresFor returns the contributor score rows of a computation.
func (s *PostgresStore) ContributorScoresFor(ctx context.Context, computationID string) ([]ContributorScore, error) {
	ctx, finish := tracing.StartDBSpan(ctx, "ranking_contributor_scores", tracing.DBOperationQuery)
	var err error
	defer func() { finish(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT computation_id, user_id, score, prompt_count
		FROM ranking_contributor_scores
		WHERE computation_id = $1
		ORDER BY user_id
	`, computationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributor scores: %w", err)
	}
	defer rows.Close()

	var out []ContributorScore
	for rows.Next() {
		var cs ContributorScore
		if err = rows.Scan(&cs.ComputationID, &cs.UserID, &cs.Score, &cs.PromptCount); err != nil {
			return nil, fmt.Errorf("failed to scan contributor score: %w", err)
		}
		out = append(out, cs)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contributor scores: %w", err)
	}
	return out, nil
}
