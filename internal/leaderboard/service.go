package leaderboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/prompt"
)

// TrustProvider supplies reviewer contributor scores for trust weighting.
// Implementations return scores in [0, 1]; reviewers they do not know are
// simply absent from the map.
type TrustProvider interface {
	ContributorScores(ctx context.Context) (map[string]float64, error)
}

// Service computes curated leaderboards: the caller picks a prompt
// population through filters, and every model is ranked over exactly that
// population.
type Service struct {
	prompts prompt.Repository
	query   *prompt.QueryService
	trust   TrustProvider
	cache   *Cache
	logger  *slog.Logger
}

// NewService creates a leaderboard service. trust and cache may be nil;
// trust weighting then treats every reviewer as neutral and every request
// recomputes.
func NewService(prompts prompt.Repository, query *prompt.QueryService, trust TrustProvider, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{prompts: prompts, query: query, trust: trust, cache: cache, logger: logger}
}

// Request describes one curated leaderboard computation.
type Request struct {
	Filters   prompt.Filters
	Weighting *WeightingConfig
}

// GetCuratedLeaderboard computes the leaderboard for the caller's filtered
// prompt population. Results are cached per filter and weighting
// combination; visibility is resolved fresh on every call so the cache can
// never leak rows across callers with different access.
//
// The population is resolved once and shared: every model's coverage uses
// the same denominator, so filtering is transparent and comparable across
// models.
func (s *Service) GetCuratedLeaderboard(ctx context.Context, caller access.Identity, req Request) ([]Entry, error) {
	view, err := s.query.BuildView(ctx, caller)
	if err != nil {
		return nil, err
	}

	// Anonymous public queries share cache entries; authenticated callers
	// get their own since visibility differs.
	key, err := CacheKey(struct {
		UserID    string         `json:"user_id"`
		Superuser bool           `json:"superuser"`
		Filters   prompt.Filters `json:"filters"`
	}{caller.UserID, caller.Superuser, req.Filters}, req.Weighting)
	if err != nil {
		return nil, err
	}

	if entries, ok := s.cache.Get(ctx, key); ok {
		return entries, nil
	}

	population, err := s.prompts.CollectScored(ctx, view, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("collect scored prompts: %w", err)
	}

	trust := map[string]float64{}
	if s.trust != nil && req.Weighting != nil && req.Weighting.UserWeightMultiplier != 0 {
		trust, err = s.trust.ContributorScores(ctx)
		if err != nil {
			// Trust is an enhancement; a missing snapshot degrades to
			// neutral weighting instead of failing the leaderboard.
			s.logger.Warn("contributor scores unavailable, using neutral trust", "error", err)
			trust = map[string]float64{}
		}
	}

	entries := Compute(Input{Prompts: population, Trust: trust}, req.Weighting)

	s.logger.Debug("leaderboard computed",
		"population", len(population),
		"models", len(entries),
		"user_id", caller.UserID)

	s.cache.Set(ctx, key, entries)
	return entries, nil
}
