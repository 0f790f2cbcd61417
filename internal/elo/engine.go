// Package elo maintains pairwise Elo ratings for models from head-to-head
// score comparisons on shared prompts.
package elo

import (
	"math"
	"sort"

	"github.com/promptarena/promptarena/internal/prompt"
)

// Rating defaults.
const (
	// DefaultRating is the rating every model starts from.
	DefaultRating = 1500.0

	// DefaultK is the update step size. Larger values converge faster and
	// oscillate more.
	DefaultK = 32.0
)

// Rating is one model's Elo state.
type Rating struct {
	ModelSlug string  `json:"model_slug"`
	Rating    float64 `json:"rating"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	Draws     int     `json:"draws"`
	Matches   int     `json:"matches"`
}

// Match is one head-to-head comparison. OutcomeA is 1 when A won, 0 when
// B won, and 0.5 for a draw.
type Match struct {
	ModelA   string
	ModelB   string
	OutcomeA float64
}

// Expected returns the expected outcome for a player rated ra against an
// opponent rated rb.
//
// Formula: 1 / (1 + 10^((rb - ra) / 400)). Equal ratings give 0.5;
// a 400 point advantage gives about 0.91.
func Expected(ra, rb float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (rb-ra)/400.0))
}

// Engine accumulates Elo ratings over a sequence of matches. Not safe for
// concurrent use; each computation run owns its engine.
type Engine struct {
	k       float64
	ratings map[string]*Rating
}

// NewEngine creates an engine with the given K factor. A non-positive k
// falls back to DefaultK.
func NewEngine(k float64) *Engine {
	if k <= 0 {
		k = DefaultK
	}
	return &Engine{k: k, ratings: make(map[string]*Rating)}
}

// Seed preloads ratings carried over from a previous computation. Match
// counters restart at zero; only the rating value carries.
func (e *Engine) Seed(prev []Rating) {
	for _, r := range prev {
		e.ratings[r.ModelSlug] = &Rating{ModelSlug: r.ModelSlug, Rating: r.Rating}
	}
}

// rating returns the mutable rating for a model, creating it at the
// default on first sight.
func (e *Engine) rating(model string) *Rating {
	r, ok := e.ratings[model]
	if !ok {
		r = &Rating{ModelSlug: model, Rating: DefaultRating}
		e.ratings[model] = r
	}
	return r
}

// Apply updates both players' ratings for one match.
//
// The update is exactly zero-sum: A gains k*(outcome - expected) and B
// loses the same amount, so the rating pool is invariant across any number
// of matches.
func (e *Engine) Apply(m Match) {
	a := e.rating(m.ModelA)
	b := e.rating(m.ModelB)

	delta := e.k * (m.OutcomeA - Expected(a.Rating, b.Rating))
	a.Rating += delta
	b.Rating -= delta

	a.Matches++
	b.Matches++
	switch {
	case m.OutcomeA > 0.5:
		a.Wins++
		b.Losses++
	case m.OutcomeA < 0.5:
		a.Losses++
		b.Wins++
	default:
		a.Draws++
		b.Draws++
	}
}

// Standings returns all ratings sorted by rating descending, ties broken
// by model slug.
func (e *Engine) Standings() []Rating {
	out := make([]Rating, 0, len(e.ratings))
	for _, r := range e.ratings {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].ModelSlug < out[j].ModelSlug
	})
	return out
}

// MatchesFromPrompts derives matches from a scored population. On each
// prompt, every pair of models with at least one score plays one match:
// the higher average score on that prompt wins, equal averages draw.
//
// Pairs are visited in sorted slug order and prompts in input order, so
// identical input yields an identical match sequence and therefore
// identical ratings.
func MatchesFromPrompts(prompts []*prompt.ScoredPrompt) []Match {
	var matches []Match

	for _, sp := range prompts {
		type agg struct {
			sum   float64
			count int
		}
		byModel := make(map[string]*agg)
		for _, rws := range sp.Responses {
			for _, s := range rws.Scores {
				a := byModel[rws.Response.ModelSlug]
				if a == nil {
					a = &agg{}
					byModel[rws.Response.ModelSlug] = a
				}
				a.sum += s.Value
				a.count++
			}
		}

		models := make([]string, 0, len(byModel))
		for m, a := range byModel {
			if a.count > 0 {
				models = append(models, m)
			}
		}
		sort.Strings(models)

		for i := 0; i < len(models); i++ {
			for j := i + 1; j < len(models); j++ {
				avgI := byModel[models[i]].sum / float64(byModel[models[i]].count)
				avgJ := byModel[models[j]].sum / float64(byModel[models[j]].count)

				outcome := 0.5
				if avgI > avgJ {
					outcome = 1.0
				} else if avgI < avgJ {
					outcome = 0.0
				}
				matches = append(matches, Match{ModelA: models[i], ModelB: models[j], OutcomeA: outcome})
			}
		}
	}
	return matches
}
