package ranking

import (
	"math"
	"sort"

	"github.com/promptarena/promptarena/internal/prompt"
)

// neutralScore is the prior every shrinkage estimate pulls toward: with no
// evidence, reviewers, prompts, and contributors all sit at 0.5.
const neutralScore = 0.5

// ComputeReviewerTrust derives per-reviewer trust from score agreement.
//
// For every response carrying at least two human scores, each reviewer's
// score is compared against the mean of the other reviewers' scores on the
// same response; a difference within tolerance counts as agreement. Trust
// is the agreement rate with Laplace shrinkage, (agreements + 1) /
// (comparisons + 2), so a reviewer with no comparable reviews sits at the
// neutral 0.5 and extreme rates need volume to be believed.
func ComputeReviewerTrust(population []*prompt.ScoredPrompt, tolerance float64) []ReviewerTrust {
	type tally struct {
		comparisons int
		agreements  int
		reviews     int
	}
	byUser := make(map[string]*tally)

	userOf := func(s prompt.Score) (string, bool) {
		if s.Method != prompt.MethodHuman || s.ScorerUserID == nil || *s.ScorerUserID == "" {
			return "", false
		}
		return *s.ScorerUserID, true
	}

	for _, sp := range population {
		for _, rws := range sp.Responses {
			var human []prompt.Score
			for _, s := range rws.Scores {
				uid, ok := userOf(s)
				if !ok {
					continue
				}
				human = append(human, s)
				t := byUser[uid]
				if t == nil {
					t = &tally{}
					byUser[uid] = t
				}
				t.reviews++
			}
			if len(human) < 2 {
				continue
			}

			var sum float64
			for _, s := range human {
				sum += s.Value
			}
			for _, s := range human {
				uid, _ := userOf(s)
				othersMean := (sum - s.Value) / float64(len(human)-1)

				t := byUser[uid]
				t.comparisons++
				if math.Abs(s.Value-othersMean) <= tolerance {
					t.agreements++
				}
			}
		}
	}

	out := make([]ReviewerTrust, 0, len(byUser))
	for uid, t := range byUser {
		out = append(out, ReviewerTrust{
			UserID:      uid,
			Trust:       (float64(t.agreements) + 1) / (float64(t.comparisons) + 2),
			ReviewCount: t.reviews,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ComputePromptQuality derives per-prompt quality from discrimination
// power: the spread between the best and worst per-model average on the
// prompt. A prompt every model aces (or fails) separates nothing and
// scores low; a prompt that splits the field scores high. Spread is shrunk
// toward the neutral 0.5 by score volume, and prompts scored for fewer
// than two models stay at 0.5 since spread is undefined.
func ComputePromptQuality(population []*prompt.ScoredPrompt) []PromptQuality {
	out := make([]PromptQuality, 0, len(population))

	for _, sp := range population {
		type agg struct {
			sum   float64
			count int
		}
		byModel := make(map[string]*agg)
		scoreCount := 0
		for _, rws := range sp.Responses {
			for _, s := range rws.Scores {
				a := byModel[rws.Response.ModelSlug]
				if a == nil {
					a = &agg{}
					byModel[rws.Response.ModelSlug] = a
				}
				a.sum += s.Value
				a.count++
				scoreCount++
			}
		}

		quality := neutralScore
		if len(byModel) >= 2 {
			lo, hi := math.Inf(1), math.Inf(-1)
			for _, a := range byModel {
				avg := a.sum / float64(a.count)
				lo = math.Min(lo, avg)
				hi = math.Max(hi, avg)
			}
			spread := hi - lo
			n := float64(scoreCount)
			quality = (spread*n + neutralScore*2) / (n + 2)
		}

		out = append(out, PromptQuality{
			PromptID:   sp.Prompt.ID,
			Quality:    quality,
			ScoreCount: scoreCount,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PromptID < out[j].PromptID })
	return out
}

// ComputeBenchmarkQuality rolls prompt quality up to prompt sets: each
// set's quality is the mean quality of its member prompts in the
// population.
func ComputeBenchmarkQuality(population []*prompt.ScoredPrompt, qualities []PromptQuality) []BenchmarkQuality {
	qualityByPrompt := make(map[string]float64, len(qualities))
	for _, q := range qualities {
		qualityByPrompt[q.PromptID] = q.Quality
	}

	type agg struct {
		sum   float64
		count int
	}
	bySet := make(map[string]*agg)
	for _, sp := range population {
		q, ok := qualityByPrompt[sp.Prompt.ID]
		if !ok {
			continue
		}
		for _, setID := range sp.PromptSetIDs {
			a := bySet[setID]
			if a == nil {
				a = &agg{}
				bySet[setID] = a
			}
			a.sum += q
			a.count++
		}
	}

	out := make([]BenchmarkQuality, 0, len(bySet))
	for setID, a := range bySet {
		out = append(out, BenchmarkQuality{
			PromptSetID: setID,
			Quality:     a.sum / float64(a.count),
			PromptCount: a.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromptSetID < out[j].PromptSetID })
	return out
}

// ComputeContributorScores derives per-uploader scores from the quality of
// the prompts they contributed, with the same Laplace shrinkage as
// reviewer trust: (sum of qualities + 1) / (prompt count + 2). An uploader
// of one mediocre prompt lands near neutral; consistently discriminating
// prompts push the score up.
func ComputeContributorScores(population []*prompt.ScoredPrompt, qualities []PromptQuality) []ContributorScore {
	qualityByPrompt := make(map[string]float64, len(qualities))
	for _, q := range qualities {
		qualityByPrompt[q.PromptID] = q.Quality
	}

	type agg struct {
		sum   float64
		count int
	}
	byUser := make(map[string]*agg)
	for _, sp := range population {
		if sp.Prompt.UploaderID == "" {
			continue
		}
		q, ok := qualityByPrompt[sp.Prompt.ID]
		if !ok {
			continue
		}
		a := byUser[sp.Prompt.UploaderID]
		if a == nil {
			a = &agg{}
			byUser[sp.Prompt.UploaderID] = a
		}
		a.sum += q
		a.count++
	}

	out := make([]ContributorScore, 0, len(byUser))
	for uid, a := range byUser {
		out = append(out, ContributorScore{
			UserID:      uid,
			Score:       (a.sum + 1) / (float64(a.count) + 2),
			PromptCount: a.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
