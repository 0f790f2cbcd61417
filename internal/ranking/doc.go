// Package ranking computes and persists immutable ranking snapshots for
// the benchmark platform: reviewer trust, prompt and benchmark quality,
// contributor scores, weighted model performance, and Elo standings.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	cal, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default calibration", "error", err)
//	}
//
//	store := ranking.NewPostgresStore(db, logger)
//	job := ranking.NewRecomputeJob(ranking.RecomputeJobConfig{
//		Calibration: cal,
//		Logger:      logger,
//	}, promptRepo, store)
//	job.Start(ctx)
//	defer job.Stop()
//
//	// Serve "current" reads pinned to a single computation
//	reader := ranking.NewReader(store)
//	comp, standings, err := reader.CurrentModelElo(ctx)
//
// Each recompute cycle reads the whole scored prompt population, derives
// every category, and commits the results as one snapshot keyed by a fresh
// computation ID. Computations are never updated in place; a newer one
// supersedes by being more recent, and readers resolve the current ID once
// per read so categories from different cycles never mix.
//
// Calibration:
//
// The calibration system allows deploy-time tuning of weighting, Elo, and
// agreement parameters via JSON configuration files loaded at startup.
// This enables A/B testing and optimization without code changes (but
// requires a redeploy or restart to pick up new configuration). See
// configs/ranking.calibration.json for the default configuration.
package ranking
