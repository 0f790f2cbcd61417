package middleware

import (
	"context"
	"hash/fnv"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Scoring cohort labels. Baseline traffic sees the production weighting
// calibration; candidate traffic sees the calibration under evaluation.
const (
	CohortBaseline  = "baseline"
	CohortCandidate = "candidate"
)

type cohortContextKey struct{}

// CohortFromContext returns the scoring cohort assigned to this request,
// or CohortBaseline when no experiment router is installed.
func CohortFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(cohortContextKey{}).(string); ok {
		return c
	}
	return CohortBaseline
}

// ExperimentConfig describes a weighting-calibration experiment: what share
// of traffic sees the candidate calibration, and when to halt it.
type ExperimentConfig struct {
	Enabled          bool
	Label            string  // identifies the candidate calibration in metrics and headers
	SharePercent     float64 // share of traffic assigned to the candidate cohort, 0-100
	ErrorThreshold   float64 // candidate error rate (percent) that halts the experiment
	LatencyThreshold float64 // candidate mean latency (seconds) that halts the experiment
	AutoHalt         bool
}

// cohortWindow accumulates request outcomes for one cohort within the
// current observation window.
type cohortWindow struct {
	requests   int64
	errors     int64
	latencySum float64
}

func (w *cohortWindow) errorRate() float64 {
	if w.requests == 0 {
		return 0
	}
	return float64(w.errors) / float64(w.requests) * 100
}

func (w *cohortWindow) meanLatency() float64 {
	if w.requests == 0 {
		return 0
	}
	return w.latencySum / float64(w.requests)
}

// ExperimentRouter deterministically splits traffic between the baseline
// and candidate scoring cohorts and halts the candidate when it degrades.
// Assignment is sticky per caller so a user never flips between
// calibrations mid-session.
type ExperimentRouter struct {
	config  ExperimentConfig
	logger  *slog.Logger
	metrics *Metrics

	mu          sync.Mutex
	running     bool
	windowStart time.Time
	baseline    cohortWindow
	candidate   cohortWindow
}

// NewExperimentRouter creates a router for the given experiment. A disabled
// config produces a router that assigns everything to the baseline cohort.
func NewExperimentRouter(config ExperimentConfig, logger *slog.Logger) *ExperimentRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExperimentRouter{
		config:      config,
		logger:      logger,
		running:     config.Enabled,
		windowStart: time.Now(),
	}
}

// SetMetrics attaches Prometheus reporting for cohort outcomes.
func (er *ExperimentRouter) SetMetrics(m *Metrics) {
	er.metrics = m
	if m != nil {
		m.SetExperimentActive(er.Running())
	}
}

// Running reports whether candidate traffic is still being served.
func (er *ExperimentRouter) Running() bool {
	er.mu.Lock()
	defer er.mu.Unlock()
	return er.running && er.config.Enabled
}

// Middleware assigns each request a scoring cohort, exposes it to
// downstream handlers through the context and the X-Scoring-Cohort
// response header, and records per-cohort outcomes.
func (er *ExperimentRouter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cohort := CohortBaseline
		if er.Running() {
			cohort = er.assign(r)
		}

		w.Header().Set("X-Scoring-Cohort", cohort)
		if cohort == CohortCandidate {
			w.Header().Set("X-Scoring-Label", er.config.Label)
		}

		ctx := context.WithValue(r.Context(), cohortContextKey{}, cohort)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		er.observe(cohort, time.Since(start).Seconds(), rec.status >= 500)

		if cohort == CohortCandidate && er.config.AutoHalt {
			er.evaluate()
		}
	})
}

// assign hashes the caller identity into a stable bucket. Authenticated
// callers hash by user id; anonymous callers fall back to their address so
// assignment survives repeated requests from the same client.
func (er *ExperimentRouter) assign(r *http.Request) string {
	key := r.Header.Get("X-User-ID")
	if key == "" {
		key = clientIP(r)
	}

	h := fnv.New32a()
	h.Write([]byte(key))
	bucket := float64(h.Sum32()%10000) / 100.0

	if bucket < er.config.SharePercent {
		return CohortCandidate
	}
	return CohortBaseline
}

func (er *ExperimentRouter) observe(cohort string, latency float64, failed bool) {
	er.mu.Lock()
	w := &er.baseline
	if cohort == CohortCandidate {
		w = &er.candidate
	}
	w.requests++
	w.latencySum += latency
	if failed {
		w.errors++
	}
	er.mu.Unlock()

	if er.metrics != nil {
		er.metrics.ObserveExperimentRequest(cohort, er.config.Label, latency, failed)
	}
}

// minCandidateSample is the smallest candidate window that halt decisions
// are allowed to act on.
const minCandidateSample = 100

// evaluate halts the experiment when the candidate cohort breaches an
// absolute threshold or runs at more than twice the baseline error rate.
func (er *ExperimentRouter) evaluate() {
	er.mu.Lock()
	if !er.running || er.candidate.requests < minCandidateSample {
		er.mu.Unlock()
		return
	}
	candidateErrRate := er.candidate.errorRate()
	candidateLatency := er.candidate.meanLatency()
	baselineErrRate := er.baseline.errorRate()
	er.mu.Unlock()

	switch {
	case candidateErrRate > er.config.ErrorThreshold:
		er.Halt("error_rate_exceeded")
	case er.config.LatencyThreshold > 0 && candidateLatency > er.config.LatencyThreshold:
		er.Halt("latency_exceeded")
	case baselineErrRate > 0 && candidateErrRate > baselineErrRate*2:
		er.Halt("error_rate_regression")
	}
}

// Halt stops serving the candidate calibration; all subsequent traffic is
// assigned to the baseline cohort. Halting is one-way for the lifetime of
// the router.
func (er *ExperimentRouter) Halt(reason string) {
	er.mu.Lock()
	if !er.running {
		er.mu.Unlock()
		return
	}
	er.running = false
	er.mu.Unlock()

	er.logger.Warn("scoring experiment halted",
		"reason", reason,
		"label", er.config.Label,
	)
	if er.metrics != nil {
		er.metrics.SetExperimentActive(false)
	}
}

// ExperimentStatus is a point-in-time view of the experiment for the
// operations endpoint.
type ExperimentStatus struct {
	Running              bool          `json:"running"`
	Label                string        `json:"label"`
	SharePercent         float64       `json:"share_percent"`
	CandidateRequests    int64         `json:"candidate_requests"`
	CandidateErrors      int64         `json:"candidate_errors"`
	CandidateErrorRate   float64       `json:"candidate_error_rate"`
	CandidateMeanLatency float64       `json:"candidate_mean_latency"`
	BaselineRequests     int64         `json:"baseline_requests"`
	BaselineErrors       int64         `json:"baseline_errors"`
	BaselineErrorRate    float64       `json:"baseline_error_rate"`
	BaselineMeanLatency  float64       `json:"baseline_mean_latency"`
	WindowStart          time.Time     `json:"window_start"`
	WindowDuration       time.Duration `json:"window_duration"`
}

// Status returns the current experiment state and window statistics.
func (er *ExperimentRouter) Status() ExperimentStatus {
	er.mu.Lock()
	defer er.mu.Unlock()

	return ExperimentStatus{
		Running:              er.running && er.config.Enabled,
		Label:                er.config.Label,
		SharePercent:         er.config.SharePercent,
		CandidateRequests:    er.candidate.requests,
		CandidateErrors:      er.candidate.errors,
		CandidateErrorRate:   er.candidate.errorRate(),
		CandidateMeanLatency: er.candidate.meanLatency(),
		BaselineRequests:     er.baseline.requests,
		BaselineErrors:       er.baseline.errors,
		BaselineErrorRate:    er.baseline.errorRate(),
		BaselineMeanLatency:  er.baseline.meanLatency(),
		WindowStart:          er.windowStart,
		WindowDuration:       time.Since(er.windowStart),
	}
}

// ResetWindow clears the accumulated cohort statistics and starts a new
// observation window. The running state is unchanged.
func (er *ExperimentRouter) ResetWindow() {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.baseline = cohortWindow{}
	er.candidate = cohortWindow{}
	er.windowStart = time.Now()
}

// statusRecorder captures the response status code for cohort accounting.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
