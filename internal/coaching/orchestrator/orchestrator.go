package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching/rounds"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/envutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

// RoundRunner runs one feedback round to completion, persisting its own
// outcome on the job before returning.
type RoundRunner interface {
	Run(ctx context.Context, jobID uuid.UUID, round int) error
}

// Orchestrator coordinates the dependency-ordered feedback rounds for a
// job: rounds 1-4 concurrently on a bounded pool, then round 5 only if
// all four prerequisites completed.
type Orchestrator struct {
	store   repos.JobStore
	runner  RoundRunner
	log     *logger.Logger
	workers int

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

func New(store repos.JobStore, runner RoundRunner, log *logger.Logger) (*Orchestrator, error) {
	if store == nil || runner == nil {
		return nil, fmt.Errorf("store and round runner required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	workers := envutil.Int("ORCHESTRATOR_WORKERS", 4)
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		store:   store,
		runner:  runner,
		log:     log.With("service", "orchestrator"),
		workers: workers,
		active:  make(map[uuid.UUID]struct{}),
	}, nil
}

// EnsureStarted starts orchestration for jobID unless a run is already
// active. Returns true when this call started the run; the run itself
// happens on a detached goroutine and the caller never blocks on it.
func (o *Orchestrator) EnsureStarted(jobID uuid.UUID) bool {
	if !o.tryAcquire(jobID) {
		return false
	}
	go func() {
		defer o.release(jobID)
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("orchestration panic", "job_id", jobID, "panic", r)
			}
		}()
		o.runJob(context.Background(), jobID)
	}()
	return true
}

func (o *Orchestrator) tryAcquire(jobID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[jobID]; ok {
		return false
	}
	o.active[jobID] = struct{}{}
	return true
}

func (o *Orchestrator) release(jobID uuid.UUID) {
	o.mu.Lock()
	delete(o.active, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) runJob(ctx context.Context, jobID uuid.UUID) {
	log := o.log.With("job_id", jobID)

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		log.Warn("orchestration aborted, job unavailable", "error", err)
		return
	}
	if !hasTranscript(job) {
		log.Warn("orchestration aborted, job has no transcript yet")
		return
	}

	pending := missingRounds(job)
	firstFailure := o.runPending(ctx, jobID, pending, log)

	job, err = o.store.Get(ctx, jobID)
	if err != nil {
		log.Warn("could not re-fetch job after rounds", "error", err)
		return
	}

	// Re-check against the stored job: a round may have completed
	// through an earlier orchestration run rather than this one.
	missing := missingRounds(job)
	if firstFailure != 0 || len(missing) > 0 {
		if job.Round5Status == domain.RoundStatusDone {
			log.Info("prerequisites regressed but round 5 is already done, leaving it untouched",
				"first_failure", firstFailure, "missing", missing)
			return
		}
		o.markRound5Skipped(ctx, job, missing, log)
		return
	}

	if job.Round5Status == domain.RoundStatusDone {
		log.Info("round 5 already done, nothing to do")
		return
	}
	if err := o.runner.Run(ctx, jobID, 5); err != nil {
		log.Warn("round 5 failed", "error", err)
	}
}

// runPending executes the given rounds on the bounded pool and returns
// the first-failed round number (0 when none failed). On the first
// failure, tasks that have not started yet are cancelled best-effort;
// tasks already running settle normally and any further failures are
// logged as additional.
func (o *Orchestrator) runPending(ctx context.Context, jobID uuid.UUID, pending []int, log *logger.Logger) int {
	if len(pending) == 0 {
		return 0
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	firstFailure := 0

	for _, n := range pending {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Cancellation is honored only before the task starts;
			// in-flight rounds run to completion.
			select {
			case <-poolCtx.Done():
				log.Info("round cancelled before start", "round", n)
				return
			default:
			}

			if err := o.runner.Run(ctx, jobID, n); err != nil {
				mu.Lock()
				if firstFailure == 0 {
					firstFailure = n
					cancel()
					log.Warn("first round failure", "round", n, "error", err)
				} else {
					log.Warn("additional round failure", "round", n, "error", err)
				}
				mu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	return firstFailure
}

func (o *Orchestrator) markRound5Skipped(ctx context.Context, job *domain.Job, missing []int, log *logger.Logger) {
	var detail []string
	for _, n := range missing {
		detail = append(detail, fmt.Sprintf("round%d (%s)", n, job.Round(n).Status))
	}
	msg := "Round 5 skipped because prerequisite rounds are incomplete or failed: " +
		strings.Join(detail, ", ")
	err := o.store.UpdateFields(ctx, job.ID, map[string]any{
		"round5_status":  domain.RoundStatusFailed,
		"round5_version": rounds.Version(5),
		"round5_error":   msg,
	})
	if err != nil {
		log.Error("could not mark round 5 skipped", "error", err)
		return
	}
	log.Info("round 5 skipped", "missing", detail)
}

// missingRounds lists rounds 1-4 that are not done with a present
// payload, in ascending order.
func missingRounds(job *domain.Job) []int {
	var missing []int
	for n := 1; n <= 4; n++ {
		if !job.RoundDone(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

func hasTranscript(job *domain.Job) bool {
	if job.TranscriptFullText != nil && strings.TrimSpace(*job.TranscriptFullText) != "" {
		return true
	}
	if len(job.Result) == 0 {
		return false
	}
	var legacy struct {
		FullText string `json:"full_text"`
	}
	if err := json.Unmarshal(job.Result, &legacy); err != nil {
		return false
	}
	return strings.TrimSpace(legacy.FullText) != ""
}
