package rounds

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/openai"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

// maxErrorLen bounds the error text persisted on a round slot.
const maxErrorLen = 1200

const defaultTemperature = 0.3

// ChatClient is the slice of the LLM client a round needs.
type ChatClient interface {
	ChatComplete(ctx context.Context, system, user string, p openai.Params) (string, error)
}

// BodyLanguageRecomputer re-runs body-language extraction from the
// stored media. Used by round 4 when the pipeline's best-effort
// extraction left no metrics behind.
type BodyLanguageRecomputer interface {
	ExtractBodyLanguage(ctx context.Context, videoURI string, calibration map[string]any) (*domain.BodyLanguage, error)
}

// stage describes one feedback round. All five rounds share the same
// run sequence; they differ in prompts, schema, preconditions, and
// whether timestamped claims get backfilled from the transcript.
type stage struct {
	round     int
	version   string
	maxTokens int
	system    string
	precheck  func(ctx context.Context, r *Runner, job *domain.Job, in *coaching.SharedInput) error
	user      func(job *domain.Job, in *coaching.SharedInput) (string, error)
	validate  func(raw []byte) error
	backfill  bool
}

type Runner struct {
	store repos.JobStore
	input *coaching.InputAssembler
	chat  ChatClient
	video BodyLanguageRecomputer
	log   *logger.Logger
}

// NewRunner builds the round runner. video may be nil; round 4 then
// fails with a descriptive error instead of recomputing.
func NewRunner(store repos.JobStore, input *coaching.InputAssembler, chat ChatClient, video BodyLanguageRecomputer, log *logger.Logger) (*Runner, error) {
	if store == nil || input == nil || chat == nil {
		return nil, fmt.Errorf("store, input assembler, and chat client required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Runner{
		store: store,
		input: input,
		chat:  chat,
		video: video,
		log:   log.With("service", "rounds.Runner"),
	}, nil
}

func stageFor(n int) (*stage, error) {
	switch n {
	case 1:
		return round1Stage, nil
	case 2:
		return round2Stage, nil
	case 3:
		return round3Stage, nil
	case 4:
		return round4Stage, nil
	case 5:
		return round5Stage, nil
	default:
		return nil, fmt.Errorf("unknown round %d", n)
	}
}

// Version returns the current format version tag for round n.
func Version(n int) string {
	st, err := stageFor(n)
	if err != nil {
		return ""
	}
	return st.version
}

// Run executes round n for jobID: mark running, load shared input,
// check preconditions, generate + validate (one repair attempt),
// backfill timestamped claims, persist. Failures are persisted onto the
// round slot with a truncated error and then returned to the caller.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID, n int) error {
	st, err := stageFor(n)
	if err != nil {
		return err
	}
	log := r.log.With("job_id", jobID, "round", n)

	err = r.store.UpdateFields(ctx, jobID, map[string]any{
		roundField(n, "status"):  domain.RoundStatusRunning,
		roundField(n, "error"):   nil,
		roundField(n, "version"): st.version,
	})
	if err != nil {
		return err
	}

	payload, runErr := r.run(ctx, st, jobID, log)
	if runErr != nil {
		log.Warn("round failed", "error", runErr)
		if perr := r.store.UpdateFields(ctx, jobID, map[string]any{
			roundField(n, "status"): domain.RoundStatusFailed,
			roundField(n, "error"):  truncateError(runErr.Error()),
		}); perr != nil {
			log.Error("could not persist round failure", "error", perr)
		}
		return runErr
	}

	if err := r.store.UpdateFields(ctx, jobID, map[string]any{
		roundField(n, "status"):  domain.RoundStatusDone,
		roundField(n, "payload"): payload,
		roundField(n, "error"):   nil,
	}); err != nil {
		return err
	}
	log.Info("round done")
	return nil
}

func (r *Runner) run(ctx context.Context, st *stage, jobID uuid.UUID, log *logger.Logger) (datatypes.JSON, error) {
	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	in, err := r.input.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if st.precheck != nil {
		if err := st.precheck(ctx, r, job, in); err != nil {
			return nil, err
		}
	}

	user, err := st.user(job, in)
	if err != nil {
		return nil, err
	}

	raw, err := r.generate(ctx, st, user, log)
	if err != nil {
		return nil, err
	}

	if st.backfill {
		raw, err = BackfillSpokenText(raw, in.Words)
		if err != nil {
			return nil, fmt.Errorf("round %d ground-truth backfill: %w", st.round, err)
		}
	}
	return datatypes.JSON(raw), nil
}

// generate calls the model, parses + validates the response, and on a
// schema violation issues exactly one repair request before giving up.
func (r *Runner) generate(ctx context.Context, st *stage, user string, log *logger.Logger) ([]byte, error) {
	temp := defaultTemperature
	params := openai.Params{
		Temperature: &temp,
		MaxTokens:   st.maxTokens,
		JSONObject:  true,
	}

	out, err := r.chat.ChatComplete(ctx, st.system, user, params)
	if err != nil {
		return nil, fmt.Errorf("round %d LLM request failed: %w", st.round, err)
	}

	raw, err := parseAndValidate(out, st.validate)
	if err == nil {
		return raw, nil
	}
	log.Warn("round response invalid, requesting one repair", "error", err)

	repaired, rerr := r.chat.ChatComplete(ctx, st.system, repairPrompt(out), params)
	if rerr != nil {
		return nil, fmt.Errorf("round %d repair request failed: %w", st.round, rerr)
	}
	raw, err = parseAndValidate(repaired, st.validate)
	if err != nil {
		return nil, fmt.Errorf("round %d response failed validation after repair: %w", st.round, err)
	}
	return raw, nil
}

func parseAndValidate(out string, validate func([]byte) error) ([]byte, error) {
	raw, err := parseJSONObject(out)
	if err != nil {
		return nil, err
	}
	if err := validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func roundField(n int, suffix string) string {
	return fmt.Sprintf("round%d_%s", n, suffix)
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen-3] + "..."
}

func metricsJSON(in *coaching.SharedInput) string {
	b, err := json.MarshalIndent(in.Metrics, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
