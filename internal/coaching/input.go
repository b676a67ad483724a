package coaching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

// ErrMissingTranscript is returned when neither the normalized fields
// nor the legacy raw result payload contain transcript text.
var ErrMissingTranscript = errors.New("transcript full text is missing for this job")

// SharedInput is the normalized read-only bundle every feedback round
// consumes. It is recomputed from the Job on each load, never persisted
// on its own.
type SharedInput struct {
	JobID              uuid.UUID
	TranscriptFullText string
	Words              []domain.Word
	Metrics            domain.DerivedMetrics
	DeckText           string
}

// legacyResult is the raw transcription payload shape written by older
// pipeline versions into the job's result column.
type legacyResult struct {
	FullText       string                 `json:"full_text"`
	Words          []domain.Word          `json:"words"`
	DerivedMetrics *domain.DerivedMetrics `json:"derived_metrics"`
}

type InputAssembler struct {
	store repos.JobStore
	log   *logger.Logger
}

func NewInputAssembler(store repos.JobStore, log *logger.Logger) (*InputAssembler, error) {
	if store == nil {
		return nil, fmt.Errorf("job store required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &InputAssembler{store: store, log: log.With("service", "InputAssembler")}, nil
}

// Load assembles the shared input for jobID. When a normalized field is
// absent but derivable from the legacy payload, the derived value is
// written back onto the job so future loads skip the fallback.
func (a *InputAssembler) Load(ctx context.Context, jobID uuid.UUID) (*SharedInput, error) {
	job, err := a.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var legacy legacyResult
	if len(job.Result) > 0 {
		// Tolerate junk in the legacy column; the normalized fields may
		// still be present.
		_ = json.Unmarshal(job.Result, &legacy)
	}

	backfill := map[string]any{}
	in := &SharedInput{JobID: jobID}

	if job.TranscriptFullText != nil && strings.TrimSpace(*job.TranscriptFullText) != "" {
		in.TranscriptFullText = *job.TranscriptFullText
	} else if strings.TrimSpace(legacy.FullText) != "" {
		in.TranscriptFullText = legacy.FullText
		backfill["transcript_full_text"] = legacy.FullText
	}
	if in.TranscriptFullText == "" {
		return nil, fmt.Errorf("%w (job %s)", ErrMissingTranscript, jobID)
	}

	if len(job.Words) > 0 {
		if err := json.Unmarshal(job.Words, &in.Words); err != nil {
			return nil, fmt.Errorf("decode words for job %s: %w", jobID, err)
		}
	} else if len(legacy.Words) > 0 {
		in.Words = legacy.Words
		if raw, err := domain.JSONFrom(legacy.Words); err == nil {
			backfill["words"] = raw
		}
	}

	if len(job.DerivedMetrics) > 0 {
		if err := json.Unmarshal(job.DerivedMetrics, &in.Metrics); err != nil {
			return nil, fmt.Errorf("decode derived metrics for job %s: %w", jobID, err)
		}
	} else if legacy.DerivedMetrics != nil {
		in.Metrics = *legacy.DerivedMetrics
		if raw, err := domain.JSONFrom(legacy.DerivedMetrics); err == nil {
			backfill["derived_metrics"] = raw
		}
	}

	if job.DeckText != nil {
		in.DeckText = *job.DeckText
	}

	if len(backfill) > 0 {
		if err := a.store.UpdateFields(ctx, jobID, backfill); err != nil {
			a.log.Warn("legacy field backfill failed", "job_id", jobID, "error", err)
		} else {
			a.log.Info("backfilled normalized fields from legacy payload",
				"job_id", jobID, "fields", len(backfill))
		}
	}
	return in, nil
}
