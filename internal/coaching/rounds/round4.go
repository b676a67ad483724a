package rounds

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

var round4Criteria = []string{
	"Posture & Stillness",
	"Eye Contact",
	"Calm Confidence",
}

var round4Stage = &stage{
	round:     4,
	version:   "r4_v2",
	maxTokens: 2500,
	system: "You are a body-language coach for presenters. " +
		"You work from posture/eye-contact/facing timelines and detected events, not from guesses. " +
		"Tie every observation to a timestamped event.",
	precheck: round4Precheck,
	user: func(job *domain.Job, in *coaching.SharedInput) (string, error) {
		return "Evaluate the BODY LANGUAGE of this pitch using the body_language metrics (timelines, events, summary).\n\n" +
			sharedContext(in) + "\n\n" +
			sectionSchemaHint(4, "Body Language Evaluation", round4Criteria) + `
Additionally include:
  "top_3_body_language_actions": [<exactly 3 strings>],
  "key_moments": [
    {
      "time_range": "M:SS.s–M:SS.s",
      "spoken_text": <what was said there>,
      "observation": <what the body did and why it matters>
    }
  ]`, nil
	},
	validate: func(raw []byte) error {
		m, err := decodeObject(raw)
		if err != nil {
			return err
		}
		if err := requireRoundNumber(m, 4); err != nil {
			return err
		}
		if err := requireNonEmptyString(m, "title"); err != nil {
			return err
		}
		if err := validateSections(m, round4Criteria); err != nil {
			return err
		}
		if err := requireStringList(m, "top_3_body_language_actions", 3); err != nil {
			return err
		}
		return requireMomentList(m, "key_moments")
	},
	backfill: true,
}

// round4Precheck enforces the body-language precondition, with a
// one-time recompute from the stored media when the pipeline's
// best-effort extraction left nothing behind. A successful recompute is
// persisted so future invocations reuse it.
func round4Precheck(ctx context.Context, r *Runner, job *domain.Job, in *coaching.SharedInput) error {
	if in.Metrics.BodyLanguage != nil {
		return nil
	}
	if r.video == nil {
		return fmt.Errorf("round 4 requires body language metrics and no extractor is configured to recompute them")
	}
	if job.VideoGCSURI == nil || *job.VideoGCSURI == "" {
		return fmt.Errorf("round 4 requires body language metrics and the job has no stored video to recompute them from")
	}

	var calibration map[string]any
	if len(job.Calibration) > 0 {
		_ = json.Unmarshal(job.Calibration, &calibration)
	}

	bl, err := r.video.ExtractBodyLanguage(ctx, *job.VideoGCSURI, calibration)
	if err != nil {
		return fmt.Errorf("round 4 body language recompute failed: %w", err)
	}
	if bl == nil || (len(bl.PostureTimeline) == 0 && len(bl.EyeContactTimeline) == 0 && len(bl.FacingTimeline) == 0) {
		return fmt.Errorf("round 4 body language recompute returned no usable signals")
	}

	in.Metrics.BodyLanguage = bl
	if raw, merr := domain.JSONFrom(in.Metrics); merr == nil {
		if uerr := r.store.UpdateFields(ctx, job.ID, map[string]any{"derived_metrics": raw}); uerr != nil {
			r.log.Warn("could not persist recomputed body language metrics",
				"job_id", job.ID, "error", uerr)
		}
	}
	return nil
}
