package rounds

import (
	"context"
	"fmt"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

var round3Criteria = []string{
	"Energy & Presence",
	"Pacing & Emphasis",
	"Tone-Product Alignment",
}

var round3Stage = &stage{
	round:     3,
	version:   "r3_v2",
	maxTokens: 2500,
	system: "You are a vocal delivery coach for founders. " +
		"You analyze energy, pacing, and tone from per-second loudness/pitch timelines and per-sentence pacing. " +
		"Reference concrete moments by their timestamps.",
	precheck: func(ctx context.Context, r *Runner, job *domain.Job, in *coaching.SharedInput) error {
		if len(in.Metrics.EnergyTimeline) == 0 && len(in.Metrics.SentencePacing) == 0 {
			return fmt.Errorf("round 3 requires vocal tone metrics (energy timeline or sentence pacing); run the transcription pipeline first")
		}
		return nil
	},
	user: func(job *domain.Job, in *coaching.SharedInput) (string, error) {
		return "Evaluate the VOCAL DELIVERY of this pitch using the energy timeline and sentence pacing in the metrics.\n\n" +
			sharedContext(in) + "\n\n" +
			sectionSchemaHint(3, "Vocal Delivery Evaluation", round3Criteria) + `
Additionally include:
  "top_3_vocal_actions": [<exactly 3 strings>],
  "key_moments": [
    {
      "time_range": "M:SS.s–M:SS.s",
      "sentence_text": <what was said there>,
      "observation": <what the voice did and why it matters>
    }
  ]`, nil
	},
	validate: func(raw []byte) error {
		m, err := decodeObject(raw)
		if err != nil {
			return err
		}
		if err := requireRoundNumber(m, 3); err != nil {
			return err
		}
		if err := requireNonEmptyString(m, "title"); err != nil {
			return err
		}
		if err := validateSections(m, round3Criteria); err != nil {
			return err
		}
		if err := requireStringList(m, "top_3_vocal_actions", 3); err != nil {
			return err
		}
		return requireMomentList(m, "key_moments")
	},
	backfill: true,
}
