package rounds

import (
	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

var round2Criteria = []string{
	"Clarity & Conviction",
	"Business Model",
	"Market Potential",
}

// timingSignalKeys are the derived-metric fields round 2 must cite so
// its feedback is anchored in the actual delivery numbers.
var timingSignalKeys = []string{
	"wpm",
	"filler_count",
	"filler_rate_per_min",
	"pause_count",
	"total_pause_sec",
	"avg_pause_sec",
	"max_pause_sec",
}

var round2Stage = &stage{
	round:     2,
	version:   "r2_v2",
	maxTokens: 2200,
	system: "You are a pitch coach who evaluates how convincingly a founder communicates their business. " +
		"Ground every observation in the transcript and the timing metrics provided. " +
		"Never invent numbers; cite the metrics you were given.",
	user: func(job *domain.Job, in *coaching.SharedInput) (string, error) {
		return "Evaluate the COMMUNICATION of this pitch: clarity, conviction, business model, and market story. " +
			"Use the timing metrics to support your judgments.\n\n" +
			sharedContext(in) + "\n\n" +
			sectionSchemaHint(2, "Pitch Communication Evaluation", round2Criteria) + `
Additionally include:
  "top_3_actions_for_next_pitch": [<exactly 3 strings>],
  "timing_signals_used": an object echoing the metric values you relied on,
  with keys: wpm, filler_count, filler_rate_per_min, pause_count,
  total_pause_sec, avg_pause_sec, max_pause_sec`, nil
	},
	validate: func(raw []byte) error {
		m, err := decodeObject(raw)
		if err != nil {
			return err
		}
		if err := requireRoundNumber(m, 2); err != nil {
			return err
		}
		if err := requireNonEmptyString(m, "title"); err != nil {
			return err
		}
		if err := validateSections(m, round2Criteria); err != nil {
			return err
		}
		if err := requireStringList(m, "top_3_actions_for_next_pitch", 3); err != nil {
			return err
		}
		return requireObjectWithKeys(m, "timing_signals_used", timingSignalKeys)
	},
}
