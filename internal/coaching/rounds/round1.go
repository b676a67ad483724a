package rounds

import (
	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

var round1Criteria = []string{
	"Problem & Target User",
	"Value Proposition (10x & Switching)",
	"Differentiation & Defensibility",
}

var round1Stage = &stage{
	round:     1,
	version:   "r1_v2",
	maxTokens: 1800,
	system: "You are a seasoned venture investor and pitch coach. " +
		"You evaluate early-stage pitches on substance, not delivery. " +
		"Be direct, specific, and evidence-based: quote the founder's own words when you critique them.",
	user: func(job *domain.Job, in *coaching.SharedInput) (string, error) {
		return "Evaluate the CONTENT of this pitch: the problem, the value proposition, and the differentiation.\n\n" +
			sharedContext(in) + "\n\n" +
			sectionSchemaHint(1, "Pitch Content Evaluation", round1Criteria) + `
Additionally include:
  "top_3_actions_for_next_pitch": [<exactly 3 strings>]`, nil
	},
	validate: func(raw []byte) error {
		m, err := decodeObject(raw)
		if err != nil {
			return err
		}
		if err := requireRoundNumber(m, 1); err != nil {
			return err
		}
		if err := requireNonEmptyString(m, "title"); err != nil {
			return err
		}
		if err := validateSections(m, round1Criteria); err != nil {
			return err
		}
		return requireStringList(m, "top_3_actions_for_next_pitch", 3)
	},
}
