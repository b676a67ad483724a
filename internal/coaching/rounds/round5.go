package rounds

import (
	"context"
	"fmt"
	"strings"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

var round5Criteria = []string{
	"Overview",
	"Pitch Deck Evaluation",
}

var round5Stage = &stage{
	round:     5,
	version:   "r5_v2",
	maxTokens: 3000,
	system: "You are the lead pitch coach synthesizing four specialist evaluations into one final report. " +
		"Do not re-analyze the raw pitch; build on the four round reports and the deck text. " +
		"Name concretely what the pitch lacks and where its structure breaks down.",
	precheck: func(ctx context.Context, r *Runner, job *domain.Job, in *coaching.SharedInput) error {
		var missing []string
		for n := 1; n <= 4; n++ {
			if !job.RoundDone(n) {
				missing = append(missing, fmt.Sprintf("round%d", n))
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("round 5 requires completed rounds 1-4. Missing: %s", strings.Join(missing, ", "))
		}
		return nil
	},
	user: func(job *domain.Job, in *coaching.SharedInput) (string, error) {
		var b strings.Builder
		b.WriteString("Synthesize the four specialist evaluations below into a final report.\n")
		for n := 1; n <= 4; n++ {
			rs := job.Round(n)
			b.WriteString(fmt.Sprintf("\nROUND %d REPORT (JSON):\n%s\n", n, string(rs.Payload)))
		}
		b.WriteString("\nPITCH DECK TEXT:\n")
		if strings.TrimSpace(in.DeckText) == "" {
			b.WriteString("(none provided)")
		} else {
			b.WriteString(in.DeckText)
		}
		b.WriteString("\n\n" + sectionSchemaHint(5, "Final Synthesis", round5Criteria) + `
Additionally include:
  "lacking_content": [{"what": <string>, "why": <string>}],
  "structural_flow_issues": [{"issue": <string>, "impact": <string>}]`)
		return b.String(), nil
	},
	validate: func(raw []byte) error {
		m, err := decodeObject(raw)
		if err != nil {
			return err
		}
		if err := requireRoundNumber(m, 5); err != nil {
			return err
		}
		if err := requireNonEmptyString(m, "title"); err != nil {
			return err
		}
		if err := validateSections(m, round5Criteria); err != nil {
			return err
		}
		if err := requireObjectList(m, "lacking_content", []string{"what", "why"}); err != nil {
			return err
		}
		return requireObjectList(m, "structural_flow_issues", []string{"issue", "impact"})
	},
}
