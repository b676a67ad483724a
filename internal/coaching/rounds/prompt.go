package rounds

import (
	"fmt"
	"strings"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
)

// sharedContext renders the transcript/metrics/deck bundle every round
// interpolates into its user prompt.
func sharedContext(in *coaching.SharedInput) string {
	var b strings.Builder
	b.WriteString("TRANSCRIPT:\n")
	b.WriteString(in.TranscriptFullText)
	b.WriteString("\n\nDELIVERY METRICS (JSON):\n")
	b.WriteString(metricsJSON(in))
	b.WriteString("\n\nPITCH DECK TEXT:\n")
	if strings.TrimSpace(in.DeckText) == "" {
		b.WriteString("(none provided)")
	} else {
		b.WriteString(in.DeckText)
	}
	return b.String()
}

func sectionSchemaHint(round int, title string, criteria []string) string {
	quoted := make([]string, len(criteria))
	for i, c := range criteria {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return fmt.Sprintf(`Respond with ONLY a JSON object:
{
  "round": %d,
  "title": %q,
  "sections": [
    {
      "criterion": <one of %s>,
      "verdict": "strong" | "mixed" | "weak",
      "strengths": [<strings>],
      "weaknesses": [<strings>],
      "suggestions": [<strings>]
    }
  ]
}
Include exactly one section per criterion, in the order listed.`, round, title, strings.Join(quoted, ", "))
}
