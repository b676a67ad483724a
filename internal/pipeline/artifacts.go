package pipeline

import (
	"strings"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

// speakerTurnGap is the maximum silence between consecutive same-speaker
// words before a new turn starts.
const speakerTurnGap = 1.0

type SpeakerTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

type diarizationPayload struct {
	Turns []SpeakerTurn `json:"turns"`
	Note  string        `json:"note,omitempty"`
}

// BuildSpeakerTurns groups consecutive words by speaker, merging words
// separated by less than speakerTurnGap seconds into one turn.
func BuildSpeakerTurns(words []domain.Word) []SpeakerTurn {
	turns := []SpeakerTurn{}
	var cur *SpeakerTurn
	var parts []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.Join(parts, " ")
		turns = append(turns, *cur)
		cur = nil
		parts = nil
	}

	for _, w := range words {
		speaker := ""
		if w.Speaker != nil {
			speaker = *w.Speaker
		}
		if cur != nil && (speaker != cur.Speaker || w.Start-cur.End >= speakerTurnGap) {
			flush()
		}
		if cur == nil {
			cur = &SpeakerTurn{Speaker: speaker, Start: w.Start, End: w.End}
		}
		if w.End > cur.End {
			cur.End = w.End
		}
		if t := strings.TrimSpace(w.Word); t != "" {
			parts = append(parts, t)
		}
	}
	flush()
	return turns
}

func buildDiarizationPayload(words []domain.Word) diarizationPayload {
	payload := diarizationPayload{Turns: BuildSpeakerTurns(words)}
	hasSpeakers := false
	for _, w := range words {
		if w.Speaker != nil && *w.Speaker != "" {
			hasSpeakers = true
			break
		}
	}
	if !hasSpeakers {
		payload.Note = "diarization not returned by the speech provider or model"
	}
	return payload
}
