package domain

// Word is one timed token from the speech-to-text provider. Speaker is
// nil when diarization was unavailable.
type Word struct {
	Word    string  `json:"word"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker *string `json:"speaker,omitempty"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResult is the normalized output of one transcription run.
type TranscriptResult struct {
	FullText string    `json:"full_text"`
	Words    []Word    `json:"words"`
	Segments []Segment `json:"segments"`
}
