package domain

// FillerCount is one entry in the top-fillers ranking.
type FillerCount struct {
	Token string `json:"token"`
	Count int    `json:"count"`
}

// EnergyPoint is one second of the vocal-energy timeline. Text is the
// words spoken in that second, or "(pause)" when none were.
type EnergyPoint struct {
	Sec   int     `json:"sec"`
	Text  string  `json:"text"`
	RMSDB float64 `json:"rms_db"`
	F0Hz  float64 `json:"f0_hz"`
}

// SentencePace is per-sentence pacing derived from word timestamps.
type SentencePace struct {
	Sentence    string  `json:"sentence"`
	WPM         float64 `json:"wpm"`
	DurationSec float64 `json:"duration_sec"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
}

// TimelinePoint is one sample of a body-language timeline.
type TimelinePoint struct {
	Sec   float64 `json:"sec"`
	Value float64 `json:"value"`
	State string  `json:"state,omitempty"`
}

// BodyEvent is a detected body-language event over a time window.
// TimeRange is human readable ("0:07.5–0:11.0"); SpokenText is filled
// from transcript timestamps after the fact.
type BodyEvent struct {
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	DurationSec float64 `json:"duration_sec"`
	TimeRange   string  `json:"time_range"`
	Direction   string  `json:"direction,omitempty"`
	SpokenText  *string `json:"spoken_text,omitempty"`
}

// BodyLanguage is the output of the body-language extractor.
type BodyLanguage struct {
	PostureTimeline    []TimelinePoint `json:"posture_timeline"`
	EyeContactTimeline []TimelinePoint `json:"eye_contact_timeline"`
	FacingTimeline     []TimelinePoint `json:"facing_timeline"`
	UnstableEvents     []BodyEvent     `json:"unstable_events"`
	LookAwayEvents     []BodyEvent     `json:"look_away_events"`
	TurnedAwayEvents   []BodyEvent     `json:"turned_away_events"`
	Summary            map[string]any  `json:"summary"`
}

// DerivedMetrics is the per-job bundle of computed signal groups. The
// timeline groups are independently optional and stay empty when their
// extractor failed or was skipped.
type DerivedMetrics struct {
	DurationSec      float64        `json:"duration_sec"`
	TotalWords       int            `json:"total_words"`
	WPM              float64        `json:"wpm"`
	FillerCount      int            `json:"filler_count"`
	FillerRatePerMin float64        `json:"filler_rate_per_min"`
	TopFillers       []FillerCount  `json:"top_fillers"`
	PauseCount       int            `json:"pause_count"`
	TotalPauseSec    float64        `json:"total_pause_sec"`
	AvgPauseSec      float64        `json:"avg_pause_sec"`
	MaxPauseSec      float64        `json:"max_pause_sec"`
	EnergyTimeline   []EnergyPoint  `json:"energy_timeline,omitempty"`
	SentencePacing   []SentencePace `json:"sentence_pacing,omitempty"`
	BodyLanguage     *BodyLanguage  `json:"body_language,omitempty"`
}
