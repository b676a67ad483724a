package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job is the central record for one uploaded pitch recording. Every
// pipeline stage and feedback round mutates it exclusively through the
// store's partial-update contract.
type Job struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Status   string    `gorm:"column:status;not null;index" json:"status"`
	Progress int       `gorm:"column:progress;not null;default:0" json:"progress"`
	Error    *string   `gorm:"column:error" json:"error,omitempty"`

	TranscriptFullText *string        `gorm:"column:transcript_full_text" json:"transcript_full_text,omitempty"`
	Words              datatypes.JSON `gorm:"column:words;type:jsonb" json:"words,omitempty"`
	Segments           datatypes.JSON `gorm:"column:segments;type:jsonb" json:"segments,omitempty"`
	DerivedMetrics     datatypes.JSON `gorm:"column:derived_metrics;type:jsonb" json:"derived_metrics,omitempty"`

	// Result holds the raw transcription payload written by older
	// pipeline versions. Normalized fields are backfilled from it on
	// first read.
	Result datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`

	DeckText       *string        `gorm:"column:deck_text" json:"deck_text,omitempty"`
	VideoGCSURI    *string        `gorm:"column:video_gcs_uri" json:"video_gcs_uri,omitempty"`
	Calibration    datatypes.JSON `gorm:"column:calibration;type:jsonb" json:"calibration,omitempty"`
	ArtifactsError *string        `gorm:"column:artifacts_error" json:"artifacts_error,omitempty"`

	SummaryJSON  datatypes.JSON `gorm:"column:summary_json;type:jsonb" json:"summary_json,omitempty"`
	SummaryError *string        `gorm:"column:summary_error" json:"summary_error,omitempty"`

	Round1Status  string         `gorm:"column:round1_status;not null;default:pending" json:"round1_status"`
	Round1Version *string        `gorm:"column:round1_version" json:"round1_version,omitempty"`
	Round1Payload datatypes.JSON `gorm:"column:round1_payload;type:jsonb" json:"round1_payload,omitempty"`
	Round1Error   *string        `gorm:"column:round1_error" json:"round1_error,omitempty"`

	Round2Status  string         `gorm:"column:round2_status;not null;default:pending" json:"round2_status"`
	Round2Version *string        `gorm:"column:round2_version" json:"round2_version,omitempty"`
	Round2Payload datatypes.JSON `gorm:"column:round2_payload;type:jsonb" json:"round2_payload,omitempty"`
	Round2Error   *string        `gorm:"column:round2_error" json:"round2_error,omitempty"`

	Round3Status  string         `gorm:"column:round3_status;not null;default:pending" json:"round3_status"`
	Round3Version *string        `gorm:"column:round3_version" json:"round3_version,omitempty"`
	Round3Payload datatypes.JSON `gorm:"column:round3_payload;type:jsonb" json:"round3_payload,omitempty"`
	Round3Error   *string        `gorm:"column:round3_error" json:"round3_error,omitempty"`

	Round4Status  string         `gorm:"column:round4_status;not null;default:pending" json:"round4_status"`
	Round4Version *string        `gorm:"column:round4_version" json:"round4_version,omitempty"`
	Round4Payload datatypes.JSON `gorm:"column:round4_payload;type:jsonb" json:"round4_payload,omitempty"`
	Round4Error   *string        `gorm:"column:round4_error" json:"round4_error,omitempty"`

	Round5Status  string         `gorm:"column:round5_status;not null;default:pending" json:"round5_status"`
	Round5Version *string        `gorm:"column:round5_version" json:"round5_version,omitempty"`
	Round5Payload datatypes.JSON `gorm:"column:round5_payload;type:jsonb" json:"round5_payload,omitempty"`
	Round5Error   *string        `gorm:"column:round5_error" json:"round5_error,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Job) TableName() string { return "job" }

// RoundState is a read-only view over one round slot.
type RoundState struct {
	Round   int            `json:"round"`
	Status  string         `json:"status"`
	Version *string        `json:"version,omitempty"`
	Payload datatypes.JSON `json:"payload,omitempty"`
	Error   *string        `json:"error,omitempty"`
}

// Round returns the state of round n (1-5). Unknown rounds report an
// empty status.
func (j *Job) Round(n int) RoundState {
	rs := RoundState{Round: n}
	switch n {
	case 1:
		rs.Status, rs.Version, rs.Payload, rs.Error = j.Round1Status, j.Round1Version, j.Round1Payload, j.Round1Error
	case 2:
		rs.Status, rs.Version, rs.Payload, rs.Error = j.Round2Status, j.Round2Version, j.Round2Payload, j.Round2Error
	case 3:
		rs.Status, rs.Version, rs.Payload, rs.Error = j.Round3Status, j.Round3Version, j.Round3Payload, j.Round3Error
	case 4:
		rs.Status, rs.Version, rs.Payload, rs.Error = j.Round4Status, j.Round4Version, j.Round4Payload, j.Round4Error
	case 5:
		rs.Status, rs.Version, rs.Payload, rs.Error = j.Round5Status, j.Round5Version, j.Round5Payload, j.Round5Error
	}
	return rs
}

// RoundDone reports whether round n has finished with a usable payload.
// A done status without a payload is treated as not done so the
// orchestrator re-runs the round instead of feeding round 5 an empty
// result.
func (j *Job) RoundDone(n int) bool {
	rs := j.Round(n)
	return rs.Status == RoundStatusDone && len(rs.Payload) > 0
}
