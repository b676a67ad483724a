package domain

// Job lifecycle statuses. Mutated only by the transcription pipeline.
const (
	JobStatusQueued         = "queued"
	JobStatusDeckProcessing = "deck_processing"
	JobStatusTranscribing   = "transcribing"
	JobStatusUploadingAudio = "uploading_audio_to_gcs"
	JobStatusSTTBatch       = "stt_batch_recognize"
	JobStatusWaitingForSTT  = "waiting_for_stt"
	JobStatusParsingResults = "parsing_results"
	JobStatusSummarizing    = "summarizing"
	JobStatusDone           = "done"
	JobStatusFailed         = "failed"
)

// Feedback round statuses.
const (
	RoundStatusPending = "pending"
	RoundStatusRunning = "running"
	RoundStatusDone    = "done"
	RoundStatusFailed  = "failed"
)
