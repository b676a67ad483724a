package rounds

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/openai"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

const summaryMaxTokens = 1600

const summarySystem = "You are a pitch coach writing a concise executive summary of a founder's pitch. " +
	"Ground every statement in the transcript and metrics provided; never invent facts or numbers."

// Summarizer produces the executive summary payload for a transcribed
// job. It shares the rounds' generate contract (one schema-validated
// attempt plus exactly one repair) but writes to the job's summary
// fields instead of a round slot, and never touches the lifecycle
// status.
type Summarizer struct {
	store repos.JobStore
	input *coaching.InputAssembler
	chat  ChatClient
	log   *logger.Logger
}

func NewSummarizer(store repos.JobStore, input *coaching.InputAssembler, chat ChatClient, log *logger.Logger) (*Summarizer, error) {
	if store == nil || input == nil || chat == nil {
		return nil, fmt.Errorf("store, input assembler, and chat client required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Summarizer{
		store: store,
		input: input,
		chat:  chat,
		log:   log.With("service", "rounds.Summarizer"),
	}, nil
}

// Run generates and persists the summary for jobID, returning the
// validated payload. Failures are persisted onto summary_error with the
// same truncation as round errors and then returned.
func (s *Summarizer) Run(ctx context.Context, jobID uuid.UUID) (datatypes.JSON, error) {
	log := s.log.With("job_id", jobID)

	in, err := s.input.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	raw, genErr := s.generate(ctx, in, log)
	if genErr != nil {
		log.Warn("summary failed", "error", genErr)
		if perr := s.store.UpdateFields(ctx, jobID, map[string]any{
			"summary_error": truncateError(genErr.Error()),
		}); perr != nil {
			log.Error("could not persist summary failure", "error", perr)
		}
		return nil, genErr
	}

	if err := s.store.UpdateFields(ctx, jobID, map[string]any{
		"summary_json":  datatypes.JSON(raw),
		"summary_error": nil,
	}); err != nil {
		return nil, err
	}
	log.Info("summary done")
	return datatypes.JSON(raw), nil
}

func (s *Summarizer) generate(ctx context.Context, in *coaching.SharedInput, log *logger.Logger) ([]byte, error) {
	temp := defaultTemperature
	params := openai.Params{
		Temperature: &temp,
		MaxTokens:   summaryMaxTokens,
		JSONObject:  true,
	}

	out, err := s.chat.ChatComplete(ctx, summarySystem, summaryUserPrompt(in), params)
	if err != nil {
		return nil, fmt.Errorf("summary LLM request failed: %w", err)
	}

	raw, err := parseAndValidate(out, validateSummary)
	if err == nil {
		return raw, nil
	}
	log.Warn("summary response invalid, requesting one repair", "error", err)

	repaired, rerr := s.chat.ChatComplete(ctx, summarySystem, repairPrompt(out), params)
	if rerr != nil {
		return nil, fmt.Errorf("summary repair request failed: %w", rerr)
	}
	raw, err = parseAndValidate(repaired, validateSummary)
	if err != nil {
		return nil, fmt.Errorf("summary response failed validation after repair: %w", err)
	}
	return raw, nil
}

func summaryUserPrompt(in *coaching.SharedInput) string {
	var b strings.Builder
	b.WriteString("Write an executive summary of this pitch for the founder.\n\n")
	b.WriteString(sharedContext(in))
	b.WriteString(`

Respond with ONLY a JSON object:
{
  "headline": <one sentence capturing the pitch>,
  "summary": <a short paragraph on what was pitched and how it landed>,
  "key_strengths": [<strings>],
  "key_improvements": [<strings>]
}`)
	return b.String()
}

func validateSummary(raw []byte) error {
	m, err := decodeObject(raw)
	if err != nil {
		return err
	}
	if err := requireNonEmptyString(m, "headline"); err != nil {
		return err
	}
	if err := requireNonEmptyString(m, "summary"); err != nil {
		return err
	}
	if err := requireStringList(m, "key_strengths", 0); err != nil {
		return err
	}
	return requireStringList(m, "key_improvements", 0)
}
