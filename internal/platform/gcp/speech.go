package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/ctxutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/envutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

// SpeechService runs batch speech recognition over audio already in
// GCS and parses the JSON results the provider writes back to GCS.
// RunBatch and CollectOutput are split so the pipeline can report
// distinct progress phases between them.
type SpeechService interface {
	// RunBatch transcribes audioURI, writing scratch output under
	// outputURI (a gs:// prefix), and waits for the operation.
	// Diarization is requested first and dropped automatically if the
	// model rejects it.
	RunBatch(ctx context.Context, audioURI, outputURI string) error

	// CollectOutput polls outputURI for result files and parses them.
	CollectOutput(ctx context.Context, outputURI string) (*domain.TranscriptResult, error)

	Close() error
}

type speechService struct {
	log     *logger.Logger
	client  *speech.Client
	storage *storage.Client

	project  string
	location string
	model    string
	language string

	pollTries int
	pollDelay time.Duration
}

func NewSpeechService(log *logger.Logger) (SpeechService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	project := strings.TrimSpace(os.Getenv("GCP_PROJECT_ID"))
	if project == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID is not set")
	}
	location := envutil.String("STT_LOCATION", "us-central1")

	ctx := context.Background()
	endpoint := fmt.Sprintf("%s-speech.googleapis.com:443", location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	st, err := storage.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage client: %w", err)
	}

	slog := log.With("service", "gcp.Speech")
	slog.Info("speech service initialized", "endpoint", endpoint, "location", location)

	return &speechService{
		log:       slog,
		client:    client,
		storage:   st,
		project:   project,
		location:  location,
		model:     envutil.String("STT_MODEL", "chirp_2"),
		language:  envutil.String("STT_LANGUAGE", "en-US"),
		pollTries: envutil.Int("STT_OUTPUT_POLL_TRIES", 15),
		pollDelay: envutil.Seconds("STT_OUTPUT_POLL_DELAY_SECONDS", 2*time.Second),
	}, nil
}

func (s *speechService) Close() error {
	if s == nil {
		return nil
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.storage != nil {
		_ = s.storage.Close()
	}
	return nil
}

func (s *speechService) RunBatch(ctx context.Context, audioURI, outputURI string) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Minute)
	defer cancel()

	err := s.runBatch(ctx, audioURI, outputURI, true)
	if err != nil && isDiarizationUnsupported(err) {
		s.log.Warn("diarization rejected by model, retrying without speaker features",
			"audio_uri", audioURI, "error", err)
		err = s.runBatch(ctx, audioURI, outputURI, false)
	}
	return err
}

func (s *speechService) runBatch(ctx context.Context, audioURI, outputURI string, diarize bool) error {
	features := &speechpb.RecognitionFeatures{
		EnableWordTimeOffsets:      true,
		EnableAutomaticPunctuation: true,
	}
	if diarize {
		features.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			MinSpeakerCount: 1,
			MaxSpeakerCount: 2,
		}
	}
	req := &speechpb.BatchRecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", s.project, s.location),
		Config: &speechpb.RecognitionConfig{
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
				AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
			},
			Model:         s.model,
			LanguageCodes: []string{s.language},
			Features:      features,
		},
		Files: []*speechpb.BatchRecognizeFileMetadata{{
			AudioSource: &speechpb.BatchRecognizeFileMetadata_Uri{Uri: audioURI},
		}},
		RecognitionOutputConfig: &speechpb.RecognitionOutputConfig{
			Output: &speechpb.RecognitionOutputConfig_GcsOutputConfig{
				GcsOutputConfig: &speechpb.GcsOutputConfig{Uri: outputURI},
			},
		},
	}

	op, err := s.startWithRetry(ctx, req)
	if err != nil {
		return fmt.Errorf("speech BatchRecognize: %w", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("speech BatchRecognize wait: %w", err)
	}
	return nil
}

func (s *speechService) startWithRetry(ctx context.Context, req *speechpb.BatchRecognizeRequest) (*speech.BatchRecognizeOperation, error) {
	backoff := 750 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		op, err := s.client.BatchRecognize(ctx, req)
		if err == nil {
			return op, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		s.log.Warn("transient speech error, backing off", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, lastErr
}

// CollectOutput polls the scratch prefix until the provider's JSON
// result files appear, then parses and concatenates them. Storage
// propagation can lag the operation completing, hence the polling.
func (s *speechService) CollectOutput(ctx context.Context, outputURI string) (*domain.TranscriptResult, error) {
	ctx = ctxutil.Default(ctx)
	bucket, prefix, err := ParseGCSURI(outputURI)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var keys []string
	for try := 0; try < s.pollTries; try++ {
		keys, err = s.listJSONKeys(ctx, bucket, prefix)
		if err == nil && len(keys) > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("list speech output under %s: %w", outputURI, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no speech output files appeared under %s", outputURI)
	}
	sort.Strings(keys)

	merged := &domain.TranscriptResult{Words: []domain.Word{}, Segments: []domain.Segment{}}
	for _, key := range keys {
		data, err := s.readObject(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("read speech output %s: %w", key, err)
		}
		part, err := parseBatchOutput(data)
		if err != nil {
			return nil, fmt.Errorf("parse speech output %s: %w", key, err)
		}
		appendTranscript(merged, part)
	}
	return merged, nil
}

func (s *speechService) listJSONKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.storage.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	keys := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(strings.ToLower(attrs.Name), ".json") {
			keys = append(keys, attrs.Name)
		}
	}
	return keys, nil
}

func (s *speechService) readObject(ctx context.Context, bucket, key string) ([]byte, error) {
	rc, err := s.storage.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// batchOutput mirrors the JSON the provider writes to GCS.
type batchOutput struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word         string `json:"word"`
				StartOffset  string `json:"startOffset"`
				EndOffset    string `json:"endOffset"`
				SpeakerLabel string `json:"speakerLabel"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"results"`
}

func parseBatchOutput(data []byte) (*domain.TranscriptResult, error) {
	var out batchOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	res := &domain.TranscriptResult{Words: []domain.Word{}, Segments: []domain.Segment{}}
	var textParts []string
	for _, r := range out.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" && len(alt.Words) == 0 {
			continue
		}
		if text != "" {
			textParts = append(textParts, text)
		}

		segStart, segEnd := -1.0, 0.0
		for _, w := range alt.Words {
			word := domain.Word{
				Word:  w.Word,
				Start: parseOffsetSeconds(w.StartOffset),
				End:   parseOffsetSeconds(w.EndOffset),
			}
			if spk := normalizeSpeakerLabel(w.SpeakerLabel); spk != "" {
				word.Speaker = &spk
			}
			res.Words = append(res.Words, word)
			if segStart < 0 || word.Start < segStart {
				segStart = word.Start
			}
			if word.End > segEnd {
				segEnd = word.End
			}
		}
		if segStart < 0 {
			segStart = 0
		}
		if text != "" {
			res.Segments = append(res.Segments, domain.Segment{Start: segStart, End: segEnd, Text: text})
		}
	}
	res.FullText = strings.Join(textParts, " ")
	return res, nil
}

func appendTranscript(dst, src *domain.TranscriptResult) {
	if src.FullText != "" {
		if dst.FullText != "" {
			dst.FullText += " "
		}
		dst.FullText += src.FullText
	}
	dst.Words = append(dst.Words, src.Words...)
	dst.Segments = append(dst.Segments, src.Segments...)
}

// parseOffsetSeconds converts provider duration strings like "1.100s"
// to seconds.
func parseOffsetSeconds(v string) float64 {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "s"))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func normalizeSpeakerLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	if n, err := strconv.Atoi(label); err == nil {
		return fmt.Sprintf("spk%d", n)
	}
	if strings.HasPrefix(strings.ToLower(label), "spk") {
		return strings.ToLower(label)
	}
	return "spk_" + strings.ToLower(label)
}

func isDiarizationUnsupported(err error) bool {
	if err == nil {
		return false
	}
	m := strings.ToLower(err.Error())
	return strings.Contains(m, "diarization") || strings.Contains(m, "speaker")
}

func isRetryable(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
