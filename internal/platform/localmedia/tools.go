package localmedia

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pitchlabs/pitchcoach-backend/internal/platform/ctxutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/envutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

// Tools is the glue around the ffmpeg/ffprobe binaries the pipeline
// needs. Synchronous and deterministic; call from worker goroutines,
// not request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	// ConvertToWAV16kMono turns any uploaded media into the canonical
	// audio form the speech provider expects.
	ConvertToWAV16kMono(ctx context.Context, inputPath, outPath string) (string, error)

	// ProbeDurationSeconds reads the container duration.
	ProbeDurationSeconds(ctx context.Context, path string) (float64, error)

	// CutWAV extracts [startSec, startSec+durationSec) into a new
	// canonical wav file. Used for the chunked long-audio fallback.
	CutWAV(ctx context.Context, inputPath, outPath string, startSec, durationSec float64) (string, error)

	// WriteTempFile persists bytes for callers that only have a blob.
	WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error)
}

type tools struct {
	log            *logger.Logger
	ffmpegPath     string
	ffprobePath    string
	defaultTimeout time.Duration
}

func New(log *logger.Logger) Tools {
	return &tools{
		log:            log.With("service", "localmedia.Tools"),
		ffmpegPath:     envutil.String("FFMPEG_PATH", "ffmpeg"),
		ffprobePath:    envutil.String("FFPROBE_PATH", "ffprobe"),
		defaultTimeout: envutil.Seconds("FFMPEG_TIMEOUT_SECONDS", 10*time.Minute),
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("required binary %q not found: %w", bin, err)
		}
	}
	return nil
}

func (m *tools) ConvertToWAV16kMono(ctx context.Context, inputPath, outPath string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if inputPath == "" {
		return "", fmt.Errorf("inputPath required")
	}
	if outPath == "" {
		return "", fmt.Errorf("outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir outPath dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outPath,
	}
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg wav conversion failed: %w; out=%s", err, tail(string(out), 800))
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("audio output missing at %s", outPath)
	}
	return outPath, nil
}

func (m *tools) ProbeDurationSeconds(ctx context.Context, path string) (float64, error) {
	ctx = ctxutil.Default(ctx)
	if path == "" {
		return 0, fmt.Errorf("path required")
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration failed: %w; out=%s", err, tail(string(out), 400))
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparseable duration %q", strings.TrimSpace(string(out)))
	}
	return dur, nil
}

func (m *tools) CutWAV(ctx context.Context, inputPath, outPath string, startSec, durationSec float64) (string, error) {
	ctx = ctxutil.Default(ctx)
	if inputPath == "" || outPath == "" {
		return "", fmt.Errorf("inputPath and outPath required")
	}
	if durationSec <= 0 {
		return "", fmt.Errorf("durationSec must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir outPath dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-ss", formatSeconds(startSec),
		"-t", formatSeconds(durationSec),
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outPath,
	}
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg chunk cut failed: %w; out=%s", err, tail(string(out), 800))
	}
	return outPath, nil
}

func (m *tools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	_ = ctxutil.Default(ctx)
	f, err := os.CreateTemp("", "media-*"+suffix)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	name := f.Name()
	cleanup := func() { _ = os.Remove(name) }
	return name, cleanup, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
