package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/pitchlabs/pitchcoach-backend/internal/platform/ctxutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/envutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

// DeckReader extracts the slide text a coaching round can quote.
type DeckReader interface {
	// ExtractDeckText returns per-page text as "PAGE {n}: {text}"
	// blocks joined by blank lines.
	ExtractDeckText(ctx context.Context, data []byte, mimeType string) (string, error)
	Close() error
}

type deckReader struct {
	log    *logger.Logger
	client *documentai.DocumentProcessorClient

	processorName string
}

func NewDeckReader(log *logger.Logger) (DeckReader, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	project := strings.TrimSpace(os.Getenv("GCP_PROJECT_ID"))
	if project == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID is not set")
	}
	processorID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID"))
	if processorID == "" {
		return nil, fmt.Errorf("DOCUMENTAI_PROCESSOR_ID is not set")
	}
	location := envutil.String("DOCUMENTAI_LOCATION", "us")

	ctx := context.Background()
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog := log.With("service", "gcp.DeckReader")
	slog.Info("deck reader initialized", "endpoint", endpoint)

	return &deckReader{
		log:           slog,
		client:        client,
		processorName: fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID),
	}, nil
}

func (d *deckReader) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *deckReader) ExtractDeckText(ctx context.Context, data []byte, mimeType string) (string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if len(data) == 0 {
		return "", fmt.Errorf("empty deck file")
	}
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.processorName,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return "", fmt.Errorf("documentai returned no document")
	}
	return deckTextFromDocument(resp.Document), nil
}

func deckTextFromDocument(doc *documentaipb.Document) string {
	var blocks []string
	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		var page strings.Builder
		for _, para := range p.Paragraphs {
			if para == nil || para.Layout == nil || para.Layout.TextAnchor == nil {
				continue
			}
			t := strings.TrimSpace(anchorText(doc.Text, para.Layout.TextAnchor))
			if t == "" {
				continue
			}
			page.WriteString(t)
			page.WriteString("\n")
		}
		pt := strings.TrimSpace(page.String())
		if pt != "" {
			blocks = append(blocks, fmt.Sprintf("PAGE %d: %s", p.PageNumber, pt))
		}
	}
	if len(blocks) == 0 {
		if t := strings.TrimSpace(doc.Text); t != "" {
			blocks = append(blocks, "PAGE 1: "+t)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func anchorText(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}
