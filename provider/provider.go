package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"cityfix-analyze-pipeline/models"
)

// LabelClient abstracts an image-understanding provider.
// Implementations must be concurrency-safe if used across goroutines.
type LabelClient interface {
	// DetectLabels takes raw image bytes and returns ranked labels,
	// highest confidence first.
	DetectLabels(ctx context.Context, imageData []byte) ([]models.Label, error)
	// SourceName returns a short provider label (e.g. "Vision", "Stub").
	SourceName() string
}

// TextClient abstracts a generative-language provider.
type TextClient interface {
	// DescribeImage takes raw image bytes plus an instruction prompt and
	// returns the generated text.
	DescribeImage(ctx context.Context, imageData []byte, prompt string) (string, error)
	SourceName() string
}

// maxImageBytes caps how much of a report image we pull into memory.
const maxImageBytes = 20 << 20

// FetchImage downloads image bytes from a URL. The caller controls the
// timeout through ctx and the client.
func FetchImage(ctx context.Context, client *http.Client, imageURL string) ([]byte, error) {
	if _, err := url.ParseRequestURI(imageURL); err != nil {
		return nil, fmt.Errorf("invalid image URL %q: %w", imageURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image fetch returned empty body")
	}
	return data, nil
}
