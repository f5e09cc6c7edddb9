package extractor

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"cityfix-analyze-pipeline/models"
	"cityfix-analyze-pipeline/provider"

	"github.com/apex/log"
)

// maxLabels caps the number of labels kept per analysis.
const maxLabels = 5

// fallbackLabels is the fixed minimal label set returned when the
// provider path fails. Low fixed scores signal the degraded path to
// downstream confidence computation.
var fallbackLabels = []models.Label{
	{Description: "infrastructure", Score: 0.4},
	{Description: "road", Score: 0.3},
}

// Result carries the extracted labels plus whether the primary
// provider path produced them. The orchestrator folds Succeeded into
// the overall confidence.
type Result struct {
	Labels    []models.Label
	Succeeded bool
}

// Extractor wraps an image-understanding provider with input
// validation and a never-failing fallback.
type Extractor struct {
	client provider.LabelClient
	http   *http.Client
}

// New creates an Extractor. fetchClient carries the bounded image
// fetch timeout.
func New(client provider.LabelClient, fetchClient *http.Client) *Extractor {
	if fetchClient == nil {
		fetchClient = http.DefaultClient
	}
	return &Extractor{client: client, http: fetchClient}
}

// ExtractLabels fetches the image and runs label detection. The only
// error it returns is InvalidInputError for a missing or unfetchable
// image URL; every provider-side failure falls back to a fixed label
// set with Succeeded=false. Single attempt, no retries: a human is
// waiting on the other end.
func (e *Extractor) ExtractLabels(ctx context.Context, imageURL string) (Result, error) {
	if strings.TrimSpace(imageURL) == "" {
		return Result{}, models.ErrImageURLRequired
	}
	parsed, err := url.ParseRequestURI(imageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Result{}, &models.InvalidInputError{Message: "imageUrl must be a fetchable http(s) URL"}
	}

	imageData, err := provider.FetchImage(ctx, e.http, imageURL)
	if err != nil {
		log.WithError(err).Warnf("Label extraction falling back: image fetch failed for %s", imageURL)
		return Result{Labels: fallbackLabels, Succeeded: false}, nil
	}

	detected, err := e.client.DetectLabels(ctx, imageData)
	if err != nil {
		log.WithError(err).Warnf("Label extraction falling back: provider %s failed", e.client.SourceName())
		return Result{Labels: fallbackLabels, Succeeded: false}, nil
	}

	labels := normalize(detected)
	if len(labels) == 0 {
		log.Warnf("Label extraction falling back: provider %s returned no usable labels", e.client.SourceName())
		return Result{Labels: fallbackLabels, Succeeded: false}, nil
	}
	return Result{Labels: labels, Succeeded: true}, nil
}

// normalize trims descriptions, drops empty entries, caps the list and
// assigns descending synthetic scores where the provider supplied none.
func normalize(detected []models.Label) []models.Label {
	labels := make([]models.Label, 0, maxLabels)
	for _, l := range detected {
		desc := strings.TrimSpace(l.Description)
		if desc == "" {
			continue
		}
		labels = append(labels, models.Label{Description: desc, Score: l.Score})
		if len(labels) == maxLabels {
			break
		}
	}
	for i := range labels {
		if labels[i].Score == 0 {
			labels[i].Score = syntheticScore(i)
		}
	}
	return labels
}

func syntheticScore(rank int) float64 {
	score := 0.9 - 0.1*float64(rank)
	if score < 0.1 {
		score = 0.1
	}
	return score
}
