package describer

import (
	"context"
	"net/http"
	"strings"

	"cityfix-analyze-pipeline/models"
	"cityfix-analyze-pipeline/provider"

	"github.com/apex/log"
)

// descriptionPrompt is the fixed instruction sent to the generative
// provider alongside the report image.
const descriptionPrompt = "You are a city maintenance assistant. Describe this infrastructure issue in 1-2 professional sentences suitable for a municipal work order."

// minDescriptionLength is the threshold below which a provider answer
// is treated as unusable and the templated fallback is used instead.
const minDescriptionLength = 10

// Fixed confidence values distinguishing the provider path from the
// templated fallback.
const (
	PrimaryConfidence  = 0.87
	FallbackConfidence = 0.6
)

// maxKeywords caps the keywords copied from the label set.
const maxKeywords = 3

// fallbackDescriptions is keyed by issue type; road-damage and any
// unknown type use the "other" entry.
var fallbackDescriptions = map[models.IssueType]string{
	models.IssuePothole:  "A pothole or road surface damage has been reported and requires repair to prevent vehicle damage and accidents.",
	models.IssueGarbage:  "Accumulated garbage or debris has been reported and requires collection to maintain public cleanliness.",
	models.IssueTree:     "A fallen or hazardous tree has been reported and requires removal or trimming to ensure public safety.",
	models.IssueFlooding: "Flooding or drainage failure has been reported and requires attention to prevent water damage and safety hazards.",
	models.IssueOther:    "An infrastructure issue has been reported and requires inspection by the responsible city department.",
}

// highPriorityTypes drive the suggested-priority mapping: these issue
// types endanger road users or property and default to high.
var highPriorityTypes = map[models.IssueType]bool{
	models.IssuePothole:    true,
	models.IssueFlooding:   true,
	models.IssueRoadDamage: true,
	models.IssueTree:       true,
}

// Describer wraps a generative-language provider with a templated
// fallback keyed by issue type.
type Describer struct {
	client provider.TextClient
	http   *http.Client
}

// New creates a Describer. fetchClient carries the bounded image fetch
// timeout.
func New(client provider.TextClient, fetchClient *http.Client) *Describer {
	if fetchClient == nil {
		fetchClient = http.DefaultClient
	}
	return &Describer{client: client, http: fetchClient}
}

// SuggestPriority maps an issue type to a handling priority.
func SuggestPriority(issueType models.IssueType) models.Priority {
	if highPriorityTypes[issueType] {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}

// FallbackDescription returns the templated sentence for an issue
// type. Never empty.
func FallbackDescription(issueType models.IssueType) string {
	if d, ok := fallbackDescriptions[issueType]; ok {
		return d
	}
	return fallbackDescriptions[models.IssueOther]
}

// GenerateDescription produces a human-readable description for the
// analyzed report. The only error it returns is InvalidInputError for
// a missing image URL; provider failures and unusable answers select
// the templated fallback. Priority and keywords are computed on both
// paths.
func (d *Describer) GenerateDescription(ctx context.Context, imageURL string, analysis *models.AnalysisResult) (*models.DescriptionResult, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, models.ErrImageURLRequired
	}
	if analysis == nil {
		analysis = &models.AnalysisResult{IssueType: models.IssueOther}
	}

	description, ok := d.Describe(ctx, imageURL)
	return Compose(analysis, description, ok), nil
}

// Compose assembles a DescriptionResult from an analysis and the
// outcome of the primary provider path. Priority and keywords are
// computed regardless of which path produced the description.
func Compose(analysis *models.AnalysisResult, description string, primaryOK bool) *models.DescriptionResult {
	result := &models.DescriptionResult{
		SuggestedPriority: SuggestPriority(analysis.IssueType),
		Keywords:          topKeywords(analysis.Labels),
	}
	if primaryOK {
		result.Description = description
		result.Confidence = PrimaryConfidence
		return result
	}
	result.Description = FallbackDescription(analysis.IssueType)
	result.Confidence = FallbackConfidence
	return result
}

// Describe runs the primary provider path and reports whether its
// answer is usable. It never fails hard; an unusable answer selects
// the templated fallback in Compose.
func (d *Describer) Describe(ctx context.Context, imageURL string) (string, bool) {
	imageData, err := provider.FetchImage(ctx, d.http, imageURL)
	if err != nil {
		log.WithError(err).Warnf("Description falling back: image fetch failed for %s", imageURL)
		return "", false
	}

	text, err := d.client.DescribeImage(ctx, imageData, descriptionPrompt)
	if err != nil {
		log.WithError(err).Warnf("Description falling back: provider %s failed", d.client.SourceName())
		return "", false
	}

	text = strings.TrimSpace(text)
	if len(text) <= minDescriptionLength {
		log.Warnf("Description falling back: provider %s answer too short (%d chars)", d.client.SourceName(), len(text))
		return "", false
	}
	return text, true
}

func topKeywords(labels []models.Label) []string {
	keywords := make([]string, 0, maxKeywords)
	for _, l := range labels {
		if l.Description == "" {
			continue
		}
		keywords = append(keywords, l.Description)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}
