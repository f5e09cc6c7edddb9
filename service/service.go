package service

import (
	"context"
	"time"

	"cityfix-analyze-pipeline/classifier"
	"cityfix-analyze-pipeline/describer"
	"cityfix-analyze-pipeline/extractor"
	"cityfix-analyze-pipeline/metrics"
	"cityfix-analyze-pipeline/models"

	"github.com/apex/log"
)

// Store is the persistence surface the orchestrator needs. The
// concrete implementation lives in the database package; tests
// substitute fakes.
type Store interface {
	HasAnalysis(ctx context.Context, reportID string) (bool, error)
	SaveAnalysis(ctx context.Context, reportID, source string, analysis *models.AIAnalysis) error
}

// Publisher fans analyzed reports out to downstream consumers.
type Publisher interface {
	Publish(message interface{}) error
}

// Service orchestrates label extraction, classification and
// description generation, and handles the report-creation trigger.
type Service struct {
	extractor *extractor.Extractor
	describer *describer.Describer
	source    string
	store     Store
	publisher Publisher
}

// NewService creates the analysis orchestrator. publisher may be nil;
// analyzed-report fan-out is then skipped.
func NewService(ext *extractor.Extractor, desc *describer.Describer, source string, store Store, publisher Publisher) *Service {
	return &Service{
		extractor: ext,
		describer: desc,
		source:    source,
		store:     store,
		publisher: publisher,
	}
}

// AnalyzeImage runs label extraction and classification for one image.
// The only caller-visible error is InvalidInputError for a missing or
// malformed imageURL; provider failures surface as the fallback label
// set with degraded confidence.
func (s *Service) AnalyzeImage(ctx context.Context, imageURL string) (*models.AnalysisResult, error) {
	result, err := s.extractor.ExtractLabels(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	if !result.Succeeded {
		metrics.LabelFallbackTotal.Inc()
	}
	return buildAnalysis(result), nil
}

// GenerateDescription produces the description stage for an existing
// analysis. Same error contract as AnalyzeImage.
func (s *Service) GenerateDescription(ctx context.Context, imageURL string, analysis *models.AnalysisResult) (*models.DescriptionResult, error) {
	result, err := s.describer.GenerateDescription(ctx, imageURL, analysis)
	if err != nil {
		return nil, err
	}
	if result.Confidence == describer.FallbackConfidence {
		metrics.DescriptionFallbackTotal.Inc()
	}
	return result, nil
}

// Analyze runs the full pipeline for one image. The label path and the
// description provider path fetch the image independently and run
// concurrently; the description is assembled once the labels are in.
func (s *Service) Analyze(ctx context.Context, imageURL string) (*models.AIAnalysis, error) {
	type describeOutcome struct {
		text string
		ok   bool
	}
	descCh := make(chan describeOutcome, 1)
	go func() {
		text, ok := s.describer.Describe(ctx, imageURL)
		descCh <- describeOutcome{text: text, ok: ok}
	}()

	labelResult, err := s.extractor.ExtractLabels(ctx, imageURL)
	if err != nil {
		// Invalid input: the description goroutine will fail its fetch
		// and terminate on its own; nothing to clean up.
		return nil, err
	}
	if !labelResult.Succeeded {
		metrics.LabelFallbackTotal.Inc()
	}

	analysis := buildAnalysis(labelResult)
	outcome := <-descCh
	if !outcome.ok {
		metrics.DescriptionFallbackTotal.Inc()
	}

	return &models.AIAnalysis{
		Vision:   *analysis,
		Gemini:   *describer.Compose(analysis, outcome.text, outcome.ok),
		Verified: false,
	}, nil
}

// HandleReportCreated is the creation-trigger entry point. It never
// propagates provider or persistence errors to the event host: on
// failure the report is simply left unanalyzed. Analysis runs at most
// once per report.
func (s *Service) HandleReportCreated(ctx context.Context, report models.Report) error {
	startedAt := time.Now()

	exists, err := s.store.HasAnalysis(ctx, report.ID)
	if err != nil {
		log.WithError(err).Errorf("Skipping analysis for report %s: idempotence check failed", report.ID)
		metrics.AnalysesTotal.WithLabelValues("event", "error").Inc()
		return nil
	}
	if exists {
		log.Infof("Report %s already analyzed, skipping", report.ID)
		metrics.AnalysesTotal.WithLabelValues("event", "skipped").Inc()
		return nil
	}

	analysis, err := s.Analyze(ctx, report.ImageURL)
	if err != nil {
		log.WithError(err).Errorf("Leaving report %s unanalyzed", report.ID)
		metrics.AnalysesTotal.WithLabelValues("event", "invalid_input").Inc()
		return nil
	}

	if err := s.store.SaveAnalysis(ctx, report.ID, s.source, analysis); err != nil {
		log.WithError(err).Errorf("Failed to persist analysis for report %s", report.ID)
		metrics.AnalysesTotal.WithLabelValues("event", "persistence_error").Inc()
		return nil
	}

	metrics.AnalysesTotal.WithLabelValues("event", "success").Inc()
	metrics.AnalysisDurationSeconds.WithLabelValues("event").Observe(time.Since(startedAt).Seconds())
	log.Infof("Analyzed report %s: issue_type=%s confidence=%.2f priority=%s",
		report.ID, analysis.Vision.IssueType, analysis.Vision.Confidence, analysis.Gemini.SuggestedPriority)

	s.publishAnalyzedReport(report, analysis)
	return nil
}

// publishAnalyzedReport fans the result out to downstream consumers.
// Best-effort: failures are logged, the analysis is already persisted.
func (s *Service) publishAnalyzedReport(report models.Report, analysis *models.AIAnalysis) {
	if s.publisher == nil {
		return
	}
	report.Description = analysis.Gemini.Description
	report.IssueType = analysis.Vision.IssueType
	message := models.AnalyzedReport{Report: report, Analysis: *analysis}
	if err := s.publisher.Publish(message); err != nil {
		log.WithError(err).Warnf("Failed to publish analyzed report %s", report.ID)
	}
}

// buildAnalysis folds labels into the immutable analysis result.
// Confidence is the first label's score: the primary path tops out at
// the provider's own score (or synthetic 0.9), the fallback set at its
// fixed low score.
func buildAnalysis(result extractor.Result) *models.AnalysisResult {
	analysis := &models.AnalysisResult{
		Labels:    result.Labels,
		IssueType: classifier.Classify(result.Labels),
	}
	if len(result.Labels) > 0 {
		analysis.Confidence = result.Labels[0].Score
	}
	return analysis
}
