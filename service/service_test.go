package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cityfix-analyze-pipeline/describer"
	"cityfix-analyze-pipeline/extractor"
	"cityfix-analyze-pipeline/models"
)

type fakeLabelClient struct {
	labels []models.Label
	err    error
	calls  int
}

func (f *fakeLabelClient) DetectLabels(_ context.Context, _ []byte) ([]models.Label, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.labels, nil
}

func (f *fakeLabelClient) SourceName() string { return "Fake" }

type fakeTextClient struct {
	answer string
	err    error
	calls  int
}

func (f *fakeTextClient) DescribeImage(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeTextClient) SourceName() string { return "Fake" }

type fakeAnalysisStore struct {
	existing map[string]bool
	saved    map[string]*models.AIAnalysis
	checkErr error
	saveErr  error
}

func newFakeAnalysisStore() *fakeAnalysisStore {
	return &fakeAnalysisStore{
		existing: make(map[string]bool),
		saved:    make(map[string]*models.AIAnalysis),
	}
}

func (f *fakeAnalysisStore) HasAnalysis(_ context.Context, reportID string) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return f.existing[reportID], nil
}

func (f *fakeAnalysisStore) SaveAnalysis(_ context.Context, reportID, _ string, analysis *models.AIAnalysis) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[reportID] = analysis
	return nil
}

type fakePublisher struct {
	published []interface{}
	err       error
}

func (f *fakePublisher) Publish(message interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, message)
	return nil
}

func imageServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte("fake-jpeg-bytes"))
		}
	}))
}

func newService(labels *fakeLabelClient, text *fakeTextClient, store Store, pub Publisher, httpClient *http.Client) *Service {
	return NewService(
		extractor.New(labels, httpClient),
		describer.New(text, httpClient),
		labels.SourceName(),
		store,
		pub,
	)
}

func TestAnalyzePotholeScenario(t *testing.T) {
	srv := imageServer(t, http.StatusOK)
	defer srv.Close()

	labels := &fakeLabelClient{labels: []models.Label{
		{Description: "pothole", Score: 0.95},
		{Description: "asphalt", Score: 0.9},
		{Description: "road", Score: 0.85},
		{Description: "crack", Score: 0.8},
		{Description: "damage", Score: 0.75},
	}}
	text := &fakeTextClient{answer: "A deep pothole in the right lane requires asphalt patching."}
	s := newService(labels, text, newFakeAnalysisStore(), nil, srv.Client())

	analysis, err := s.Analyze(context.Background(), srv.URL+"/a.jpg")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if analysis.Vision.IssueType != models.IssuePothole {
		t.Errorf("issueType = %q, want pothole", analysis.Vision.IssueType)
	}
	if analysis.Vision.Confidence != 0.95 {
		t.Errorf("confidence = %v, want first label score 0.95", analysis.Vision.Confidence)
	}
	if len(analysis.Vision.Labels) != 5 {
		t.Errorf("expected all 5 labels, got %d", len(analysis.Vision.Labels))
	}
	if analysis.Gemini.Description != text.answer {
		t.Errorf("description = %q, want provider answer", analysis.Gemini.Description)
	}
	if analysis.Gemini.SuggestedPriority != models.PriorityHigh {
		t.Errorf("priority = %q, want high", analysis.Gemini.SuggestedPriority)
	}
	expectedKeywords := []string{"pothole", "asphalt", "road"}
	if len(analysis.Gemini.Keywords) != len(expectedKeywords) {
		t.Fatalf("keywords = %v, want %v", analysis.Gemini.Keywords, expectedKeywords)
	}
	for i, kw := range expectedKeywords {
		if analysis.Gemini.Keywords[i] != kw {
			t.Errorf("keywords[%d] = %q, want %q", i, analysis.Gemini.Keywords[i], kw)
		}
	}
	if analysis.Verified {
		t.Error("fresh analysis must not be verified")
	}
}

func TestAnalyzeTotalProviderFailure(t *testing.T) {
	srv := imageServer(t, http.StatusInternalServerError)
	defer srv.Close()

	labels := &fakeLabelClient{err: errors.New("unreachable")}
	text := &fakeTextClient{err: errors.New("unreachable")}
	s := newService(labels, text, newFakeAnalysisStore(), nil, srv.Client())

	analysis, err := s.Analyze(context.Background(), srv.URL+"/a.jpg")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if len(analysis.Vision.Labels) != 2 {
		t.Fatalf("expected the fixed fallback label set, got %v", analysis.Vision.Labels)
	}
	if analysis.Vision.Labels[0].Description != "infrastructure" || analysis.Vision.Labels[0].Score != 0.4 {
		t.Errorf("unexpected first fallback label: %+v", analysis.Vision.Labels[0])
	}
	if analysis.Vision.IssueType != models.IssueRoadDamage {
		t.Errorf("issueType = %q, want road-damage for the fallback set", analysis.Vision.IssueType)
	}
	if analysis.Vision.Confidence != 0.4 {
		t.Errorf("confidence = %v, want fallback 0.4", analysis.Vision.Confidence)
	}
	if analysis.Gemini.Description != describer.FallbackDescription(models.IssueRoadDamage) {
		t.Errorf("expected templated description, got %q", analysis.Gemini.Description)
	}
	if analysis.Gemini.Confidence != describer.FallbackConfidence {
		t.Errorf("description confidence = %v, want %v", analysis.Gemini.Confidence, describer.FallbackConfidence)
	}
}

func TestAnalyzeImageInvalidInput(t *testing.T) {
	s := newService(&fakeLabelClient{}, &fakeTextClient{}, newFakeAnalysisStore(), nil, http.DefaultClient)

	for _, url := range []string{"", "   ", "not a url"} {
		_, err := s.AnalyzeImage(context.Background(), url)
		var invalid *models.InvalidInputError
		if !errors.As(err, &invalid) {
			t.Errorf("AnalyzeImage(%q) error = %v, want InvalidInputError", url, err)
		}
	}
}

func TestHandleReportCreatedPersistsAndPublishes(t *testing.T) {
	srv := imageServer(t, http.StatusOK)
	defer srv.Close()

	labels := &fakeLabelClient{labels: []models.Label{{Description: "pothole", Score: 0.9}}}
	text := &fakeTextClient{answer: "A pothole needing asphalt repair on the main road."}
	store := newFakeAnalysisStore()
	pub := &fakePublisher{}
	s := newService(labels, text, store, pub, srv.Client())

	report := models.Report{ID: "r1", UserID: "u1", ImageURL: srv.URL + "/a.jpg", Status: models.StatusOpen}
	if err := s.HandleReportCreated(context.Background(), report); err != nil {
		t.Fatalf("HandleReportCreated returned error: %v", err)
	}

	saved, ok := store.saved["r1"]
	if !ok {
		t.Fatal("analysis was not persisted")
	}
	if saved.Vision.IssueType != models.IssuePothole {
		t.Errorf("persisted issueType = %q, want pothole", saved.Vision.IssueType)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	msg, ok := pub.published[0].(models.AnalyzedReport)
	if !ok {
		t.Fatalf("published message has wrong type: %T", pub.published[0])
	}
	if msg.Report.ID != "r1" || msg.Report.IssueType != models.IssuePothole {
		t.Errorf("published report wrong: %+v", msg.Report)
	}
}

func TestHandleReportCreatedIdempotent(t *testing.T) {
	labels := &fakeLabelClient{labels: []models.Label{{Description: "pothole", Score: 0.9}}}
	text := &fakeTextClient{answer: "would not matter"}
	store := newFakeAnalysisStore()
	store.existing["r1"] = true
	s := newService(labels, text, store, nil, http.DefaultClient)

	report := models.Report{ID: "r1", ImageURL: "https://example.com/a.jpg"}
	if err := s.HandleReportCreated(context.Background(), report); err != nil {
		t.Fatalf("HandleReportCreated returned error: %v", err)
	}

	if labels.calls != 0 || text.calls != 0 {
		t.Errorf("providers must not run for an analyzed report, got %d/%d calls", labels.calls, text.calls)
	}
	if len(store.saved) != 0 {
		t.Errorf("nothing should be persisted, got %d saves", len(store.saved))
	}
}

func TestHandleReportCreatedAbsorbsErrors(t *testing.T) {
	srv := imageServer(t, http.StatusOK)
	defer srv.Close()

	tests := []struct {
		name   string
		store  *fakeAnalysisStore
		report models.Report
	}{
		{
			name:   "invalid image url",
			store:  newFakeAnalysisStore(),
			report: models.Report{ID: "r1", ImageURL: ""},
		},
		{
			name: "idempotence check failure",
			store: func() *fakeAnalysisStore {
				s := newFakeAnalysisStore()
				s.checkErr = errors.New("db down")
				return s
			}(),
			report: models.Report{ID: "r1", ImageURL: srv.URL + "/a.jpg"},
		},
		{
			name: "persistence failure",
			store: func() *fakeAnalysisStore {
				s := newFakeAnalysisStore()
				s.saveErr = errors.New("db down")
				return s
			}(),
			report: models.Report{ID: "r1", ImageURL: srv.URL + "/a.jpg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := &fakeLabelClient{labels: []models.Label{{Description: "pothole", Score: 0.9}}}
			text := &fakeTextClient{answer: "A pothole needing asphalt repair on the main road."}
			s := newService(labels, text, tt.store, nil, srv.Client())

			if err := s.HandleReportCreated(context.Background(), tt.report); err != nil {
				t.Errorf("event host must never see an error, got %v", err)
			}
		})
	}
}

func TestHandleReportCreatedPublishFailureNonFatal(t *testing.T) {
	srv := imageServer(t, http.StatusOK)
	defer srv.Close()

	labels := &fakeLabelClient{labels: []models.Label{{Description: "trash", Score: 0.9}}}
	text := &fakeTextClient{answer: "Garbage bags piled next to an overflowing container."}
	store := newFakeAnalysisStore()
	pub := &fakePublisher{err: errors.New("broker gone")}
	s := newService(labels, text, store, pub, srv.Client())

	report := models.Report{ID: "r1", ImageURL: srv.URL + "/a.jpg"}
	if err := s.HandleReportCreated(context.Background(), report); err != nil {
		t.Fatalf("HandleReportCreated returned error: %v", err)
	}
	if _, ok := store.saved["r1"]; !ok {
		t.Error("analysis must be persisted even when fan-out fails")
	}
}
