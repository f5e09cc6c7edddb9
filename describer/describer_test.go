package describer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cityfix-analyze-pipeline/models"
)

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

func imageServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte("fake-jpeg-bytes"))
		}
	}))
}

func TestSuggestPriority(t *testing.T) {
	tests := []struct {
		issueType models.IssueType
		expected  models.Priority
	}{
		{models.IssuePothole, models.PriorityHigh},
		{models.IssueFlooding, models.PriorityHigh},
		{models.IssueRoadDamage, models.PriorityHigh},
		{models.IssueTree, models.PriorityHigh},
		{models.IssueGarbage, models.PriorityMedium},
		{models.IssueOther, models.PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(string(tt.issueType), func(t *testing.T) {
			if got := SuggestPriority(tt.issueType); got != tt.expected {
				t.Errorf("SuggestPriority(%q) = %q, want %q", tt.issueType, got, tt.expected)
			}
		})
	}
}

func TestFallbackDescription(t *testing.T) {
	for _, issueType := range []models.IssueType{
		models.IssuePothole,
		models.IssueGarbage,
		models.IssueTree,
		models.IssueFlooding,
		models.IssueRoadDamage,
		models.IssueOther,
	} {
		desc := FallbackDescription(issueType)
		if len(strings.TrimSpace(desc)) <= minDescriptionLength {
			t.Errorf("fallback description for %q too short: %q", issueType, desc)
		}
	}

	// road-damage has no dedicated template; it shares the catch-all.
	if FallbackDescription(models.IssueRoadDamage) != FallbackDescription(models.IssueOther) {
		t.Error("road-damage must use the catch-all template")
	}
}

func TestGenerateDescriptionInvalidInput(t *testing.T) {
	d := New(&fakeTextClient{}, nil)
	_, err := d.GenerateDescription(context.Background(), "", &models.AnalysisResult{})
	var invalid *models.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidInputError, got %v", err)
	}
}

func TestGenerateDescriptionPrimaryPath(t *testing.T) {
	srv := imageServer(t, http.StatusOK)
	defer srv.Close()

	client := &fakeTextClient{answer: "A deep pothole in the right lane requires asphalt patching."}
	d := New(client, srv.Client())

	analysis := &models.AnalysisResult{
		Labels: []models.Label{
			{Description: "pothole", Score: 0.9},
			{Description: "asphalt", Score: 0.8},
			{Description: "road", Score: 0.7},
			{Description: "crack", Score: 0.6},
		},
		IssueType:  models.IssuePothole,
		Confidence: 0.9,
	}

	result, err := d.GenerateDescription(context.Background(), srv.URL+"/a.jpg", analysis)
	if err != nil {
		t.Fatalf("GenerateDescription returned error: %v", err)
	}
	if result.Description != client.answer {
		t.Errorf("expected provider description, got %q", result.Description)
	}
	if result.Confidence != PrimaryConfidence {
		t.Errorf("confidence = %v, want %v", result.Confidence, PrimaryConfidence)
	}
	if result.SuggestedPriority != models.PriorityHigh {
		t.Errorf("priority = %q, want high", result.SuggestedPriority)
	}
	expectedKeywords := []string{"pothole", "asphalt", "road"}
	if len(result.Keywords) != len(expectedKeywords) {
		t.Fatalf("keywords = %v, want %v", result.Keywords, expectedKeywords)
	}
	for i, kw := range expectedKeywords {
		if result.Keywords[i] != kw {
			t.Errorf("keywords[%d] = %q, want %q", i, result.Keywords[i], kw)
		}
	}
}

func TestGenerateDescriptionFallback(t *testing.T) {
	okSrv := imageServer(t, http.StatusOK)
	defer okSrv.Close()
	badSrv := imageServer(t, http.StatusInternalServerError)
	defer badSrv.Close()

	tests := []struct {
		name   string
		url    string
		client *fakeTextClient
		srv    *httptest.Server
	}{
		{"provider error", okSrv.URL + "/a.jpg", &fakeTextClient{err: errors.New("boom")}, okSrv},
		{"answer too short", okSrv.URL + "/a.jpg", &fakeTextClient{answer: "broken"}, okSrv},
		{"blank answer", okSrv.URL + "/a.jpg", &fakeTextClient{answer: "          "}, okSrv},
		{"image fetch failure", badSrv.URL + "/a.jpg", &fakeTextClient{answer: "long enough answer here"}, badSrv},
	}

	analysis := &models.AnalysisResult{
		Labels:    []models.Label{{Description: "trash", Score: 0.9}},
		IssueType: models.IssueGarbage,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.client, tt.srv.Client())
			result, err := d.GenerateDescription(context.Background(), tt.url, analysis)
			if err != nil {
				t.Fatalf("GenerateDescription returned error: %v", err)
			}
			if result.Description != FallbackDescription(models.IssueGarbage) {
				t.Errorf("expected garbage template, got %q", result.Description)
			}
			if result.Confidence != FallbackConfidence {
				t.Errorf("confidence = %v, want %v", result.Confidence, FallbackConfidence)
			}
			if result.SuggestedPriority != models.PriorityMedium {
				t.Errorf("priority = %q, want medium", result.SuggestedPriority)
			}
		})
	}
}
