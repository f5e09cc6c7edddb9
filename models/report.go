package models

import (
	"time"
)

// IssueType is the closed taxonomy a report is classified into.
type IssueType string

const (
	IssuePothole    IssueType = "pothole"
	IssueGarbage    IssueType = "garbage"
	IssueTree       IssueType = "tree"
	IssueFlooding   IssueType = "flooding"
	IssueRoadDamage IssueType = "road-damage"
	IssueOther      IssueType = "other"
)

// Priority is the suggested handling priority for a report.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

// Report statuses. Two historical schemes are in circulation
// ("open" vs "reported"); the notifier treats statuses as opaque
// strings so both keep working.
const (
	StatusOpen         = "open"
	StatusReported     = "reported"
	StatusAcknowledged = "acknowledged"
	StatusInProgress   = "in-progress"
	StatusResolved     = "resolved"
	StatusFlagged      = "flagged"
	StatusVerified     = "verified"
)

// Label is a semantic tag describing visual content of a report image.
type Label struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// AnalysisResult is the output of the label-extraction stage.
// Labels are ordered highest confidence first; IssueType is a pure
// function of Labels; Confidence is the first label's score.
type AnalysisResult struct {
	Labels     []Label   `json:"labels"`
	IssueType  IssueType `json:"issueType"`
	Confidence float64   `json:"confidence"`
}

// DescriptionResult is the output of the description-generation stage.
type DescriptionResult struct {
	Description       string   `json:"description"`
	SuggestedPriority Priority `json:"suggestedPriority"`
	Confidence        float64  `json:"confidence"`
	Keywords          []string `json:"keywords"`
}

// AIAnalysis is the full analysis block attached to a report record.
type AIAnalysis struct {
	Vision   AnalysisResult    `json:"vision"`
	Gemini   DescriptionResult `json:"gemini"`
	Verified bool              `json:"verified"`
}

// Report represents a citizen report. The report record itself is
// owned by the surrounding application; this pipeline only reads it
// and writes the analysis fields back once.
type Report struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ImageURL    string    `json:"imageUrl"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	IssueType   IssueType `json:"issueType,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// ReportCreatedEvent is the payload of a report-creation trigger.
type ReportCreatedEvent struct {
	Report Report `json:"report"`
}

// ReportUpdatedEvent is the payload of a report-update trigger,
// carrying the record before and after the change.
type ReportUpdatedEvent struct {
	Before Report `json:"before"`
	After  Report `json:"after"`
}

// AnalyzedReport is published downstream after a creation-triggered
// analysis completes.
type AnalyzedReport struct {
	Report   Report     `json:"report"`
	Analysis AIAnalysis `json:"analysis"`
}
