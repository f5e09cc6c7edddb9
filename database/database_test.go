package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"cityfix-analyze-pipeline/models"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
)

func setUp() {
	db, mock, _ = sqlmock.New()
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func TestHasAnalysis(t *testing.T) {
	it(func() {
		testCases := []struct {
			name     string
			reportID string
			count    int
			expected bool
		}{
			{
				name:     "existing analysis",
				reportID: "r1",
				count:    1,
				expected: true,
			},
			{
				name:     "no analysis yet",
				reportID: "r2",
				count:    0,
				expected: false,
			},
		}

		d := NewWithDB(db)
		for _, testCase := range testCases {
			mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM report_analysis WHERE report_id = \\?").
				WithArgs(testCase.reportID).
				WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(testCase.count))

			got, err := d.HasAnalysis(context.Background(), testCase.reportID)
			if err != nil {
				t.Errorf("%s, HasAnalysis: unexpected error: %v", testCase.name, err)
			}
			if got != testCase.expected {
				t.Errorf("%s, HasAnalysis = %v, want %v", testCase.name, got, testCase.expected)
			}
		}
	})
}

func TestSaveAnalysis(t *testing.T) {
	it(func() {
		analysis := &models.AIAnalysis{
			Vision: models.AnalysisResult{
				Labels:     []models.Label{{Description: "pothole", Score: 0.95}},
				IssueType:  models.IssuePothole,
				Confidence: 0.95,
			},
			Gemini: models.DescriptionResult{
				Description:       "A deep pothole in the right lane requires asphalt patching.",
				SuggestedPriority: models.PriorityHigh,
				Confidence:        0.87,
				Keywords:          []string{"pothole"},
			},
		}

		mock.ExpectExec("INSERT INTO report_analysis").
			WithArgs("r1", "Google Vision",
				`[{"description":"pothole","score":0.95}]`,
				"pothole", 0.95,
				analysis.Gemini.Description,
				"high", 0.87,
				`["pothole"]`,
				false).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE reports SET description = \\?, issue_type = \\? WHERE id = \\?").
			WithArgs(analysis.Gemini.Description, "pothole", "r1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		d := NewWithDB(db)
		if err := d.SaveAnalysis(context.Background(), "r1", "Google Vision", analysis); err != nil {
			t.Errorf("SaveAnalysis: unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestSaveAnalysisReportWriteBackFailureNonFatal(t *testing.T) {
	it(func() {
		analysis := &models.AIAnalysis{
			Vision: models.AnalysisResult{IssueType: models.IssueOther, Confidence: 0.4},
			Gemini: models.DescriptionResult{Description: "An issue.", SuggestedPriority: models.PriorityMedium, Confidence: 0.6},
		}

		mock.ExpectExec("INSERT INTO report_analysis").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE reports").
			WillReturnError(sql.ErrConnDone)

		d := NewWithDB(db)
		if err := d.SaveAnalysis(context.Background(), "r1", "Stub", analysis); err != nil {
			t.Errorf("report write-back failure must not fail the save, got %v", err)
		}
	})
}

func TestGetAnalysis(t *testing.T) {
	it(func() {
		rows := sqlmock.NewRows([]string{
			"labels", "issue_type", "confidence", "description",
			"suggested_priority", "description_confidence", "keywords", "verified",
		}).AddRow(
			`[{"description":"pothole","score":0.95}]`,
			"pothole", 0.95,
			"A deep pothole in the right lane requires asphalt patching.",
			"high", 0.87,
			`["pothole","asphalt"]`,
			false,
		)
		mock.ExpectQuery("SELECT labels, issue_type, confidence, description").
			WithArgs("r1").
			WillReturnRows(rows)

		d := NewWithDB(db)
		analysis, err := d.GetAnalysis(context.Background(), "r1")
		if err != nil {
			t.Fatalf("GetAnalysis: unexpected error: %v", err)
		}
		if analysis.Vision.IssueType != models.IssuePothole {
			t.Errorf("issueType = %q, want pothole", analysis.Vision.IssueType)
		}
		if len(analysis.Vision.Labels) != 1 || analysis.Vision.Labels[0].Description != "pothole" {
			t.Errorf("labels = %v, want one pothole label", analysis.Vision.Labels)
		}
		if analysis.Gemini.SuggestedPriority != models.PriorityHigh {
			t.Errorf("priority = %q, want high", analysis.Gemini.SuggestedPriority)
		}
		if len(analysis.Gemini.Keywords) != 2 {
			t.Errorf("keywords = %v, want 2 entries", analysis.Gemini.Keywords)
		}
	})
}

func TestSaveNotification(t *testing.T) {
	it(func() {
		createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		n := &models.Notification{
			UserID:    "u1",
			ReportID:  "r1",
			Type:      models.NotificationSuccess,
			Title:     "Issue Resolved",
			Message:   "Great news! Your report has been resolved.",
			Read:      false,
			CreatedAt: createdAt,
		}

		mock.ExpectExec("INSERT INTO notifications").
			WithArgs("u1", "r1", "success", n.Title, n.Message, false, createdAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		d := NewWithDB(db)
		if err := d.SaveNotification(context.Background(), n); err != nil {
			t.Errorf("SaveNotification: unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestGetUserEmail(t *testing.T) {
	it(func() {
		testCases := []struct {
			name     string
			userID   string
			rows     *sqlmock.Rows
			expected string
		}{
			{
				name:     "address on file",
				userID:   "u1",
				rows:     sqlmock.NewRows([]string{"email"}).AddRow("u1@example.com"),
				expected: "u1@example.com",
			},
			{
				name:     "unknown user yields empty without error",
				userID:   "ghost",
				rows:     sqlmock.NewRows([]string{"email"}),
				expected: "",
			},
		}

		d := NewWithDB(db)
		for _, testCase := range testCases {
			mock.ExpectQuery("SELECT email FROM users WHERE id = \\?").
				WithArgs(testCase.userID).
				WillReturnRows(testCase.rows)

			got, err := d.GetUserEmail(context.Background(), testCase.userID)
			if err != nil {
				t.Errorf("%s, GetUserEmail: unexpected error: %v", testCase.name, err)
			}
			if got != testCase.expected {
				t.Errorf("%s, GetUserEmail = %q, want %q", testCase.name, got, testCase.expected)
			}
		}
	})
}

func TestIsEmailOptedOut(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM opted_out_emails WHERE email = \\?").
			WithArgs("u1@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))

		d := NewWithDB(db)
		optedOut, err := d.IsEmailOptedOut(context.Background(), "u1@example.com")
		if err != nil {
			t.Errorf("IsEmailOptedOut: unexpected error: %v", err)
		}
		if !optedOut {
			t.Error("expected opted-out = true")
		}
	})
}

func TestGetStats(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM report_analysis").
			WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(42))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM notifications").
			WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(7))
		mock.ExpectQuery("SELECT issue_type, COUNT\\(\\*\\) FROM report_analysis GROUP BY issue_type").
			WillReturnRows(sqlmock.NewRows([]string{"issue_type", "COUNT(*)"}).
				AddRow("pothole", 30).
				AddRow("garbage", 12))

		d := NewWithDB(db)
		stats, err := d.GetStats(context.Background())
		if err != nil {
			t.Fatalf("GetStats: unexpected error: %v", err)
		}
		if stats.TotalAnalyzed != 42 || stats.TotalNotifications != 7 {
			t.Errorf("totals = %d/%d, want 42/7", stats.TotalAnalyzed, stats.TotalNotifications)
		}
		if stats.ByIssueType["pothole"] != 30 {
			t.Errorf("pothole count = %d, want 30", stats.ByIssueType["pothole"])
		}
	})
}
