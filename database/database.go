package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cityfix-analyze-pipeline/config"
	"cityfix-analyze-pipeline/models"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

// Database wraps the MySQL connection used by the pipeline.
type Database struct {
	db *sql.DB
}

// NewDatabase opens the MySQL connection described by cfg.
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection with exponential backoff retry
	var waitInterval time.Duration = 1 * time.Second
	for {
		if err := db.Ping(); err == nil {
			break
		} else {
			log.WithError(err).Warnf("Database connection failed, retrying in %v", waitInterval)
		}
		time.Sleep(waitInterval)
		waitInterval *= 2
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// GetDB returns the underlying connection.
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// CreateTables creates the tables owned by this service. The reports
// and users tables belong to the surrounding application and are only
// read or updated here, never created.
func (d *Database) CreateTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS report_analysis (
			report_id VARCHAR(64) NOT NULL,
			source VARCHAR(255) NOT NULL,
			labels TEXT,
			issue_type VARCHAR(32) NOT NULL DEFAULT 'other',
			confidence FLOAT,
			description TEXT,
			suggested_priority VARCHAR(16) NOT NULL DEFAULT 'medium',
			description_confidence FLOAT,
			keywords TEXT,
			verified BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (report_id),
			INDEX idx_report_analysis_issue_type (issue_type)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INT NOT NULL AUTO_INCREMENT,
			user_id VARCHAR(64) NOT NULL,
			report_id VARCHAR(64) NOT NULL,
			type VARCHAR(16) NOT NULL,
			title VARCHAR(255) NOT NULL,
			message TEXT,
			is_read BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			INDEX idx_notifications_user_id (user_id),
			INDEX idx_notifications_report_id (report_id)
		)`,
		`CREATE TABLE IF NOT EXISTS opted_out_emails (
			email VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (email)
		)`,
	}

	for _, stmt := range statements {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// HasAnalysis reports whether a report already has a stored analysis.
// The creation trigger uses this to keep analysis idempotent.
func (d *Database) HasAnalysis(ctx context.Context, reportID string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM report_analysis WHERE report_id = ?", reportID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check analysis for report %s: %w", reportID, err)
	}
	return count > 0, nil
}

// SaveAnalysis stores the analysis block for a report and writes the
// generated description and issue type back onto the report row. The
// report row update is best-effort: the reports table is owned by the
// surrounding application and may not be reachable in every deployment.
func (d *Database) SaveAnalysis(ctx context.Context, reportID, source string, analysis *models.AIAnalysis) error {
	labelsJSON, err := json.Marshal(analysis.Vision.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	keywordsJSON, err := json.Marshal(analysis.Gemini.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO report_analysis
		(report_id, source, labels, issue_type, confidence, description,
		 suggested_priority, description_confidence, keywords, verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reportID,
		source,
		string(labelsJSON),
		string(analysis.Vision.IssueType),
		analysis.Vision.Confidence,
		analysis.Gemini.Description,
		string(analysis.Gemini.SuggestedPriority),
		analysis.Gemini.Confidence,
		string(keywordsJSON),
		analysis.Verified,
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis for report %s: %w", reportID, err)
	}

	if _, err := d.db.ExecContext(ctx,
		"UPDATE reports SET description = ?, issue_type = ? WHERE id = ?",
		analysis.Gemini.Description, string(analysis.Vision.IssueType), reportID); err != nil {
		log.WithError(err).Warnf("Failed to write analysis fields back to report %s", reportID)
	}
	return nil
}

// GetAnalysis loads the stored analysis block for a report.
func (d *Database) GetAnalysis(ctx context.Context, reportID string) (*models.AIAnalysis, error) {
	var (
		labelsJSON   string
		keywordsJSON string
		analysis     models.AIAnalysis
		issueType    string
		priority     string
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT labels, issue_type, confidence, description,
		       suggested_priority, description_confidence, keywords, verified
		FROM report_analysis WHERE report_id = ?`, reportID).Scan(
		&labelsJSON,
		&issueType,
		&analysis.Vision.Confidence,
		&analysis.Gemini.Description,
		&priority,
		&analysis.Gemini.Confidence,
		&keywordsJSON,
		&analysis.Verified,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis for report %s: %w", reportID, err)
	}

	analysis.Vision.IssueType = models.IssueType(issueType)
	analysis.Gemini.SuggestedPriority = models.Priority(priority)
	if err := json.Unmarshal([]byte(labelsJSON), &analysis.Vision.Labels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal labels for report %s: %w", reportID, err)
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &analysis.Gemini.Keywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords for report %s: %w", reportID, err)
	}
	return &analysis, nil
}

// SaveNotification stores a status-change notification.
func (d *Database) SaveNotification(ctx context.Context, n *models.Notification) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, report_id, type, title, message, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.UserID, n.ReportID, string(n.Type), n.Title, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save notification for report %s: %w", n.ReportID, err)
	}
	return nil
}

// GetUserEmail looks up the report owner's email. Returns "" without
// error when the user has no address on file.
func (d *Database) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email sql.NullString
	err := d.db.QueryRowContext(ctx,
		"SELECT email FROM users WHERE id = ?", userID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up email for user %s: %w", userID, err)
	}
	return email.String, nil
}

// IsEmailOptedOut checks whether an address has opted out of emails.
func (d *Database) IsEmailOptedOut(ctx context.Context, email string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM opted_out_emails WHERE email = ?", email).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check opt-out for %s: %w", email, err)
	}
	return count > 0, nil
}

// Stats summarizes stored pipeline output for the stats endpoint.
type Stats struct {
	TotalAnalyzed      int            `json:"total_analyzed"`
	TotalNotifications int            `json:"total_notifications"`
	ByIssueType        map[string]int `json:"analyses_by_issue_type"`
}

// GetStats returns aggregate counts for dashboards.
func (d *Database) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByIssueType: make(map[string]int)}

	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM report_analysis").Scan(&stats.TotalAnalyzed); err != nil {
		return nil, fmt.Errorf("failed to count analyses: %w", err)
	}
	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications").Scan(&stats.TotalNotifications); err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		"SELECT issue_type, COUNT(*) FROM report_analysis GROUP BY issue_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count analyses by issue type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var issueType string
		var count int
		if err := rows.Scan(&issueType, &count); err != nil {
			continue
		}
		stats.ByIssueType[issueType] = count
	}
	return stats, nil
}
