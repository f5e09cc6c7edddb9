package notifier

import (
	"fmt"

	"cityfix-analyze-pipeline/models"
)

// Content is the user-facing payload selected for a status transition.
type Content struct {
	Type    models.NotificationType
	Title   string
	Message string
}

// transitions maps a report's new status to notification content.
// Statuses outside the table get the generic default below; equal
// before/after statuses produce no notification at all.
var transitions = map[string]Content{
	models.StatusResolved: {
		Type:    models.NotificationSuccess,
		Title:   "Issue Resolved",
		Message: "Your reported issue has been resolved.",
	},
	models.StatusInProgress: {
		Type:    models.NotificationInfo,
		Title:   "Work In Progress",
		Message: "Maintenance crew is currently working on your report.",
	},
	models.StatusFlagged: {
		Type:    models.NotificationAlert,
		Title:   "Report Flagged",
		Message: "Your report was flagged for further review by the moderation team.",
	},
}

// Transition returns the notification content for a status change, or
// nil when previous and new status are equal. Pure: the decision
// depends only on the two statuses.
func Transition(previousStatus, newStatus string) *Content {
	if previousStatus == newStatus {
		return nil
	}
	if c, ok := transitions[newStatus]; ok {
		content := c
		return &content
	}
	return &Content{
		Type:    models.NotificationInfo,
		Title:   "Status Updated",
		Message: fmt.Sprintf("Status changed to %s.", newStatus),
	}
}
