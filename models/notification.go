package models

import (
	"time"
)

// NotificationType is the severity of a user-facing notification.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationAlert   NotificationType = "alert"
)

// AnonymousUserID is the sentinel owner used for notifications on
// reports without a known submitter.
const AnonymousUserID = "anonymous"

// Notification is a user-facing record created for a status transition.
type Notification struct {
	UserID    string           `json:"userId"`
	ReportID  string           `json:"reportId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}
