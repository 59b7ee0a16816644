package domain

import (
	"encoding/json"
	"strings"
)

// Read-model update types published by the backend.
const (
	EventTaskCreated         = "task-created"
	EventTaskUpdated         = "task-updated"
	EventTaskCompleted       = "task-completed"
	EventTaskReopened        = "task-reopened"
	EventTaskDeleted         = "task-deleted"
	EventProjectUpdated      = "project-updated"
	EventProjectArchived     = "project-archived"
	EventProjectDeleted      = "project-deleted"
	EventNotificationCreated = "notification-created"
	EventNotificationRead    = "notification-read"
	EventNotificationDeleted = "notification-deleted"
	EventUserLoggedIn        = "user-logged-in"
	EventUserLoggedOut       = "user-logged-out"
	EventUserSettingsUpdated = "user-settings-updated"
)

// Event is a read-model update notice. It names the entity that changed;
// it never carries the entity state itself.
type Event struct {
	EntityID   string          `json:"EntityId"`
	EntityType string          `json:"EntityType"`
	Type       string          `json:"Type"`
	Data       json.RawMessage `json:"Data,omitempty"`
	UserID     string          `json:"UserId"`
}

// IsDeletion reports whether the event announces removal of its entity.
func (e Event) IsDeletion() bool {
	return strings.HasSuffix(e.Type, "-deleted")
}
