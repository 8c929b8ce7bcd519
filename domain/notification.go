package domain

import "time"

// Notification is the UI-facing view of an interacted activity.
type Notification struct {
	ActivityId      int64
	Oid             string
	Type            ActivityType
	Interaction     NotificationEventType
	ActorId         int64
	ActorName       string
	NotifiedActorId int64
	NoteId          int64
	NoteContent     string
	Notified        TriState
	UpdatedAt       time.Time
}
