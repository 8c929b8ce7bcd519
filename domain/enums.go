package domain

import "strings"

// TriState is a boolean that also remembers "not known yet".
// Stored as an integer column: 0 unknown, 1 true, 2 false.
type TriState uint8

const (
	UNKNOWN TriState = iota
	TRUE
	FALSE
)

func TriStateFromBool(b bool) TriState {
	if b {
		return TRUE
	}
	return FALSE
}

func (t TriState) IsTrue() bool  { return t == TRUE }
func (t TriState) IsFalse() bool { return t == FALSE }
func (t TriState) Known() bool   { return t != UNKNOWN }

func (t TriState) String() string {
	switch t {
	case TRUE:
		return "true"
	case FALSE:
		return "false"
	default:
		return "unknown"
	}
}

// ActivityType is the verb of an Activity.
type ActivityType int

const (
	ActivityUnknown ActivityType = iota
	ActivityCreate
	ActivityUpdate
	ActivityDelete
	ActivityLike
	ActivityUndoLike
	ActivityAnnounce
	ActivityUndoAnnounce
	ActivityFollow
	ActivityUndoFollow
	ActivityJoin
)

var activityTypeNames = map[ActivityType]string{
	ActivityUnknown:      "Unknown",
	ActivityCreate:       "Create",
	ActivityUpdate:       "Update",
	ActivityDelete:       "Delete",
	ActivityLike:         "Like",
	ActivityUndoLike:     "UndoLike",
	ActivityAnnounce:     "Announce",
	ActivityUndoAnnounce: "UndoAnnounce",
	ActivityFollow:       "Follow",
	ActivityUndoFollow:   "UndoFollow",
	ActivityJoin:         "Join",
}

func (t ActivityType) String() string {
	if name, ok := activityTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseActivityType is case-insensitive and returns ActivityUnknown for anything it doesn't know.
func ParseActivityType(s string) ActivityType {
	for t, name := range activityTypeNames {
		if strings.EqualFold(name, s) {
			return t
		}
	}
	return ActivityUnknown
}

// Complement returns the verb that reverts this one, and whether there is one.
func (t ActivityType) Complement() (ActivityType, bool) {
	switch t {
	case ActivityLike:
		return ActivityUndoLike, true
	case ActivityUndoLike:
		return ActivityLike, true
	case ActivityAnnounce:
		return ActivityUndoAnnounce, true
	case ActivityUndoAnnounce:
		return ActivityAnnounce, true
	case ActivityFollow:
		return ActivityUndoFollow, true
	case ActivityUndoFollow:
		return ActivityFollow, true
	}
	return ActivityUnknown, false
}

// IsToggle reports verbs whose repeated application must not oscillate.
func (t ActivityType) IsToggle() bool {
	switch t {
	case ActivityLike, ActivityUndoLike, ActivityAnnounce, ActivityUndoAnnounce:
		return true
	}
	return false
}

// IsUndo reports the reverting half of a toggle pair.
func (t ActivityType) IsUndo() bool {
	return t == ActivityUndoLike || t == ActivityUndoAnnounce || t == ActivityUndoFollow
}

// ObjectType is derived from which object slot of an Activity is filled.
type ObjectType int

const (
	ObjectEmpty ObjectType = iota
	ObjectNote
	ObjectActor
	ObjectActivity
)

func (o ObjectType) String() string {
	switch o {
	case ObjectNote:
		return "Note"
	case ObjectActor:
		return "Actor"
	case ObjectActivity:
		return "Activity"
	default:
		return "Empty"
	}
}

func ParseObjectType(s string) ObjectType {
	switch strings.ToLower(s) {
	case "note":
		return ObjectNote
	case "actor":
		return ObjectActor
	case "activity":
		return ObjectActivity
	}
	return ObjectEmpty
}

// NoteStatus tracks how much of a note we have and whether it is still ours to edit.
type NoteStatus int

const (
	NoteUnknown NoteStatus = iota
	NoteDraft
	NoteSending
	NoteSent
	NoteLoaded
	NoteNeedsUpdate
	NoteSoftError
	NoteHardError
	NoteDeleted
	NoteAbsent
)

var noteStatusNames = []string{
	"Unknown", "Draft", "Sending", "Sent", "Loaded", "NeedsUpdate",
	"SoftError", "HardError", "Deleted", "Absent",
}

func (s NoteStatus) String() string {
	if int(s) >= 0 && int(s) < len(noteStatusNames) {
		return noteStatusNames[s]
	}
	return "Unknown"
}

// IsLoaded is true once the full note body is stored locally.
func (s NoteStatus) IsLoaded() bool {
	return s == NoteLoaded || s == NoteSent
}

// AcceptsRemoteContent gates overwriting content with data fetched from a server.
// Local drafts and notes being sent belong to the user; deleted and hard-failed notes are final.
func (s NoteStatus) AcceptsRemoteContent() bool {
	switch s {
	case NoteDraft, NoteSending, NoteDeleted, NoteHardError:
		return false
	}
	return true
}

// NotificationEventType is the derived interaction classification of an Activity.
type NotificationEventType int

const (
	NotificationEmpty NotificationEventType = iota
	NotificationMention
	NotificationAnnounce
	NotificationFollow
	NotificationLike
	NotificationPrivate
	NotificationHome
)

var notificationNames = []string{"Empty", "Mention", "Announce", "Follow", "Like", "Private", "Home"}

func (n NotificationEventType) String() string {
	if int(n) >= 0 && int(n) < len(notificationNames) {
		return notificationNames[n]
	}
	return "Empty"
}

func (n NotificationEventType) IsInteracted() bool {
	return n != NotificationEmpty && n != NotificationHome
}

// GroupType tells whether an Actor is an account or a group-like collection of accounts.
type GroupType int

const (
	GroupNone GroupType = iota
	GroupFriends
	GroupFollowers
	GroupGeneric
)

func (g GroupType) String() string {
	switch g {
	case GroupFriends:
		return "friends"
	case GroupFollowers:
		return "followers"
	case GroupGeneric:
		return "group"
	default:
		return "none"
	}
}

func (g GroupType) IsGroupLike() bool {
	return g != GroupNone
}

// IsSynthetic marks groups we compute ourselves from follow relations.
func (g GroupType) IsSynthetic() bool {
	return g == GroupFriends || g == GroupFollowers
}
