package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxRecursing bounds how deep nested activities (Announce of Announce of ...) are followed.
const MaxRecursing = 4

// Activity is one (actor, verb, object) triple. Exactly one object slot is filled;
// the setters keep them exclusive and ObjectType is derived from whichever is set.
type Activity struct {
	ActivityId   int64
	Origin       Origin
	Oid          string
	Type         ActivityType
	Actor        Actor
	AccountActor Actor // the account on whose behalf this was observed
	UpdatedAt    time.Time
	InsertedAt   time.Time

	Interaction    NotificationEventType
	NotifiedActor  Actor
	Notified       TriState
	SubscribedByMe TriState

	note     *Note
	objActor *Actor
	activity *Activity
}

func NewActivity(origin Origin, accountActor Actor, activityType ActivityType) Activity {
	return Activity{Origin: origin, AccountActor: accountActor, Type: activityType}
}

func (a *Activity) SetNote(note Note) {
	a.note, a.objActor, a.activity = &note, nil, nil
}

func (a *Activity) SetObjectActor(actor Actor) {
	a.note, a.objActor, a.activity = nil, &actor, nil
}

func (a *Activity) SetActivity(inner Activity) {
	a.note, a.objActor, a.activity = nil, nil, &inner
}

func (a *Activity) ClearObject() {
	a.note, a.objActor, a.activity = nil, nil, nil
}

func (a Activity) ObjectType() ObjectType {
	switch {
	case a.note != nil:
		return ObjectNote
	case a.objActor != nil:
		return ObjectActor
	case a.activity != nil:
		return ObjectActivity
	}
	return ObjectEmpty
}

// Note returns the object note, or an empty Note when the object is something else.
func (a Activity) Note() Note {
	if a.note == nil {
		return Note{}
	}
	return *a.note
}

func (a Activity) ObjectActor() Actor {
	if a.objActor == nil {
		return Actor{}
	}
	return *a.objActor
}

func (a Activity) InnerActivity() Activity {
	if a.activity == nil {
		return Activity{}
	}
	return *a.activity
}

func (a Activity) IsEmpty() bool {
	return a.ActivityId == 0 && a.Oid == "" && a.Type == ActivityUnknown && a.ObjectType() == ObjectEmpty
}

// IsForwardReference is an activity we only know by id: no verb yet.
func (a Activity) IsForwardReference() bool {
	return a.Type == ActivityUnknown && a.Oid != ""
}

// Depth counts nested activities below this one, stopping one past MaxRecursing.
func (a Activity) Depth() int {
	depth := 0
	for current := a.activity; current != nil; current = current.activity {
		depth++
		if depth > MaxRecursing {
			break
		}
	}
	return depth
}

// Author is the author of the note at the bottom of the chain, if any.
func (a Activity) Author() Actor {
	current := &a
	for i := 0; current != nil && i <= MaxRecursing; i++ {
		switch {
		case current.note != nil:
			return current.note.Author
		case current.activity != nil:
			current = current.activity
		default:
			return Actor{}
		}
	}
	return Actor{}
}

// ObjectOid is the opaque id of whatever the activity points at.
func (a Activity) ObjectOid() string {
	switch a.ObjectType() {
	case ObjectNote:
		return a.note.Oid
	case ObjectActor:
		return a.objActor.Oid
	case ObjectActivity:
		return a.activity.Oid
	}
	return ""
}

// TempOid is derived from the triple so that repeated ingestion converges on one row.
func (a Activity) TempOid() string {
	object := a.ObjectOid()
	if object == "" && a.ObjectType() == ObjectActor {
		object = a.objActor.TempOid()
	}
	actor := a.Actor.Oid
	if actor == "" {
		actor = a.Actor.TempOid()
	}
	if object == "" && actor == "" {
		return ""
	}
	return fmt.Sprintf("%s%s:%s:%s", TempOidPrefix, strings.ToLower(a.Type.String()), actor, object)
}

func (a Activity) String() string {
	return fmt.Sprintf("Activity{id:%d oid:%q type:%s actor:%s object:%s}", a.ActivityId, a.Oid, a.Type, a.Actor.UniqueName(), a.ObjectType())
}
