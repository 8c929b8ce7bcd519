package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/fedimerge/domain"
)

// WireActivity is the normalized activity handed over by the transport layer.
// Actor and Object are either a URI string or an embedded object.
type WireActivity struct {
	Context    interface{}     `json:"@context,omitempty"`
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Actor      json.RawMessage `json:"actor,omitempty"`
	Object     json.RawMessage `json:"object,omitempty"`
	Published  string          `json:"published,omitempty"`
	Updated    string          `json:"updated,omitempty"`
	To         []string        `json:"to,omitempty"`
	Cc         []string        `json:"cc,omitempty"`
	Subscribed bool            `json:"subscribed,omitempty"` // seen in the home timeline of the account
}

// WireActor is an embedded actor object.
type WireActor struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	PreferredUsername string     `json:"preferredUsername,omitempty"`
	WebFinger         string     `json:"webfinger,omitempty"`
	Name              string     `json:"name,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	URL               string     `json:"url,omitempty"`
	Icon              *WireImage `json:"icon,omitempty"`
	Inbox             string     `json:"inbox,omitempty"`
	Outbox            string     `json:"outbox,omitempty"`
	Followers         string     `json:"followers,omitempty"`
	Following         string     `json:"following,omitempty"`
	Published         string     `json:"published,omitempty"`
	Updated           string     `json:"updated,omitempty"`
}

type WireImage struct {
	URL       string `json:"url"`
	MediaType string `json:"mediaType,omitempty"`
}

// WireNote is an embedded note-like object.
type WireNote struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Name         string          `json:"name,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Content      string          `json:"content,omitempty"`
	Sensitive    bool            `json:"sensitive,omitempty"`
	URL          string          `json:"url,omitempty"`
	AttributedTo json.RawMessage `json:"attributedTo,omitempty"`
	InReplyTo    string          `json:"inReplyTo,omitempty"`
	Conversation string          `json:"conversation,omitempty"`
	Published    string          `json:"published,omitempty"`
	Updated      string          `json:"updated,omitempty"`
	To           []string        `json:"to,omitempty"`
	Cc           []string        `json:"cc,omitempty"`
	Visibility   string          `json:"visibility,omitempty"` // public, unlisted, private or direct
	Attachment   []WireImage     `json:"attachment,omitempty"`
}

var (
	noteTypes  = []string{"Note", "Article", "Question", "Page", "Tombstone", "Image", "Video", "Audio", "Event"}
	actorTypes = []string{"Person", "Service", "Group", "Application", "Organization"}
)

func ParseWireActivity(data []byte) (WireActivity, error) {
	var w WireActivity
	if err := json.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("parse activity: %w", err)
	}
	return w, nil
}

// ParseWireNote reads a note as served by its origin, outside of any activity.
func ParseWireNote(data []byte) (WireNote, error) {
	var n WireNote
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("parse note: %w", err)
	}
	return n, nil
}

// ToActivity maps the wire form onto a domain Activity observed by account.
// Undo{Like|Announce|Follow} becomes the matching Undo verb over the undone object.
func (w WireActivity) ToActivity(origin domain.Origin, account domain.Actor) (domain.Activity, error) {
	a := domain.NewActivity(origin, account, domain.ActivityUnknown)
	a.Oid = w.ID
	a.UpdatedAt = wireTime(w.Updated, w.Published)
	if w.Subscribed {
		a.SubscribedByMe = domain.TRUE
	}
	actor, err := parseActorRef(w.Actor, origin)
	if err != nil {
		return a, err
	}
	a.Actor = actor

	switch w.Type {
	case "":
		if w.ID == "" {
			return a, fmt.Errorf("%w: activity without type and id", ErrUnresolvable)
		}
		if len(w.Object) == 0 {
			return a, nil
		}
		return a, w.setObject(&a, w.Object, origin, account)
	case "Undo":
		return w.undo(a, origin, account)
	}

	a.Type = domain.ParseActivityType(w.Type)
	if a.Type == domain.ActivityUnknown || a.Type.IsUndo() {
		return a, fmt.Errorf("%w: unsupported activity type %q", ErrUnresolvable, w.Type)
	}
	if err := w.setObject(&a, w.Object, origin, account); err != nil {
		return a, err
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.Note().UpdatedAt
	}
	return a, nil
}

func (w WireActivity) undo(a domain.Activity, origin domain.Origin, account domain.Actor) (domain.Activity, error) {
	raw := bytes.TrimSpace(w.Object)
	if len(raw) == 0 || raw[0] != '{' {
		return a, fmt.Errorf("%w: undo of an activity known by id only", ErrUnresolvable)
	}
	var inner WireActivity
	if err := json.Unmarshal(raw, &inner); err != nil {
		return a, fmt.Errorf("parse undone activity: %w", err)
	}
	undone := domain.ParseActivityType(inner.Type)
	verb, ok := undone.Complement()
	if !ok || undone.IsUndo() {
		return a, fmt.Errorf("%w: unsupported undo of %q", ErrUnresolvable, inner.Type)
	}
	a.Type = verb
	if a.Actor.IsEmpty() {
		actor, err := parseActorRef(inner.Actor, origin)
		if err != nil {
			return a, err
		}
		a.Actor = actor
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = wireTime(inner.Updated, inner.Published)
	}
	return a, w.setObject(&a, inner.Object, origin, account)
}

// setObject fills the object slot of a. A bare URI becomes an actor for follow and join verbs
// and a note otherwise.
func (w WireActivity) setObject(a *domain.Activity, raw json.RawMessage, origin domain.Origin, account domain.Actor) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: %s without object", ErrUnresolvable, a.Type)
	}

	var object interface{}
	if err := json.Unmarshal(raw, &object); err != nil {
		return fmt.Errorf("parse object: %w", err)
	}
	switch obj := object.(type) {
	case string:
		switch a.Type {
		case domain.ActivityFollow, domain.ActivityUndoFollow, domain.ActivityJoin:
			a.SetObjectActor(domain.NewActor(origin, obj))
		default:
			note := domain.NewNote(origin, obj)
			a.SetNote(note)
		}
		return nil
	case map[string]interface{}:
		objectType, _ := obj["type"].(string)
		switch {
		case contains(noteTypes, objectType):
			var wn WireNote
			if err := json.Unmarshal(raw, &wn); err != nil {
				return fmt.Errorf("parse note: %w", err)
			}
			note, err := wn.toNote(origin, w.To, w.Cc)
			if err != nil {
				return err
			}
			if objectType == "Tombstone" && a.Type != domain.ActivityDelete {
				return fmt.Errorf("%w: tombstone outside of a delete", ErrUnresolvable)
			}
			a.SetNote(note)
		case contains(actorTypes, objectType):
			var wa WireActor
			if err := json.Unmarshal(raw, &wa); err != nil {
				return fmt.Errorf("parse actor: %w", err)
			}
			a.SetObjectActor(wa.toActor(origin))
		case domain.ParseActivityType(objectType) != domain.ActivityUnknown || objectType == "Undo":
			var inner WireActivity
			if err := json.Unmarshal(raw, &inner); err != nil {
				return fmt.Errorf("parse inner activity: %w", err)
			}
			innerActivity, err := inner.ToActivity(origin, account)
			if err != nil {
				return err
			}
			a.SetActivity(innerActivity)
		default:
			id, _ := obj["id"].(string)
			if id == "" {
				return fmt.Errorf("%w: object of type %q without id", ErrUnresolvable, objectType)
			}
			return w.setObject(a, json.RawMessage(fmt.Sprintf("%q", id)), origin, account)
		}
		return nil
	}
	return fmt.Errorf("%w: object is neither an id nor an object", ErrUnresolvable)
}

func (wn WireNote) toNote(origin domain.Origin, activityTo, activityCc []string) (domain.Note, error) {
	note := domain.NewNote(origin, wn.ID)
	note.Name = wn.Name
	note.Summary = wn.Summary
	note.Content = wn.Content
	note.Sensitive = wn.Sensitive
	note.URL = wn.URL
	note.InReplyToOid = wn.InReplyTo
	note.ConversationOid = wn.Conversation
	note.UpdatedAt = wireTime(wn.Updated, wn.Published)
	if wn.Type != "Tombstone" {
		for _, attachment := range wn.Attachment {
			if attachment.URL != "" {
				note.Attachments = append(note.Attachments, domain.Attachment{Uri: attachment.URL, MimeType: attachment.MediaType})
			}
		}
	}
	author, err := parseActorRef(wn.AttributedTo, origin)
	if err != nil {
		return note, err
	}
	note.Author = author

	to, cc := wn.To, wn.Cc
	if len(to) == 0 && len(cc) == 0 {
		to, cc = activityTo, activityCc
	}
	for _, address := range append(append([]string{}, to...), cc...) {
		note.Audience.Add(addressToActor(origin, address))
	}
	note.Audience.AddVisibility(parseVisibility(wn.Visibility))
	return note, nil
}

func (wa WireActor) toActor(origin domain.Origin) domain.Actor {
	actor := domain.NewActor(origin, wa.ID)
	actor.Username = wa.PreferredUsername
	actor.WebFingerId = domain.NormalizeWebFingerId(wa.WebFinger)
	actor.RealName = wa.Name
	actor.Summary = wa.Summary
	actor.ProfileURL = wa.URL
	if wa.Icon != nil {
		actor.AvatarURL = wa.Icon.URL
	}
	actor.Endpoints = domain.ActorEndpoints{
		Inbox:     wa.Inbox,
		Outbox:    wa.Outbox,
		Followers: wa.Followers,
		Following: wa.Following,
	}
	if wa.Type == "Group" {
		actor.GroupType = domain.GroupGeneric
	}
	actor.CreatedAt = wireTime(wa.Published)
	actor.UpdatedAt = wireTime(wa.Updated, wa.Published)
	return actor
}

func parseActorRef(raw json.RawMessage, origin domain.Origin) (domain.Actor, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Actor{}, nil
	}
	var ref interface{}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return domain.Actor{}, fmt.Errorf("parse actor: %w", err)
	}
	switch r := ref.(type) {
	case string:
		if domain.IsWebFingerIdValid(domain.NormalizeWebFingerId(r)) && !strings.Contains(r, "/") {
			return domain.ActorFromWebFingerId(origin, r), nil
		}
		return domain.NewActor(origin, r), nil
	case map[string]interface{}:
		var wa WireActor
		if err := json.Unmarshal(raw, &wa); err != nil {
			return domain.Actor{}, fmt.Errorf("parse actor: %w", err)
		}
		return wa.toActor(origin), nil
	}
	return domain.Actor{}, fmt.Errorf("%w: actor is neither an id nor an object", ErrUnresolvable)
}

// addressToActor keeps collections as plain actors until the audience is saved against its author.
func addressToActor(origin domain.Origin, address string) domain.Actor {
	if address == domain.PublicCollection || address == "as:Public" || address == "Public" {
		return domain.PublicActor()
	}
	return domain.NewActor(origin, address)
}

func parseVisibility(s string) domain.Visibility {
	switch strings.ToLower(s) {
	case "public":
		return domain.VisibilityPublic
	case "unlisted":
		return domain.VisibilityPublicAndFollowers
	case "private":
		return domain.VisibilityFollowers
	case "direct":
		return domain.VisibilityPrivate
	}
	return domain.VisibilityUnknown
}

// wireTime parses the first non-empty RFC 3339 timestamp, truncated to what storage keeps.
// The zero time means the payload carried no date.
func wireTime(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC().Truncate(time.Millisecond)
		}
	}
	return time.Time{}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
