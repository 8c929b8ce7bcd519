package domain

import (
	"fmt"
	"time"
)

// Attachment is a media reference; the blob itself lives outside this store.
type Attachment struct {
	Uri      string
	MimeType string
}

// Note is a post. Author is carried as a value while ingesting and persisted as an id.
type Note struct {
	NoteId int64
	Origin Origin
	Oid    string
	Status NoteStatus

	Name      string
	Summary   string
	Content   string
	Sensitive bool
	URL       string

	Author   Actor
	Audience Audience

	InReplyToOid    string
	InReplyToNoteId int64
	ConversationOid string
	ConversationId  int64

	LikesCount   int64
	ReblogsCount int64
	RepliesCount int64

	Attachments []Attachment
	UpdatedAt   time.Time

	FavoritedByMe TriState
	RebloggedByMe TriState
}

func NewNote(origin Origin, oid string) Note {
	return Note{Origin: origin, Oid: oid, Audience: NewAudience(origin)}
}

func (n Note) IsEmpty() bool {
	return n.NoteId == 0 && n.Oid == ""
}

// HasContent tells a full payload apart from a bare reference to a note.
func (n Note) HasContent() bool {
	return n.Content != "" || n.Name != "" || n.Summary != "" || len(n.Attachments) > 0
}

func (n Note) ToString() string {
	return fmt.Sprintf("\n\tId: %d \n\tOid: %s \n\tAuthor: %s \n\tStatus: %s \n\tContent: %s", n.NoteId, n.Oid, n.Author.UniqueName(), n.Status, n.Content)
}
