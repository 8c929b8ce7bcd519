package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/deemkeen/fedimerge/activitypub"
	"github.com/deemkeen/fedimerge/db"
	"github.com/deemkeen/fedimerge/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type actorView struct {
	Id            int64     `json:"id"`
	Origin        string    `json:"origin"`
	Oid           string    `json:"oid"`
	Username      string    `json:"username,omitempty"`
	WebFingerId   string    `json:"webfingerId,omitempty"`
	RealName      string    `json:"realName,omitempty"`
	ProfileURL    string    `json:"profileUrl,omitempty"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	GroupType     string    `json:"groupType,omitempty"`
	ParentActorId int64     `json:"parentActorId,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toActorView(a domain.Actor) actorView {
	v := actorView{
		Id:            a.ActorId,
		Origin:        a.Origin.Name,
		Oid:           a.Oid,
		Username:      a.Username,
		WebFingerId:   a.WebFingerId,
		RealName:      a.RealName,
		ProfileURL:    a.ProfileURL,
		AvatarURL:     a.AvatarURL,
		ParentActorId: a.ParentActorId,
		UpdatedAt:     a.UpdatedAt,
	}
	if a.GroupType.IsGroupLike() {
		v.GroupType = a.GroupType.String()
	}
	return v
}

type noteView struct {
	Id         int64     `json:"id"`
	Oid        string    `json:"oid"`
	Status     string    `json:"status"`
	AuthorId   int64     `json:"authorId,omitempty"`
	Content    string    `json:"content,omitempty"`
	Visibility string    `json:"visibility"`
	Audience   []int64   `json:"audience"`
	Favorited  string    `json:"favorited"`
	Reblogged  string    `json:"reblogged"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type notificationView struct {
	ActivityId  int64     `json:"activityId"`
	Type        string    `json:"type"`
	Interaction string    `json:"interaction"`
	ActorId     int64     `json:"actorId"`
	ActorName   string    `json:"actorName"`
	NoteId      int64     `json:"noteId,omitempty"`
	Unseen      bool      `json:"unseen"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func pageSize(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultPageSize, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, maxPageSize), true
}

func pathId(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleNotifications(c *gin.Context) {
	limit, ok := pageSize(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	unseen, _ := strconv.ParseBool(c.Query("unseen"))
	notifications, err := s.store.ReadNotifications(c.Request.Context(), unseen, limit)
	if err != nil {
		s.log.Error("Web: failed to read notifications", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read notifications"})
		return
	}
	views := make([]notificationView, 0, len(notifications))
	for _, n := range notifications {
		views = append(views, notificationView{
			ActivityId:  n.ActivityId,
			Type:        n.Type.String(),
			Interaction: n.Interaction.String(),
			ActorId:     n.ActorId,
			ActorName:   n.ActorName,
			NoteId:      n.NoteId,
			Unseen:      n.Notified.IsTrue(),
			UpdatedAt:   n.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleMarkSeen(c *gin.Context) {
	upTo, err := strconv.ParseInt(c.Query("upTo"), 10, 64)
	if err != nil || upTo <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upTo must be an activity id"})
		return
	}
	marked, err := s.store.MarkNotificationsSeen(c.Request.Context(), upTo)
	if err != nil {
		s.log.Error("Web: failed to mark notifications", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not mark notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// readActor prefers the engine's cached copy.
func (s *Server) readActor(ctx context.Context, id int64) (domain.Actor, error) {
	if s.engine != nil {
		return s.engine.Actors().ActorById(ctx, id)
	}
	return s.store.ReadActorById(ctx, id)
}

func (s *Server) handleActor(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	actor, err := s.readActor(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Actor not found"})
		return
	}
	if err != nil {
		s.log.Error("Web: failed to read actor", "id", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read actor"})
		return
	}
	c.JSON(http.StatusOK, toActorView(actor))
}

func (s *Server) handleNote(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	note, err := s.store.ReadNoteById(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
		return
	}
	if err != nil {
		s.log.Error("Web: failed to read note", "id", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read note"})
		return
	}
	recipients, err := s.store.ReadAudience(ctx, id)
	if err != nil {
		s.log.Error("Web: failed to read audience", "id", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read audience"})
		return
	}
	audience := make([]int64, 0, len(recipients))
	for _, r := range recipients {
		audience = append(audience, r.ActorId)
	}
	c.JSON(http.StatusOK, noteView{
		Id:         note.NoteId,
		Oid:        note.Oid,
		Status:     note.Status.String(),
		AuthorId:   note.Author.ActorId,
		Content:    note.Content,
		Visibility: note.Audience.Visibility.String(),
		Audience:   audience,
		Favorited:  note.FavoritedByMe.String(),
		Reblogged:  note.RebloggedByMe.String(),
		UpdatedAt:  note.UpdatedAt,
	})
}

func (s *Server) handleSearchNotes(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing q"})
		return
	}
	limit, ok := pageSize(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	ids, err := s.store.SearchNotes(c.Request.Context(), query, limit)
	if err != nil {
		s.log.Error("Web: search failed", "q", query, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"ids": ids})
}

// handleIngest merges one wire activity on behalf of the account named by ?account=.
func (s *Server) handleIngest(c *gin.Context) {
	account, ok := s.account(c.Query("account"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Could not read body"})
		return
	}
	wire, err := activitypub.ParseWireActivity(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	activity, err := wire.ToActivity(account.Origin, account)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	res, err := s.engine.Ingest(c.Request.Context(), activity)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	view := gin.H{
		"activityId":  res.Activity.ActivityId,
		"outcome":     res.Outcome.String(),
		"interaction": res.Activity.Interaction.String(),
	}
	if res.Reason != "" {
		view["reason"] = res.Reason
	}
	switch res.Outcome {
	case activitypub.OutcomeFailed:
		s.log.Error("Web: ingest failed", "oid", activity.Oid, "err", res.Err)
		c.JSON(http.StatusInternalServerError, view)
	case activitypub.OutcomeInserted:
		c.JSON(http.StatusCreated, view)
	default:
		c.JSON(http.StatusOK, view)
	}
}
