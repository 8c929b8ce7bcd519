package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/deemkeen/fedimerge/domain"
	"github.com/deemkeen/fedimerge/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

func (s *Server) baseURL() string {
	return fmt.Sprintf("http://%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
}

// GetNotificationsRSS renders the newest notifications as an RSS 2.0 document.
func (s *Server) GetNotificationsRSS(ctx context.Context, onlyUnseen bool, limit int) (string, error) {
	notifications, err := s.store.ReadNotifications(ctx, onlyUnseen, limit)
	if err != nil {
		return "", err
	}

	link := s.baseURL() + "/notifications.rss"
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s notifications", util.Name),
		Link:        &feeds.Link{Href: link},
		Description: "interactions with the accounts of record",
		Created:     time.Now(),
	}
	for _, n := range notifications {
		feed.Items = append(feed.Items, notificationItem(s.baseURL(), n))
	}
	return feed.ToRss()
}

func notificationItem(base string, n domain.Notification) *feeds.Item {
	href := fmt.Sprintf("%s/api/actors/%d", base, n.ActorId)
	if n.NoteId != 0 {
		href = fmt.Sprintf("%s/api/notes/%d", base, n.NoteId)
	}
	actor := n.ActorName
	if actor == "" {
		actor = fmt.Sprintf("actor %d", n.ActorId)
	}
	return &feeds.Item{
		Id:          fmt.Sprintf("%s/activities/%d", base, n.ActivityId),
		Title:       fmt.Sprintf("%s: %s", n.Interaction, actor),
		Link:        &feeds.Link{Href: href},
		Description: util.StripMarkup(n.NoteContent),
		Content:     n.NoteContent,
		Author:      &feeds.Author{Name: actor},
		Created:     n.UpdatedAt,
	}
}

func (s *Server) handleRSS(c *gin.Context) {
	limit, ok := pageSize(c)
	if !ok {
		c.String(http.StatusBadRequest, "")
		return
	}
	unseen, _ := strconv.ParseBool(c.Query("unseen"))
	rss, err := s.GetNotificationsRSS(c.Request.Context(), unseen, limit)
	if err != nil {
		s.log.Error("Web: could not render feed", "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rss))
}
