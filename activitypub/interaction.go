package activitypub

import (
	"context"

	"github.com/deemkeen/fedimerge/domain"
)

// calculateInteraction classifies a for the notification layer and picks who gets notified.
// Activities older than the long-ago threshold are never classified; an undated one counts as new.
func (e *Engine) calculateInteraction(ctx context.Context, a *domain.Activity, noteId int64) error {
	a.Interaction = domain.NotificationEmpty
	a.NotifiedActor = domain.Actor{}
	now := e.now()
	when := a.UpdatedAt
	if when.IsZero() {
		when = now
	}
	if !when.After(now.Add(-e.longAgo)) {
		return nil
	}
	if e.IsMe(a.Actor.ActorId) {
		return nil
	}

	var author domain.Actor
	if noteId != 0 {
		note, err := e.store.ReadNoteById(ctx, noteId)
		if err != nil {
			return err
		}
		author = note.Author
		if !e.IsMe(author.ActorId) {
			recipients, err := e.store.ReadAudience(ctx, noteId)
			if err != nil {
				return err
			}
			for _, recipient := range recipients {
				if !e.IsMe(recipient.ActorId) {
					continue
				}
				a.Interaction = domain.NotificationMention
				if note.Audience.Visibility.IsPrivate() {
					a.Interaction = domain.NotificationPrivate
				}
				a.NotifiedActor = recipient
				return nil
			}
		}
	}

	objActor := a.ObjectActor()
	switch {
	case a.Type == domain.ActivityAnnounce && e.IsMe(author.ActorId):
		a.Interaction, a.NotifiedActor = domain.NotificationAnnounce, author
	case (a.Type == domain.ActivityLike || a.Type == domain.ActivityUndoLike) && e.IsMe(author.ActorId):
		a.Interaction, a.NotifiedActor = domain.NotificationLike, author
	case (a.Type == domain.ActivityFollow || a.Type == domain.ActivityUndoFollow) && e.IsMe(objActor.ActorId):
		a.Interaction, a.NotifiedActor = domain.NotificationFollow, objActor
	case a.SubscribedByMe.IsTrue():
		a.Interaction, a.NotifiedActor = domain.NotificationHome, a.AccountActor
	}
	return nil
}
