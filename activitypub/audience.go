package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/domain"
)

// AudienceCalculator turns the recipients of a note into canonical local actors and stores
// only what changed.
type AudienceCalculator struct {
	store    Store
	resolver *ActorResolver
	log      *log.Logger
}

func NewAudienceCalculator(store Store, resolver *ActorResolver, logger *log.Logger) *AudienceCalculator {
	if logger == nil {
		logger = log.Default()
	}
	return &AudienceCalculator{store: store, resolver: resolver, log: logger}
}

// EvaluateAndGetActorsToSave replaces recipients that are really the followers or following
// collection of actorOfAudience by its synthetic group actors, then resolves every recipient.
// Recipients that cannot be resolved are dropped.
func (c *AudienceCalculator) EvaluateAndGetActorsToSave(ctx context.Context, audience domain.Audience, actorOfAudience domain.Actor) ([]domain.Actor, error) {
	var actors []domain.Actor
	for _, recipient := range audience.Recipients() {
		candidate := recipient
		if groupType, ok := collectionGroup(actorOfAudience, recipient.Oid); ok {
			candidate = domain.NewGroupActor(actorOfAudience, groupType)
			if domain.IsTempOid(candidate.Oid) {
				candidate.Oid = recipient.Oid
			}
		}
		if candidate.Origin.Id == 0 {
			candidate.Origin = audience.Origin
		}

		resolved, err := c.resolver.Resolve(ctx, candidate)
		if errors.Is(err, ErrUnresolvable) {
			c.log.Info("Audience: skipping recipient", "recipient", candidate.UniqueName(), "err", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, ok := domain.FindSame(actors, resolved); !ok {
			actors = append(actors, resolved)
		}
	}
	return actors, nil
}

// Save stores the recipients of noteId and its visibility, writing only the difference to what
// is stored. Returns whether anything changed. Nothing is done before the note and
// actorOfAudience have local ids.
func (c *AudienceCalculator) Save(ctx context.Context, audience domain.Audience, actorOfAudience domain.Actor, noteId int64, visibility domain.Visibility) (bool, error) {
	if noteId == 0 || actorOfAudience.ActorId == 0 {
		return false, nil
	}
	next, err := c.EvaluateAndGetActorsToSave(ctx, audience, actorOfAudience)
	if err != nil {
		return false, err
	}
	previous, err := c.store.ReadAudience(ctx, noteId)
	if err != nil {
		return false, fmt.Errorf("read audience of note %d: %w", noteId, err)
	}
	storedVisibility, err := c.store.ReadNoteVisibility(ctx, noteId)
	if err != nil {
		return false, fmt.Errorf("read visibility of note %d: %w", noteId, err)
	}

	toDelete, toAdd := domain.DiffActors(previous, next)
	if len(toDelete) == 0 && len(toAdd) == 0 && storedVisibility == visibility {
		return false, nil
	}
	if err := c.store.SaveAudienceDelta(ctx, noteId, visibility, actorIds(toDelete), actorIds(toAdd)); err != nil {
		return false, fmt.Errorf("save audience of note %d: %w", noteId, err)
	}
	c.log.Debug("Audience: saved", "note", noteId, "removed", len(toDelete), "added", len(toAdd), "visibility", visibility)
	return true, nil
}

// VisibilityFor is VisibilityOf for a note of actorOfAudience, where addressing its followers
// collection counts as followers visibility.
func (c *AudienceCalculator) VisibilityFor(audience domain.Audience, actorOfAudience domain.Actor, origin domain.Origin, explicit domain.Visibility) domain.Visibility {
	for _, recipient := range audience.Recipients() {
		if groupType, ok := collectionGroup(actorOfAudience, recipient.Oid); ok && groupType == domain.GroupFollowers {
			explicit = explicit.Join(domain.VisibilityFollowers)
		}
	}
	return VisibilityOf(audience, origin, explicit)
}

// collectionGroup tells which synthetic group of owner the collection oid stands for. Without
// declared endpoints the usual "<actor>/followers" and "<actor>/following" layout is assumed.
func collectionGroup(owner domain.Actor, oid string) (domain.GroupType, bool) {
	if owner.ActorId == 0 || oid == "" || owner.GroupType.IsSynthetic() {
		return domain.GroupNone, false
	}
	followers, following := owner.Endpoints.Followers, owner.Endpoints.Following
	if owner.IsOidReal() {
		if followers == "" {
			followers = strings.TrimSuffix(owner.Oid, "/") + "/followers"
		}
		if following == "" {
			following = strings.TrimSuffix(owner.Oid, "/") + "/following"
		}
	}
	switch oid {
	case followers:
		return domain.GroupFollowers, true
	case following:
		return domain.GroupFriends, true
	}
	return domain.GroupNone, false
}

// VisibilityOf joins the explicit visibility of a note with the evidence from its recipients.
// When neither says anything, Twitter-like origins default to public and an addressed note to private.
func VisibilityOf(audience domain.Audience, origin domain.Origin, explicit domain.Visibility) domain.Visibility {
	visibility := explicit.Join(audience.Visibility)
	if visibility.IsKnown() {
		return visibility
	}
	if origin.PublicByDefault() {
		return domain.VisibilityPublic
	}
	if audience.Len() > 0 {
		return domain.VisibilityPrivate
	}
	return domain.VisibilityUnknown
}

func actorIds(actors []domain.Actor) []int64 {
	ids := make([]int64, 0, len(actors))
	for _, a := range actors {
		if a.ActorId != 0 {
			ids = append(ids, a.ActorId)
		}
	}
	return ids
}
