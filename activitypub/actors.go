package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/db"
	"github.com/deemkeen/fedimerge/domain"
	"golang.org/x/sync/singleflight"
)

// ActorResolver maps actors built from incomplete wire data onto local rows, creating rows
// for actors seen for the first time.
type ActorResolver struct {
	store   Store
	cache   *ActorCache
	log     *log.Logger
	metrics *Metrics
	flight  singleflight.Group
}

func NewActorResolver(store Store, cache *ActorCache, logger *log.Logger, metrics *Metrics) *ActorResolver {
	if cache == nil {
		cache = NewActorCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ActorResolver{store: store, cache: cache, log: logger, metrics: metrics}
}

func (r *ActorResolver) Cache() *ActorCache {
	return r.cache
}

// Resolve returns the canonical local actor for candidate. Public and Followers come back
// unchanged and are never stored; an Empty candidate is ErrUnresolvable.
func (r *ActorResolver) Resolve(ctx context.Context, candidate domain.Actor) (domain.Actor, error) {
	if candidate.IsPublic() || candidate.IsFollowers() {
		return candidate, nil
	}
	if candidate.IsEmpty() {
		return candidate, fmt.Errorf("%w: empty actor", ErrUnresolvable)
	}
	if isUIContext(ctx) {
		return candidate, fmt.Errorf("%w: actor resolve from UI context", ErrInvariant)
	}
	candidate = candidate.WithDerivedIdentity()
	if candidate.ActorId == 0 && candidate.Origin.Id == 0 {
		return candidate, fmt.Errorf("%w: actor %s has no origin", ErrUnresolvable, candidate.UniqueName())
	}

	leader := false
	v, err, shared := r.flight.Do(flightKey(candidate), func() (any, error) {
		leader = true
		return r.resolve(ctx, candidate)
	})
	resolved := v.(domain.Actor)
	if shared && !leader && err == nil && storedFieldsDiffer(resolved, candidate.Merge(resolved)) {
		// another caller resolved the row without our data
		return r.resolve(ctx, candidate)
	}
	return resolved, err
}

// ActorById returns the best known copy of a stored actor, reading storage only on a cache miss.
func (r *ActorResolver) ActorById(ctx context.Context, id int64) (domain.Actor, error) {
	if actor, ok := r.cache.Get(id); ok {
		return actor, nil
	}
	actor, err := r.store.ReadActorById(ctx, id)
	if err != nil {
		return actor, err
	}
	r.cache.Offer(actor)
	return actor, nil
}

// flightKey is the origin plus the strongest identifier of the candidate.
func flightKey(a domain.Actor) string {
	var id string
	switch {
	case a.ActorId != 0:
		return fmt.Sprintf("id:%d", a.ActorId)
	case a.IsOidReal():
		id = "oid:" + a.Oid
	case a.IsWebFingerIdValid():
		id = "wf:" + a.WebFingerId
	case a.GroupType.IsGroupLike() && a.ParentActorId != 0:
		id = fmt.Sprintf("group:%s:%d", a.GroupType, a.ParentActorId)
	case a.IsUsernameValid():
		id = "user:" + strings.ToLower(a.Username)
	default:
		id = "tmp:" + a.Oid
	}
	return fmt.Sprintf("%d|%s", a.Origin.Id, id)
}

func (r *ActorResolver) resolve(ctx context.Context, candidate domain.Actor) (domain.Actor, error) {
	stored, found, err := r.find(ctx, candidate)
	if err != nil {
		return candidate, err
	}

	if !found {
		if candidate.ActorId != 0 {
			return candidate, fmt.Errorf("%w: no actor with id %d", ErrUnresolvable, candidate.ActorId)
		}
		if candidate.IsConstant() {
			return candidate, fmt.Errorf("%w: constant actor cannot be stored", ErrInvariant)
		}
		if candidate.Oid == "" {
			return candidate, fmt.Errorf("%w: no identifier to store %s", ErrUnresolvable, candidate.UniqueName())
		}
		id, err := r.store.InsertActor(ctx, candidate)
		if err != nil {
			return candidate, fmt.Errorf("insert actor %s: %w", candidate.UniqueName(), err)
		}
		candidate.ActorId = id
		r.log.Debug("Actors: created", "id", id, "actor", candidate.UniqueName())
		r.metrics.resolved("inserted")
		r.cache.Offer(candidate)
		return candidate, nil
	}

	merged := candidate.Merge(stored)
	merged.ActorId = stored.ActorId
	merged.Origin = stored.Origin
	if merged.Origin.Id == 0 {
		merged.Origin = candidate.Origin
	}
	if storedFieldsDiffer(stored, merged) {
		if err := r.store.UpdateActor(ctx, merged); err != nil {
			return stored, fmt.Errorf("update actor %d: %w", stored.ActorId, err)
		}
		if stored.Oid != merged.Oid {
			r.log.Info("Actors: oid promoted", "id", merged.ActorId, "from", stored.Oid, "to", merged.Oid)
		}
		r.metrics.resolved("updated")
	} else {
		r.metrics.resolved("found")
	}
	r.cache.Offer(merged)
	return merged, nil
}

// find applies the matching precedence. A row found through a weaker identifier must still be
// the same actor, so a different real oid under a shared address does not merge two accounts.
func (r *ActorResolver) find(ctx context.Context, candidate domain.Actor) (domain.Actor, bool, error) {
	if candidate.ActorId != 0 {
		stored, err := r.ActorById(ctx, candidate.ActorId)
		if errors.Is(err, db.ErrNotFound) {
			return stored, false, nil
		}
		return stored, err == nil, err
	}

	originId := candidate.Origin.Id
	type lookup func() (int64, error)
	var lookups []lookup
	if candidate.IsOidReal() {
		lookups = append(lookups, func() (int64, error) {
			return r.store.ReadActorIdByOid(ctx, originId, candidate.Oid)
		})
	}
	if candidate.IsWebFingerIdValid() {
		lookups = append(lookups, func() (int64, error) {
			return r.store.ReadActorIdByWebFingerId(ctx, originId, candidate.WebFingerId)
		})
	}
	if candidate.GroupType.IsGroupLike() && candidate.ParentActorId != 0 {
		lookups = append(lookups, func() (int64, error) {
			return r.store.ReadActorIdByParent(ctx, candidate.ParentActorId, candidate.GroupType)
		})
	}
	if candidate.IsUsernameValid() {
		lookups = append(lookups, func() (int64, error) {
			return r.store.ReadActorIdByUsername(ctx, originId, candidate.Username)
		})
	}
	if tempOid := candidate.TempOid(); tempOid != "" {
		lookups = append(lookups, func() (int64, error) {
			return r.store.ReadActorIdByOid(ctx, originId, tempOid)
		})
	}

	seen := make(map[int64]bool)
	for _, l := range lookups {
		id, err := l()
		if err != nil {
			return domain.Actor{}, false, err
		}
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		stored, err := r.store.ReadActorById(ctx, id)
		if err != nil {
			return domain.Actor{}, false, err
		}
		if sameAsStored(candidate, stored) {
			return stored, true, nil
		}
	}
	return domain.Actor{}, false, nil
}

// sameAsStored is IsSame, except that a temp oid row reached through its own temp oid matches.
func sameAsStored(candidate, stored domain.Actor) bool {
	if candidate.IsSame(stored) {
		return true
	}
	if candidate.IsOidReal() && stored.IsOidReal() {
		return false
	}
	tempOid := candidate.TempOid()
	return tempOid != "" && stored.Oid == tempOid
}

func storedFieldsDiffer(a, b domain.Actor) bool {
	return a.Oid != b.Oid ||
		a.Username != b.Username ||
		a.WebFingerId != b.WebFingerId ||
		a.RealName != b.RealName ||
		a.Summary != b.Summary ||
		a.ProfileURL != b.ProfileURL ||
		a.Homepage != b.Homepage ||
		a.AvatarURL != b.AvatarURL ||
		a.Endpoints != b.Endpoints ||
		a.NotesCount != b.NotesCount ||
		a.FavoritesCount != b.FavoritesCount ||
		a.FollowingCount != b.FollowingCount ||
		a.FollowersCount != b.FollowersCount ||
		a.GroupType != b.GroupType ||
		a.ParentActorId != b.ParentActorId ||
		a.AvatarDownloadedAt.UnixMilli() != b.AvatarDownloadedAt.UnixMilli() ||
		a.CreatedAt.UnixMilli() != b.CreatedAt.UnixMilli() ||
		a.UpdatedAt.UnixMilli() != b.UpdatedAt.UnixMilli()
}
