package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/db"
	"github.com/deemkeen/fedimerge/domain"
)

// GroupTracker keeps (group, member) relations in line with what servers tell us.
type GroupTracker struct {
	store    Store
	resolver *ActorResolver
	log      *log.Logger
}

func NewGroupTracker(store Store, resolver *ActorResolver, logger *log.Logger) *GroupTracker {
	if logger == nil {
		logger = log.Default()
	}
	return &GroupTracker{store: store, resolver: resolver, log: logger}
}

// SetMember asserts one edge. Re-asserting the stored state is a no-op, and so is UNKNOWN.
func (g *GroupTracker) SetMember(ctx context.Context, group, member domain.Actor, isMember domain.TriState) (bool, error) {
	if !isMember.Known() {
		return false, nil
	}
	if group.ActorId == 0 || member.ActorId == 0 {
		return false, fmt.Errorf("%w: group membership needs local ids", ErrUnresolvable)
	}
	exists, err := g.store.IsGroupMember(ctx, group.ActorId, member.ActorId)
	if err != nil {
		return false, err
	}
	if exists == isMember.IsTrue() {
		return false, nil
	}
	err = g.store.ApplyMembership(ctx, []db.MembershipChange{
		{GroupId: group.ActorId, MemberId: member.ActorId, IsMember: isMember.IsTrue()},
	})
	if err != nil {
		return false, err
	}
	g.log.Debug("Groups: membership changed", "group", group.UniqueName(), "member", member.UniqueName(), "isMember", isMember)
	return true, nil
}

// Reconcile makes fresh the complete member list of the groupType group of parent.
// Callers must pass the whole list: an actor missing from it is removed.
func (g *GroupTracker) Reconcile(ctx context.Context, parent domain.Actor, groupType domain.GroupType, fresh []domain.Actor) (added, removed int, err error) {
	if parent.ActorId == 0 {
		return 0, 0, fmt.Errorf("%w: group parent without local id", ErrUnresolvable)
	}
	group, err := g.resolver.Resolve(ctx, domain.NewGroupActor(parent, groupType))
	if err != nil {
		return 0, 0, err
	}

	next := make(map[int64]bool)
	for _, candidate := range fresh {
		member, err := g.resolver.Resolve(ctx, candidate)
		if errors.Is(err, ErrUnresolvable) {
			g.log.Info("Groups: skipping member", "member", candidate.UniqueName(), "err", err)
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		next[member.ActorId] = true
	}
	previousIds, err := g.store.ReadGroupMemberIds(ctx, group.ActorId)
	if err != nil {
		return 0, 0, err
	}
	previous := make(map[int64]bool, len(previousIds))
	for _, id := range previousIds {
		previous[id] = true
	}

	var changes []db.MembershipChange
	for _, id := range previousIds {
		if !next[id] {
			changes = append(changes, db.MembershipChange{GroupId: group.ActorId, MemberId: id, IsMember: false})
			removed++
		}
	}
	for id := range next {
		if !previous[id] {
			changes = append(changes, db.MembershipChange{GroupId: group.ActorId, MemberId: id, IsMember: true})
			added++
		}
	}
	if err := g.store.ApplyMembership(ctx, changes); err != nil {
		return 0, 0, err
	}
	if added > 0 || removed > 0 {
		g.log.Info("Groups: reconciled", "group", group.UniqueName(), "added", added, "removed", removed)
	}
	return added, removed, nil
}

// OnFollow records that follower follows (or stopped following) followee: followee joins the
// friends of follower and follower joins the followers of followee, both or neither.
func (g *GroupTracker) OnFollow(ctx context.Context, follower, followee domain.Actor, following bool) error {
	if follower.ActorId == 0 || followee.ActorId == 0 {
		return fmt.Errorf("%w: follow needs local ids", ErrUnresolvable)
	}
	friends, err := g.resolver.Resolve(ctx, domain.NewGroupActor(follower, domain.GroupFriends))
	if err != nil {
		return err
	}
	followers, err := g.resolver.Resolve(ctx, domain.NewGroupActor(followee, domain.GroupFollowers))
	if err != nil {
		return err
	}
	return g.store.ApplyMembership(ctx, []db.MembershipChange{
		{GroupId: friends.ActorId, MemberId: followee.ActorId, IsMember: following},
		{GroupId: followers.ActorId, MemberId: follower.ActorId, IsMember: following},
	})
}

// Members returns the local ids in the groupType group of parent, empty when the group was never stored.
func (g *GroupTracker) Members(ctx context.Context, parent domain.Actor, groupType domain.GroupType) ([]int64, error) {
	groupId, err := g.store.ReadActorIdByParent(ctx, parent.ActorId, groupType)
	if err != nil || groupId == 0 {
		return nil, err
	}
	return g.store.ReadGroupMemberIds(ctx, groupId)
}
