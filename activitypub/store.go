package activitypub

import (
	"context"
	"time"

	"github.com/deemkeen/fedimerge/db"
	"github.com/deemkeen/fedimerge/domain"
)

// Store is the storage the engine needs. Lookups by identifier return 0 when nothing matches;
// point reads by id return db.ErrNotFound.
type Store interface {
	ReadActorById(ctx context.Context, id int64) (domain.Actor, error)
	ReadActorIdByOid(ctx context.Context, originId int64, oid string) (int64, error)
	ReadActorIdByWebFingerId(ctx context.Context, originId int64, webFingerId string) (int64, error)
	ReadActorIdByUsername(ctx context.Context, originId int64, username string) (int64, error)
	ReadActorIdByParent(ctx context.Context, parentId int64, groupType domain.GroupType) (int64, error)
	InsertActor(ctx context.Context, actor domain.Actor) (int64, error)
	UpdateActor(ctx context.Context, actor domain.Actor) error

	ReadNoteById(ctx context.Context, id int64) (domain.Note, error)
	ReadNoteIdByOid(ctx context.Context, originId int64, oid string) (int64, error)
	InsertNote(ctx context.Context, note domain.Note) (int64, error)
	UpdateNote(ctx context.Context, note domain.Note) error
	MarkNoteDeleted(ctx context.Context, id int64, at time.Time) error
	SetNoteFavorited(ctx context.Context, id int64, favorited domain.TriState) error
	SetNoteReblogged(ctx context.Context, id int64, reblogged domain.TriState) error

	ReadAudience(ctx context.Context, noteId int64) ([]domain.Actor, error)
	ReadNoteVisibility(ctx context.Context, noteId int64) (domain.Visibility, error)
	SaveAudienceDelta(ctx context.Context, noteId int64, visibility domain.Visibility, toDelete, toAdd []int64) error

	ReadActivityByOid(ctx context.Context, originId int64, oid string) (domain.Activity, error)
	ReadPlaceholderActivity(ctx context.Context, originId, noteId int64) (domain.Activity, error)
	ReadLatestNoteActivityType(ctx context.Context, actorId, noteId int64, a, b domain.ActivityType) (domain.ActivityType, error)
	InsertActivity(ctx context.Context, activity domain.Activity) (int64, error)
	UpdateActivity(ctx context.Context, activity domain.Activity) error

	IsGroupMember(ctx context.Context, groupId, memberId int64) (bool, error)
	ReadGroupMemberIds(ctx context.Context, groupId int64) ([]int64, error)
	ApplyMembership(ctx context.Context, changes []db.MembershipChange) error
}

var _ Store = (*db.DB)(nil)
