package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/deemkeen/fedimerge/domain"
)

const activityColumns = `id, origin_id, oid, activity_type, actor_id, account_id, note_id, obj_actor_id, obj_activity_id,
	subscribed, interaction, notified_actor_id, notified, updated_at, ins_at`

const (
	sqlSelectActivityById  = `SELECT ` + activityColumns + ` FROM activities WHERE id = ?`
	sqlSelectActivityByOid = `SELECT ` + activityColumns + ` FROM activities WHERE origin_id = ? AND oid = ?`
	sqlInsertActivity      = `INSERT INTO activities(origin_id, oid, activity_type, actor_id, account_id, note_id,
		obj_actor_id, obj_activity_id, subscribed, interaction, notified_actor_id, notified, updated_at, ins_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity = `UPDATE activities SET oid = ?, activity_type = ?, actor_id = ?, account_id = ?, note_id = ?,
		obj_actor_id = ?, obj_activity_id = ?, subscribed = ?, interaction = ?, notified_actor_id = ?, notified = ?,
		updated_at = ? WHERE id = ?`
	sqlSelectLatestNoteActivityType = `SELECT activity_type FROM activities
		WHERE actor_id = ? AND note_id = ? AND activity_type IN (?, ?)
		ORDER BY updated_at DESC, id DESC LIMIT 1`
	sqlSelectPlaceholderActivity = `SELECT ` + activityColumns + ` FROM activities
		WHERE origin_id = ? AND note_id = ? AND oid LIKE 'tmp:%' ORDER BY id LIMIT 1`
	sqlCountActivities = `SELECT COUNT(*) FROM activities`
)

func scanActivity(row rowScanner) (domain.Activity, error) {
	var a domain.Activity
	var actorId, accountId, noteId, objActorId, objActivityId, notifiedActorId int64
	var updatedAt, insAt int64
	err := row.Scan(&a.ActivityId, &a.Origin.Id, &a.Oid, &a.Type, &actorId, &accountId, &noteId, &objActorId,
		&objActivityId, &a.SubscribedByMe, &a.Interaction, &notifiedActorId, &a.Notified, &updatedAt, &insAt)
	if err != nil {
		return a, err
	}
	a.Actor = domain.Actor{ActorId: actorId}
	a.AccountActor = domain.Actor{ActorId: accountId}
	a.NotifiedActor = domain.Actor{ActorId: notifiedActorId}
	a.UpdatedAt = fromMillis(updatedAt)
	a.InsertedAt = fromMillis(insAt)
	switch {
	case noteId != 0:
		a.SetNote(domain.Note{NoteId: noteId})
	case objActorId != 0:
		a.SetObjectActor(domain.Actor{ActorId: objActorId})
	case objActivityId != 0:
		a.SetActivity(domain.Activity{ActivityId: objActivityId})
	}
	return a, nil
}

func (db *DB) readActivity(ctx context.Context, query string, args ...any) (domain.Activity, error) {
	var activity domain.Activity
	err := db.read(ctx, func() error {
		var err error
		activity, err = scanActivity(db.db.QueryRowContext(ctx, query, args...))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return activity, ErrNotFound
	}
	return activity, err
}

// ReadActivityById returns the stored row; objects and actors carry local ids only.
func (db *DB) ReadActivityById(ctx context.Context, id int64) (domain.Activity, error) {
	return db.readActivity(ctx, sqlSelectActivityById, id)
}

func (db *DB) ReadActivityByOid(ctx context.Context, originId int64, oid string) (domain.Activity, error) {
	return db.readActivity(ctx, sqlSelectActivityByOid, originId, oid)
}

// ReadPlaceholderActivity finds an activity about noteId that still has a synthesized oid.
func (db *DB) ReadPlaceholderActivity(ctx context.Context, originId, noteId int64) (domain.Activity, error) {
	return db.readActivity(ctx, sqlSelectPlaceholderActivity, originId, noteId)
}

// ReadLatestNoteActivityType returns the newest of the two verbs the actor applied to the note,
// ActivityUnknown when there is none.
func (db *DB) ReadLatestNoteActivityType(ctx context.Context, actorId, noteId int64, a, b domain.ActivityType) (domain.ActivityType, error) {
	var activityType domain.ActivityType
	err := db.read(ctx, func() error {
		return db.db.QueryRowContext(ctx, sqlSelectLatestNoteActivityType, actorId, noteId, int(a), int(b)).Scan(&activityType)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ActivityUnknown, nil
	}
	return activityType, err
}

func activityObjectIds(a domain.Activity) (noteId, objActorId, objActivityId int64) {
	switch a.ObjectType() {
	case domain.ObjectNote:
		noteId = a.Note().NoteId
	case domain.ObjectActor:
		objActorId = a.ObjectActor().ActorId
	case domain.ObjectActivity:
		inner := a.InnerActivity()
		objActivityId = inner.ActivityId
		// Announce of a Create points at the same note
		noteId = inner.Note().NoteId
	}
	return noteId, objActorId, objActivityId
}

// InsertActivity stores the activity row. Actor, object and notified actor must already be resolved.
func (db *DB) InsertActivity(ctx context.Context, a domain.Activity) (int64, error) {
	if a.Origin.Id == 0 || a.Oid == "" {
		return 0, errors.New("activity without origin or oid")
	}
	noteId, objActorId, objActivityId := activityObjectIds(a)
	var id int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertActivity, a.Origin.Id, a.Oid, int(a.Type), a.Actor.ActorId,
			a.AccountActor.ActorId, noteId, objActorId, objActivityId, int(a.SubscribedByMe), int(a.Interaction),
			a.NotifiedActor.ActorId, int(a.Notified), toMillis(a.UpdatedAt), toMillis(time.Now()))
		if err != nil {
			return err
		}
		id, err = insertedId(res)
		return err
	})
	return id, err
}

func (db *DB) UpdateActivity(ctx context.Context, a domain.Activity) error {
	if a.ActivityId == 0 {
		return errors.New("update of an activity without local id")
	}
	noteId, objActorId, objActivityId := activityObjectIds(a)
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateActivity, a.Oid, int(a.Type), a.Actor.ActorId, a.AccountActor.ActorId,
			noteId, objActorId, objActivityId, int(a.SubscribedByMe), int(a.Interaction), a.NotifiedActor.ActorId,
			int(a.Notified), toMillis(a.UpdatedAt), a.ActivityId)
		return err
	})
}

func (db *DB) CountActivities(ctx context.Context) (int64, error) {
	return db.readId(ctx, sqlCountActivities)
}
