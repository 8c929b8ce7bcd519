package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/deemkeen/fedimerge/domain"
)

const actorColumns = `a.id, a.origin_id, a.oid, a.username, a.webfinger_id, a.real_name, a.summary, a.profile_url,
	a.homepage, a.avatar_url, a.avatar_downloaded_at, a.notes_count, a.favorites_count, a.following_count,
	a.followers_count, a.inbox_url, a.outbox_url, a.followers_url, a.following_url, a.group_type,
	a.parent_actor_id, a.created_at, a.updated_at, o.name, o.origin_type, o.host`

const (
	sqlSelectActorById = `SELECT ` + actorColumns + ` FROM actors a
		LEFT JOIN origins o ON o.id = a.origin_id WHERE a.id = ?`
	sqlSelectActorIdByOid         = `SELECT id FROM actors WHERE origin_id = ? AND oid = ?`
	sqlSelectActorIdByWebFingerId = `SELECT id FROM actors WHERE origin_id = ? AND webfinger_id = ? COLLATE NOCASE ORDER BY id LIMIT 1`
	sqlSelectActorIdByUsername    = `SELECT id FROM actors WHERE origin_id = ? AND username = ? COLLATE NOCASE ORDER BY id LIMIT 1`
	sqlSelectActorIdByParent      = `SELECT id FROM actors WHERE parent_actor_id = ? AND group_type = ? ORDER BY id LIMIT 1`
	sqlSelectActorIdsByWebFinger  = `SELECT id FROM actors WHERE webfinger_id = ? COLLATE NOCASE ORDER BY id`
	sqlInsertActor                = `INSERT INTO actors(origin_id, oid, username, webfinger_id, real_name, summary, profile_url,
		homepage, avatar_url, avatar_downloaded_at, notes_count, favorites_count, following_count, followers_count,
		inbox_url, outbox_url, followers_url, following_url, group_type, parent_actor_id, created_at, updated_at, ins_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActor = `UPDATE actors SET oid = ?, username = ?, webfinger_id = ?, real_name = ?, summary = ?,
		profile_url = ?, homepage = ?, avatar_url = ?, avatar_downloaded_at = ?, notes_count = ?, favorites_count = ?,
		following_count = ?, followers_count = ?, inbox_url = ?, outbox_url = ?, followers_url = ?, following_url = ?,
		group_type = ?, parent_actor_id = ?, created_at = ?, updated_at = ? WHERE id = ?`
	sqlCountActors = `SELECT COUNT(*) FROM actors`

	sqlCountActorReferences = `SELECT
		(SELECT COUNT(*) FROM activities WHERE actor_id = ?1 OR obj_actor_id = ?1 OR notified_actor_id = ?1 OR account_id = ?1) +
		(SELECT COUNT(*) FROM notes WHERE author_id = ?1) +
		(SELECT COUNT(*) FROM group_members WHERE member_id = ?1) +
		(SELECT COUNT(*) FROM audience WHERE actor_id = ?1) +
		(SELECT COUNT(*) FROM actors WHERE parent_actor_id = ?1)`
	sqlDeleteActor = `DELETE FROM actors WHERE id = ?`
)

// ErrActorInUse is returned by PruneActor when something still points at the actor.
var ErrActorInUse = errors.New("actor is still referenced")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (domain.Actor, error) {
	var a domain.Actor
	var avatarAt, createdAt, updatedAt int64
	var originName, originHost sql.NullString
	var originType sql.NullInt64
	err := row.Scan(&a.ActorId, &a.Origin.Id, &a.Oid, &a.Username, &a.WebFingerId, &a.RealName, &a.Summary,
		&a.ProfileURL, &a.Homepage, &a.AvatarURL, &avatarAt, &a.NotesCount, &a.FavoritesCount,
		&a.FollowingCount, &a.FollowersCount, &a.Endpoints.Inbox, &a.Endpoints.Outbox,
		&a.Endpoints.Followers, &a.Endpoints.Following, &a.GroupType, &a.ParentActorId,
		&createdAt, &updatedAt, &originName, &originType, &originHost)
	if err != nil {
		return a, err
	}
	a.AvatarDownloadedAt = fromMillis(avatarAt)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	a.Origin.Name = originName.String
	a.Origin.Type = domain.OriginType(originType.Int64)
	a.Origin.Host = originHost.String
	return a, nil
}

func (db *DB) ReadActorById(ctx context.Context, id int64) (domain.Actor, error) {
	var actor domain.Actor
	err := db.read(ctx, func() error {
		var err error
		actor, err = scanActor(db.db.QueryRowContext(ctx, sqlSelectActorById, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return actor, ErrNotFound
	}
	return actor, err
}

// readId runs a single-column id lookup; no match is 0 without an error.
func (db *DB) readId(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := db.read(ctx, func() error {
		return db.db.QueryRowContext(ctx, query, args...).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (db *DB) ReadActorIdByOid(ctx context.Context, originId int64, oid string) (int64, error) {
	if oid == "" {
		return 0, nil
	}
	return db.readId(ctx, sqlSelectActorIdByOid, originId, oid)
}

func (db *DB) ReadActorIdByWebFingerId(ctx context.Context, originId int64, webFingerId string) (int64, error) {
	if webFingerId == "" {
		return 0, nil
	}
	return db.readId(ctx, sqlSelectActorIdByWebFingerId, originId, webFingerId)
}

func (db *DB) ReadActorIdByUsername(ctx context.Context, originId int64, username string) (int64, error) {
	if username == "" {
		return 0, nil
	}
	return db.readId(ctx, sqlSelectActorIdByUsername, originId, username)
}

func (db *DB) ReadActorIdByParent(ctx context.Context, parentId int64, groupType domain.GroupType) (int64, error) {
	if parentId == 0 {
		return 0, nil
	}
	return db.readId(ctx, sqlSelectActorIdByParent, parentId, int(groupType))
}

// ReadActorIdsByWebFingerId finds the same address across all origins.
func (db *DB) ReadActorIdsByWebFingerId(ctx context.Context, webFingerId string) ([]int64, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectActorIdsByWebFinger, strings.ToLower(webFingerId))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertActor stores a new actor and returns its local id. Constant actors are refused.
func (db *DB) InsertActor(ctx context.Context, a domain.Actor) (int64, error) {
	if a.IsConstant() {
		return 0, errors.New("refusing to store a constant actor")
	}
	if a.Origin.Id == 0 {
		return 0, errors.New("actor without origin id")
	}
	var id int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertActor, a.Origin.Id, a.Oid, a.Username, a.WebFingerId, a.RealName,
			a.Summary, a.ProfileURL, a.Homepage, a.AvatarURL, toMillis(a.AvatarDownloadedAt), a.NotesCount,
			a.FavoritesCount, a.FollowingCount, a.FollowersCount, a.Endpoints.Inbox, a.Endpoints.Outbox,
			a.Endpoints.Followers, a.Endpoints.Following, int(a.GroupType), a.ParentActorId,
			toMillis(a.CreatedAt), toMillis(a.UpdatedAt), toMillis(time.Now()))
		if err != nil {
			return err
		}
		id, err = insertedId(res)
		return err
	})
	return id, err
}

func (db *DB) UpdateActor(ctx context.Context, a domain.Actor) error {
	if a.ActorId == 0 {
		return errors.New("update of an actor without local id")
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateActor, a.Oid, a.Username, a.WebFingerId, a.RealName, a.Summary,
			a.ProfileURL, a.Homepage, a.AvatarURL, toMillis(a.AvatarDownloadedAt), a.NotesCount, a.FavoritesCount,
			a.FollowingCount, a.FollowersCount, a.Endpoints.Inbox, a.Endpoints.Outbox, a.Endpoints.Followers,
			a.Endpoints.Following, int(a.GroupType), a.ParentActorId, toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
			a.ActorId)
		return err
	})
}

func (db *DB) CountActors(ctx context.Context) (int64, error) {
	return db.readId(ctx, sqlCountActors)
}

// PruneActor deletes an actor nothing refers to anymore.
func (db *DB) PruneActor(ctx context.Context, id int64) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var refs int64
		if err := tx.QueryRowContext(ctx, sqlCountActorReferences, id).Scan(&refs); err != nil {
			return err
		}
		if refs > 0 {
			return ErrActorInUse
		}
		res, err := tx.ExecContext(ctx, sqlDeleteActor, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
