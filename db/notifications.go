package db

import (
	"context"
	"database/sql"

	"github.com/deemkeen/fedimerge/domain"
)

const (
	sqlSelectNotifications = `SELECT ac.id, ac.oid, ac.activity_type, ac.interaction, ac.actor_id,
		COALESCE(NULLIF(a.webfinger_id, ''), NULLIF(a.username, ''), a.oid, ''),
		ac.notified_actor_id, ac.note_id, COALESCE(n.content, ''), ac.notified, ac.updated_at
		FROM activities ac
		LEFT JOIN actors a ON a.id = ac.actor_id
		LEFT JOIN notes n ON n.id = ac.note_id
		WHERE ac.interaction NOT IN (0, 6) AND (? = 0 OR ac.notified = ?)
		ORDER BY ac.updated_at DESC, ac.id DESC LIMIT ?`
	sqlMarkNotificationsSeen = `UPDATE activities SET notified = ? WHERE interaction NOT IN (0, 6) AND notified = ? AND id <= ?`
)

// ReadNotifications lists interacted activities, newest first. Empty (0) and Home (6) are not notifications.
func (db *DB) ReadNotifications(ctx context.Context, onlyUnseen bool, limit int) ([]domain.Notification, error) {
	unseen := boolToInt(onlyUnseen)
	rows, err := db.db.QueryContext(ctx, sqlSelectNotifications, unseen, int(domain.TRUE), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var updatedAt int64
		if err := rows.Scan(&n.ActivityId, &n.Oid, &n.Type, &n.Interaction, &n.ActorId, &n.ActorName,
			&n.NotifiedActorId, &n.NoteId, &n.NoteContent, &n.Notified, &updatedAt); err != nil {
			return notifications, err
		}
		n.UpdatedAt = fromMillis(updatedAt)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationsSeen flips pending notifications up to and including upToId. Returns the count.
func (db *DB) MarkNotificationsSeen(ctx context.Context, upToId int64) (int64, error) {
	var affected int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlMarkNotificationsSeen, int(domain.FALSE), int(domain.TRUE), upToId)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}
