package db

import (
	"context"
	"database/sql"

	"github.com/deemkeen/fedimerge/domain"
)

const (
	sqlSelectAudience = `SELECT ` + actorColumns + ` FROM audience au
		INNER JOIN actors a ON a.id = au.actor_id
		LEFT JOIN origins o ON o.id = a.origin_id
		WHERE au.note_id = ? ORDER BY a.id`
	sqlInsertAudience     = `INSERT OR IGNORE INTO audience(note_id, actor_id) VALUES (?, ?)`
	sqlDeleteAudience     = `DELETE FROM audience WHERE note_id = ? AND actor_id = ?`
	sqlSelectAudienceHas  = `SELECT COUNT(*) FROM audience WHERE note_id = ? AND actor_id = ?`
	sqlSelectVisibilityOf = `SELECT visibility FROM notes WHERE id = ?`
)

// ReadAudience returns the stored recipients of a note.
func (db *DB) ReadAudience(ctx context.Context, noteId int64) ([]domain.Actor, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectAudience, noteId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return actors, err
		}
		actors = append(actors, actor)
	}
	return actors, rows.Err()
}

func (db *DB) ReadNoteVisibility(ctx context.Context, noteId int64) (domain.Visibility, error) {
	id, err := db.readId(ctx, sqlSelectVisibilityOf, noteId)
	return domain.VisibilityFromId(id), err
}

func (db *DB) IsInAudience(ctx context.Context, noteId, actorId int64) (bool, error) {
	n, err := db.readId(ctx, sqlSelectAudienceHas, noteId, actorId)
	return n > 0, err
}

// SaveAudienceDelta applies removals, additions and the visibility in one transaction.
func (db *DB) SaveAudienceDelta(ctx context.Context, noteId int64, visibility domain.Visibility, toDelete, toAdd []int64) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, actorId := range toDelete {
			if _, err := tx.ExecContext(ctx, sqlDeleteAudience, noteId, actorId); err != nil {
				return err
			}
		}
		for _, actorId := range toAdd {
			if _, err := tx.ExecContext(ctx, sqlInsertAudience, noteId, actorId); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, sqlUpdateNoteVisibility, visibility.Id(), noteId)
		return err
	})
}
