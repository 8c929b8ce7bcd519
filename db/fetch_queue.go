package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/fedimerge/domain"
)

const (
	sqlInsertFetch = `INSERT INTO fetch_queue(origin_id, oid, object_type, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, 0, ?, ?) ON CONFLICT(origin_id, oid) DO NOTHING`
	sqlSelectPendingFetches = `SELECT id, origin_id, oid, object_type, attempts, next_retry_at, created_at
		FROM fetch_queue WHERE next_retry_at <= ? ORDER BY created_at ASC, id ASC LIMIT ?`
	sqlUpdateFetchAttempt = `UPDATE fetch_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteFetch        = `DELETE FROM fetch_queue WHERE id = ?`
	sqlCountFetches       = `SELECT COUNT(*) FROM fetch_queue`
)

// EnqueueFetch records that oid should be downloaded. Requests for the same oid collapse into one.
func (db *DB) EnqueueFetch(ctx context.Context, originId int64, oid string, objectType domain.ObjectType) error {
	now := toMillis(time.Now())
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertFetch, originId, oid, objectType.String(), now, now)
		return err
	})
}

// ReadPendingFetches returns requests whose retry time has come, oldest first.
func (db *DB) ReadPendingFetches(ctx context.Context, limit int) ([]domain.FetchRequest, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPendingFetches, toMillis(time.Now()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.FetchRequest
	for rows.Next() {
		var item domain.FetchRequest
		var objectType string
		var nextRetry, created int64
		if err := rows.Scan(&item.Id, &item.OriginId, &item.Oid, &objectType, &item.Attempts, &nextRetry, &created); err != nil {
			return items, err
		}
		item.ObjectType = domain.ParseObjectType(objectType)
		item.NextRetryAt = fromMillis(nextRetry)
		item.CreatedAt = fromMillis(created)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (db *DB) UpdateFetchAttempt(ctx context.Context, id int64, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateFetchAttempt, attempts, toMillis(nextRetry), id)
		return err
	})
}

func (db *DB) DeleteFetch(ctx context.Context, id int64) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteFetch, id)
		return err
	})
}

func (db *DB) CountFetches(ctx context.Context) (int64, error) {
	return db.readId(ctx, sqlCountFetches)
}
