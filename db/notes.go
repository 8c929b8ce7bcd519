package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/deemkeen/fedimerge/domain"
	"github.com/deemkeen/fedimerge/util"
)

const noteColumns = `n.id, n.origin_id, n.oid, n.status, n.author_id, n.name, n.summary, n.content, n.sensitive, n.url,
	n.visibility, n.in_reply_to_oid, n.in_reply_to_note_id, n.conversation_oid, n.conversation_id,
	n.likes_count, n.reblogs_count, n.replies_count, n.favorited, n.reblogged, n.updated_at,
	o.name, o.origin_type, o.host`

const (
	sqlSelectNoteById = `SELECT ` + noteColumns + ` FROM notes n
		LEFT JOIN origins o ON o.id = n.origin_id WHERE n.id = ?`
	sqlSelectNoteIdByOid = `SELECT id FROM notes WHERE origin_id = ? AND oid = ?`
	sqlSelectNoteStatus  = `SELECT status FROM notes WHERE id = ?`
	sqlInsertNote        = `INSERT INTO notes(origin_id, oid, status, author_id, name, summary, content, content_to_search,
		sensitive, url, visibility, in_reply_to_oid, in_reply_to_note_id, conversation_oid, conversation_id,
		likes_count, reblogs_count, replies_count, favorited, reblogged, updated_at, ins_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateNote = `UPDATE notes SET oid = ?, status = ?, author_id = ?, name = ?, summary = ?, content = ?,
		content_to_search = ?, sensitive = ?, url = ?, visibility = ?, in_reply_to_oid = ?, in_reply_to_note_id = ?,
		conversation_oid = ?, conversation_id = ?, likes_count = ?, reblogs_count = ?, replies_count = ?,
		updated_at = ? WHERE id = ?`
	sqlUpdateNoteStatus     = `UPDATE notes SET status = ? WHERE id = ?`
	sqlMarkNoteDeleted      = `UPDATE notes SET status = ?, content = '', content_to_search = '', name = '', summary = '', updated_at = ? WHERE id = ?`
	sqlUpdateNoteFavorited  = `UPDATE notes SET favorited = ? WHERE id = ?`
	sqlUpdateNoteReblogged  = `UPDATE notes SET reblogged = ? WHERE id = ?`
	sqlUpdateNoteVisibility = `UPDATE notes SET visibility = ? WHERE id = ?`
	sqlSearchNotes          = `SELECT id FROM notes WHERE content_to_search LIKE ? ORDER BY updated_at DESC LIMIT ?`
	sqlCountNotes           = `SELECT COUNT(*) FROM notes`

	sqlSelectAttachments = `SELECT uri, mime_type FROM attachments WHERE note_id = ? ORDER BY id`
	sqlDeleteAttachments = `DELETE FROM attachments WHERE note_id = ?`
	sqlInsertAttachment  = `INSERT OR IGNORE INTO attachments(note_id, uri, mime_type) VALUES (?, ?, ?)`
)

// ReadNoteById loads a note with its attachments. The author is returned by id only.
func (db *DB) ReadNoteById(ctx context.Context, id int64) (domain.Note, error) {
	var n domain.Note
	err := db.read(ctx, func() error {
		var authorId, updatedAt int64
		var visibility int64
		var sensitive int
		var originName, originHost sql.NullString
		var originType sql.NullInt64
		err := db.db.QueryRowContext(ctx, sqlSelectNoteById, id).Scan(&n.NoteId, &n.Origin.Id, &n.Oid, &n.Status,
			&authorId, &n.Name, &n.Summary, &n.Content, &sensitive, &n.URL, &visibility, &n.InReplyToOid,
			&n.InReplyToNoteId, &n.ConversationOid, &n.ConversationId, &n.LikesCount, &n.ReblogsCount,
			&n.RepliesCount, &n.FavoritedByMe, &n.RebloggedByMe, &updatedAt, &originName, &originType, &originHost)
		if err != nil {
			return err
		}
		n.Origin.Name = originName.String
		n.Origin.Type = domain.OriginType(originType.Int64)
		n.Origin.Host = originHost.String
		n.Author = domain.Actor{ActorId: authorId}
		n.Sensitive = sensitive != 0
		n.UpdatedAt = fromMillis(updatedAt)
		n.Audience = domain.NewAudience(n.Origin)
		n.Audience.AddVisibility(domain.VisibilityFromId(visibility))
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.Attachments, err = db.readAttachments(ctx, id)
	return n, err
}

func (db *DB) readAttachments(ctx context.Context, noteId int64) ([]domain.Attachment, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectAttachments, noteId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.Uri, &a.MimeType); err != nil {
			return attachments, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

func (db *DB) ReadNoteIdByOid(ctx context.Context, originId int64, oid string) (int64, error) {
	if oid == "" {
		return 0, nil
	}
	return db.readId(ctx, sqlSelectNoteIdByOid, originId, oid)
}

func (db *DB) ReadNoteStatus(ctx context.Context, id int64) (domain.NoteStatus, error) {
	var status domain.NoteStatus
	err := db.read(ctx, func() error {
		return db.db.QueryRowContext(ctx, sqlSelectNoteStatus, id).Scan(&status)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NoteUnknown, ErrNotFound
	}
	return status, err
}

// InsertNote stores the note and its attachments in one transaction.
func (db *DB) InsertNote(ctx context.Context, n domain.Note) (int64, error) {
	if n.Origin.Id == 0 || n.Oid == "" {
		return 0, errors.New("note without origin or oid")
	}
	var id int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertNote, n.Origin.Id, n.Oid, int(n.Status), n.Author.ActorId, n.Name,
			n.Summary, n.Content, util.ContentToSearch(n.Name, n.Summary, n.Content), boolToInt(n.Sensitive), n.URL,
			n.Audience.Visibility.Id(), n.InReplyToOid, n.InReplyToNoteId, n.ConversationOid, n.ConversationId,
			n.LikesCount, n.ReblogsCount, n.RepliesCount, int(n.FavoritedByMe), int(n.RebloggedByMe),
			toMillis(n.UpdatedAt), toMillis(time.Now()))
		if err != nil {
			return err
		}
		if id, err = insertedId(res); err != nil {
			return err
		}
		return insertAttachments(ctx, tx, id, n.Attachments)
	})
	return id, err
}

// UpdateNote rewrites the note row and replaces its attachments.
// Favorited and reblogged flags are owned by SetNoteFavorited and SetNoteReblogged.
func (db *DB) UpdateNote(ctx context.Context, n domain.Note) error {
	if n.NoteId == 0 {
		return errors.New("update of a note without local id")
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateNote, n.Oid, int(n.Status), n.Author.ActorId, n.Name, n.Summary,
			n.Content, util.ContentToSearch(n.Name, n.Summary, n.Content), boolToInt(n.Sensitive), n.URL,
			n.Audience.Visibility.Id(), n.InReplyToOid, n.InReplyToNoteId, n.ConversationOid, n.ConversationId,
			n.LikesCount, n.ReblogsCount, n.RepliesCount, toMillis(n.UpdatedAt), n.NoteId)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlDeleteAttachments, n.NoteId); err != nil {
			return err
		}
		return insertAttachments(ctx, tx, n.NoteId, n.Attachments)
	})
}

func insertAttachments(ctx context.Context, tx *sql.Tx, noteId int64, attachments []domain.Attachment) error {
	for _, a := range attachments {
		if a.Uri == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, sqlInsertAttachment, noteId, a.Uri, a.MimeType); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) UpdateNoteStatus(ctx context.Context, id int64, status domain.NoteStatus) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateNoteStatus, int(status), id)
		return err
	})
}

// MarkNoteDeleted keeps the row, so references by id stay valid, and drops the content.
func (db *DB) MarkNoteDeleted(ctx context.Context, id int64, at time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlMarkNoteDeleted, int(domain.NoteDeleted), toMillis(at), id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlDeleteAttachments, id)
		return err
	})
}

func (db *DB) SetNoteFavorited(ctx context.Context, id int64, favorited domain.TriState) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateNoteFavorited, int(favorited), id)
		return err
	})
}

func (db *DB) SetNoteReblogged(ctx context.Context, id int64, reblogged domain.TriState) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateNoteReblogged, int(reblogged), id)
		return err
	})
}

// SearchNotes matches the folded search form, so "cafe" finds "Café".
func (db *DB) SearchNotes(ctx context.Context, query string, limit int) ([]int64, error) {
	rows, err := db.db.QueryContext(ctx, sqlSearchNotes, "%"+util.FoldForSearch(query)+"%", limit)
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

func (db *DB) CountNotes(ctx context.Context) (int64, error) {
	return db.readId(ctx, sqlCountNotes)
}
