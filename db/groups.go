package db

import (
	"context"
	"database/sql"
	"time"
)

// MembershipChange adds or removes one (group, member) edge.
type MembershipChange struct {
	GroupId  int64
	MemberId int64
	IsMember bool
}

const (
	sqlSelectGroupMember    = `SELECT COUNT(*) FROM group_members WHERE group_id = ? AND member_id = ?`
	sqlSelectGroupMemberIds = `SELECT member_id FROM group_members WHERE group_id = ? ORDER BY member_id`
	sqlInsertGroupMember    = `INSERT OR IGNORE INTO group_members(group_id, member_id, ins_at) VALUES (?, ?, ?)`
	sqlDeleteGroupMember    = `DELETE FROM group_members WHERE group_id = ? AND member_id = ?`
	sqlCountGroupMembers    = `SELECT COUNT(*) FROM group_members`
)

func (db *DB) IsGroupMember(ctx context.Context, groupId, memberId int64) (bool, error) {
	n, err := db.readId(ctx, sqlSelectGroupMember, groupId, memberId)
	return n > 0, err
}

func (db *DB) ReadGroupMemberIds(ctx context.Context, groupId int64) ([]int64, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectGroupMemberIds, groupId)
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

// ApplyMembership writes all changes together: either every edge is updated or none is.
func (db *DB) ApplyMembership(ctx context.Context, changes []MembershipChange) error {
	if len(changes) == 0 {
		return nil
	}
	now := toMillis(time.Now())
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, c := range changes {
			var err error
			if c.IsMember {
				_, err = tx.ExecContext(ctx, sqlInsertGroupMember, c.GroupId, c.MemberId, now)
			} else {
				_, err = tx.ExecContext(ctx, sqlDeleteGroupMember, c.GroupId, c.MemberId)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) CountGroupMembers(ctx context.Context) (int64, error) {
	return db.readId(ctx, sqlCountGroupMembers)
}
