package store

import (
	"fmt"

	"github.com/quickblox/dialogsync/internal/model"
)

// SaveUsers upserts a batch of directory entries in one transaction.
// Name and avatar follow the non-empty-wins rule so a sparse lookup
// response cannot blank out known fields.
func (db *DB) SaveUsers(users []model.User) error {
	if len(users) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range users {
		if _, err := tx.Exec(`
			INSERT INTO users (id, name, avatar_id, last_active_at, is_current)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
				avatar_id = CASE WHEN excluded.avatar_id != '' THEN excluded.avatar_id ELSE users.avatar_id END,
				last_active_at = excluded.last_active_at,
				is_current = excluded.is_current`,
			u.ID, u.Name, u.AvatarID, u.LastActiveAt.UnixMilli(), u.IsCurrent); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// LoadUsers reads the whole directory.
func (db *DB) LoadUsers() ([]model.User, error) {
	rows, err := db.Query(`SELECT id, name, avatar_id, last_active_at, is_current FROM users`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var activeMs int64
		if err := rows.Scan(&u.ID, &u.Name, &u.AvatarID, &activeMs, &u.IsCurrent); err != nil {
			return nil, err
		}
		u.LastActiveAt = fromMs(activeMs)
		users = append(users, u)
	}
	return users, rows.Err()
}

// DialogCount returns the number of cached dialogs.
func (db *DB) DialogCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM dialogs`).Scan(&count)
	return count, err
}
