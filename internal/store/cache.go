package store

import (
	"database/sql"
	"errors"
)

// CachedMessage is one row of a scope's message log as last seen from the
// server. Streaming fragments are never cached; only settled messages
// survive a restart.
type CachedMessage struct {
	ID            string
	Role          string
	Text          string
	Command       string
	CommandStatus string
	ToolResult    string
}

// CachedWorktree mirrors the last-known work-stream registry entry.
type CachedWorktree struct {
	ID     string
	Name   string
	Branch string
	Status string
	Model  string
}

// ReplaceMessages swaps the cached log for scope wholesale. Position
// encodes log order; partial writes are impossible because the delete and
// inserts share one transaction.
func (s *Store) ReplaceMessages(scope string, msgs []CachedMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM cached_messages WHERE scope = ?`, scope); err != nil {
		tx.Rollback()
		return err
	}
	for i, m := range msgs {
		_, err := tx.Exec(
			`INSERT INTO cached_messages (scope, position, id, role, text, command, command_status, tool_result)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			scope, i, m.ID, m.Role, m.Text, m.Command, m.CommandStatus, m.ToolResult,
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListMessages(scope string) ([]CachedMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, role, text, command, command_status, tool_result
		 FROM cached_messages WHERE scope = ? ORDER BY position`, scope,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []CachedMessage
	for rows.Next() {
		var m CachedMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Text, &m.Command, &m.CommandStatus, &m.ToolResult); err != nil {
			continue
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// ReplaceWorktrees swaps the cached registry wholesale, matching the
// list event's replace semantics.
func (s *Store) ReplaceWorktrees(wts []CachedWorktree) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM cached_worktrees`); err != nil {
		tx.Rollback()
		return err
	}
	for _, w := range wts {
		_, err := tx.Exec(
			`INSERT INTO cached_worktrees (id, name, branch, status, model) VALUES (?, ?, ?, ?, ?)`,
			w.ID, w.Name, w.Branch, w.Status, w.Model,
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListWorktrees() ([]CachedWorktree, error) {
	rows, err := s.db.Query(`SELECT id, name, branch, status, model FROM cached_worktrees`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []CachedWorktree
	for rows.Next() {
		var w CachedWorktree
		if err := rows.Scan(&w.ID, &w.Name, &w.Branch, &w.Status, &w.Model); err != nil {
			continue
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

// GetState returns "" for a missing key.
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}
