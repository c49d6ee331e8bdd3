package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const defaultActionLimit = 50

const actionSelect = `SELECT a.id, a.context_id, a.type, a.payload_json, a.confidence, a.status,
	a.result_json, a.anomaly, a.attempts, a.created_at, a.updated_at,
	c.source_type, c.sender, c.summary
	FROM actions a JOIN contexts c ON c.id = a.context_id`

func scanAction(row rowScanner) (Action, error) {
	var (
		a                    Action
		payload              string
		result, anomaly      sql.NullString
		createdAt, updatedAt string
		sender, summary      sql.NullString
	)
	if err := row.Scan(&a.ID, &a.ContextID, &a.Type, &payload, &a.Confidence, &a.Status,
		&result, &anomaly, &a.Attempts, &createdAt, &updatedAt,
		&a.SourceType, &sender, &summary); err != nil {
		return Action{}, err
	}
	a.Payload = json.RawMessage(payload)
	if result.Valid {
		a.Result = json.RawMessage(result.String)
	}
	a.Anomaly = anomaly.String
	a.Sender = sender.String
	a.Summary = summary.String

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return Action{}, fmt.Errorf("parsing created_at for action %d: %w", a.ID, err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Action{}, fmt.Errorf("parsing updated_at for action %d: %w", a.ID, err)
	}
	return a, nil
}

// InsertActions persists drafts as pending and marks the context processed in
// the same transaction. If the context was already processed nothing is
// written: the existing actions are returned and inserted is false.
func (s *Store) InsertActions(ctx context.Context, contextID string, drafts []NewAction) (actions []Action, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning proposal transaction: %w", err)
	}
	defer tx.Rollback()

	var processedAt sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT processed_at FROM contexts WHERE id = ?`, contextID).Scan(&processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}

	if !processedAt.Valid {
		now := s.timestamp()
		for i, d := range drafts {
			if !d.Type.Valid() {
				return nil, false, fmt.Errorf("draft %d: invalid action type %q", i, d.Type)
			}
			payload := string(d.Payload)
			if payload == "" {
				payload = "{}"
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO actions (context_id, type, payload_json, confidence, status, anomaly, created_at, updated_at)
				VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)`,
				contextID, d.Type, payload, d.Confidence, nullString(d.Anomaly), now, now,
			); err != nil {
				return nil, false, fmt.Errorf("inserting draft %d: %w", i, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE contexts SET processed_at = ? WHERE id = ?`, now, contextID); err != nil {
			return nil, false, fmt.Errorf("marking context processed: %w", err)
		}
		inserted = true
	}

	rows, err := tx.QueryContext(ctx, actionSelect+` WHERE a.context_id = ? ORDER BY a.id ASC`, contextID)
	if err != nil {
		return nil, false, err
	}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			rows.Close()
			return nil, false, err
		}
		actions = append(actions, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing proposal: %w", err)
	}
	return actions, inserted, nil
}

func (s *Store) GetAction(ctx context.Context, id int64) (Action, error) {
	a, err := scanAction(s.db.QueryRowContext(ctx, actionSelect+` WHERE a.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Action{}, ErrNotFound
	}
	return a, err
}

// ListActions returns actions newest first.
func (s *Store) ListActions(ctx context.Context, f ActionFilter) ([]Action, error) {
	q := actionSelect + ` WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND a.status = ?`
		args = append(args, f.Status)
	}
	if f.Type != "" {
		q += ` AND a.type = ?`
		args = append(args, f.Type)
	}
	if f.SourceType != "" {
		q += ` AND c.source_type = ?`
		args = append(args, f.SourceType)
	}
	if f.ContextID != "" {
		q += ` AND a.context_id = ?`
		args = append(args, f.ContextID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultActionLimit
	}
	q += ` ORDER BY a.created_at DESC, a.id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActionsForContexts loads the actions of every given context in one query.
func (s *Store) ActionsForContexts(ctx context.Context, ids []string) (map[string][]Action, error) {
	out := make(map[string][]Action, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		actionSelect+` WHERE a.context_id IN (`+placeholders(len(ids))+`) ORDER BY a.id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out[a.ContextID] = append(out[a.ContextID], a)
	}
	return out, rows.Err()
}

// ClaimAction marks an approvable action as executing. Only one caller wins;
// a claim older than staleBefore is considered abandoned and can be taken over.
func (s *Store) ClaimAction(ctx context.Context, id int64, staleBefore time.Time) (bool, error) {
	now := s.timestamp()
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET executing_since = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'skipped', 'error')
		  AND (executing_since IS NULL OR executing_since < ?)`,
		now, now, id, formatTime(staleBefore),
	)
	if err != nil {
		return false, fmt.Errorf("claiming action %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteAction records the executor outcome and releases the claim.
func (s *Store) CompleteAction(ctx context.Context, id int64, status ActionStatus, result json.RawMessage) error {
	if status != StatusExecuted && status != StatusError {
		return fmt.Errorf("completing action %d: invalid status %q", id, status)
	}
	var resultArg any
	if len(result) > 0 {
		resultArg = string(result)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = ?, result_json = ?, executing_since = NULL, updated_at = ?
		WHERE id = ?`,
		status, resultArg, s.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("completing action %d: %w", id, err)
	}
	return checkAffected(res)
}

// SkipAction moves a pending, unclaimed action to skipped. It reports whether
// the status changed.
func (s *Store) SkipAction(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = 'skipped', updated_at = ?
		WHERE id = ? AND status = 'pending' AND executing_since IS NULL`,
		s.timestamp(), id,
	)
	if err != nil {
		return false, fmt.Errorf("skipping action %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetAction(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateActionPayload replaces the payload of a pending action. Any other
// status yields ErrConflict.
func (s *Store) UpdateActionPayload(ctx context.Context, id int64, payload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET payload_json = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND executing_since IS NULL`,
		string(payload), s.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("updating payload of action %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetAction(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}
