package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/esiebomaj/commander/internal/retrieval"
)

const contextColumns = `id, source_type, source_id, sender, summary, context_text, content_json,
	timestamp, created_at, embedding, embedded_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContext(row rowScanner) (Context, error) {
	var (
		c                       Context
		sender, summary         sql.NullString
		content                 string
		ts, createdAt           string
		embedding               []byte
		embeddedAt, processedAt sql.NullString
	)
	if err := row.Scan(&c.ID, &c.SourceType, &c.SourceID, &sender, &summary, &c.Text, &content,
		&ts, &createdAt, &embedding, &embeddedAt, &processedAt); err != nil {
		return Context{}, err
	}
	c.Sender = sender.String
	c.Summary = summary.String
	c.Content = []byte(content)

	var err error
	if c.Timestamp, err = parseTime(ts); err != nil {
		return Context{}, fmt.Errorf("parsing timestamp for context %s: %w", c.ID, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Context{}, fmt.Errorf("parsing created_at for context %s: %w", c.ID, err)
	}
	if len(embedding) > 0 {
		if c.Embedding, err = retrieval.DecodeVector(embedding); err != nil {
			return Context{}, fmt.Errorf("decoding embedding for context %s: %w", c.ID, err)
		}
	}
	if c.EmbeddedAt, err = parseNullTime(embeddedAt); err != nil {
		return Context{}, fmt.Errorf("parsing embedded_at for context %s: %w", c.ID, err)
	}
	if c.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return Context{}, fmt.Errorf("parsing processed_at for context %s: %w", c.ID, err)
	}
	return c, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SaveContext inserts a new context and returns it with ID and CreatedAt set.
// A second save of the same (source_type, source_id) returns ErrDuplicate.
func (s *Store) SaveContext(ctx context.Context, c Context) (Context, error) {
	if !c.SourceType.Valid() {
		return Context{}, fmt.Errorf("invalid source type %q", c.SourceType)
	}
	if c.SourceID == "" {
		return Context{}, fmt.Errorf("saving context: empty source id")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = s.now().UTC()
	if c.Timestamp.IsZero() {
		c.Timestamp = c.CreatedAt
	}
	content := string(c.Content)
	if content == "" {
		content = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contexts (id, source_type, source_id, sender, summary, context_text, content_json, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SourceType, c.SourceID, nullString(c.Sender), nullString(c.Summary), c.Text, content,
		formatTime(c.Timestamp), formatTime(c.CreatedAt),
	)
	if isUniqueViolation(err) {
		return Context{}, ErrDuplicate
	}
	if err != nil {
		return Context{}, fmt.Errorf("inserting context: %w", err)
	}
	c.Embedding, c.EmbeddedAt, c.ProcessedAt = nil, nil, nil
	return c, nil
}

func (s *Store) GetContext(ctx context.Context, id string) (Context, error) {
	c, err := scanContext(s.db.QueryRowContext(ctx, `SELECT `+contextColumns+` FROM contexts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Context{}, ErrNotFound
	}
	return c, err
}

// GetContextBySource looks a context up by its idempotency key.
func (s *Store) GetContextBySource(ctx context.Context, sourceType SourceType, sourceID string) (Context, error) {
	c, err := scanContext(s.db.QueryRowContext(ctx,
		`SELECT `+contextColumns+` FROM contexts WHERE source_type = ? AND source_id = ?`, sourceType, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return Context{}, ErrNotFound
	}
	return c, err
}

// GetContexts resolves ids in one query and returns them in the order given.
// Unknown ids are skipped.
func (s *Store) GetContexts(ctx context.Context, ids []string) ([]Context, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contextColumns+` FROM contexts WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying contexts: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Context, len(ids))
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Context, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
			delete(byID, id)
		}
	}
	return out, nil
}

// UpdateSummary is the only mutation allowed on an embedded context.
func (s *Store) UpdateSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE contexts SET summary = ? WHERE id = ?`, nullString(summary), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// SaveEmbedding stores the vector once. A context that already carries an
// embedding keeps it.
func (s *Store) SaveEmbedding(ctx context.Context, id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("saving embedding for %s: empty vector", id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE contexts SET embedding = ? WHERE id = ? AND embedding IS NULL`, retrieval.EncodeVector(vec), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	return s.exists(ctx, id)
}

// MarkEmbedded records that the vector reached the index.
func (s *Store) MarkEmbedded(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contexts SET embedded_at = ? WHERE id = ? AND embedded_at IS NULL`, s.timestamp(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	return s.exists(ctx, id)
}

func (s *Store) exists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM contexts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ListRecentContexts returns contexts newest first by event timestamp.
func (s *Store) ListRecentContexts(ctx context.Context, limit int, f RecentFilter) ([]Context, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := `SELECT ` + contextColumns + ` FROM contexts WHERE 1=1`
	var args []any
	if f.ProcessedOnly {
		q += ` AND processed_at IS NOT NULL`
	}
	if f.SourceType != "" {
		q += ` AND source_type = ?`
		args = append(args, f.SourceType)
	}
	if len(f.ExcludeIDs) > 0 {
		q += ` AND id NOT IN (` + placeholders(len(f.ExcludeIDs)) + `)`
		for _, id := range f.ExcludeIDs {
			args = append(args, id)
		}
	}
	q += ` ORDER BY timestamp DESC, id ASC LIMIT ?`
	args = append(args, limit)
	return s.queryContexts(ctx, q, args...)
}

// ListUnprocessed returns contexts without a processed_at mark, oldest first.
func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]Context, error) {
	return s.queryContexts(ctx, `SELECT `+contextColumns+` FROM contexts
		WHERE processed_at IS NULL ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
}

func (s *Store) CountContexts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contexts`).Scan(&n)
	return n, err
}

func (s *Store) queryContexts(ctx context.Context, q string, args ...any) ([]Context, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying contexts: %w", err)
	}
	defer rows.Close()

	var out []Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
