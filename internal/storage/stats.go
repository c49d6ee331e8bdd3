package storage

import (
	"context"
	"fmt"
)

// Stats is a point-in-time summary of the pipeline's backlog.
type Stats struct {
	Contexts       int `json:"contexts"`
	Unprocessed    int `json:"unprocessed_contexts"`
	PendingActions int `json:"pending_actions"`
	FailedActions  int `json:"failed_actions"`
	QueuedJobs     int `json:"queued_jobs"`
	FailedJobs     int `json:"failed_jobs"`
}

// Stats counts contexts, actions and jobs in one read.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM contexts),
		(SELECT COUNT(*) FROM contexts WHERE processed_at IS NULL),
		(SELECT COUNT(*) FROM actions WHERE status = 'pending'),
		(SELECT COUNT(*) FROM actions WHERE status = 'error'),
		(SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'running')),
		(SELECT COUNT(*) FROM jobs WHERE status = 'failed')`,
	).Scan(&st.Contexts, &st.Unprocessed, &st.PendingActions, &st.FailedActions, &st.QueuedJobs, &st.FailedJobs)
	if err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	return st, nil
}
