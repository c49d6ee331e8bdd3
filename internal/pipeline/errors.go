package pipeline

import (
	"errors"
	"fmt"

	"github.com/esiebomaj/commander/internal/retrieval"
)

// Stage names the step of processing that failed.
type Stage string

const (
	StageStore   Stage = "store"
	StageEmbed   Stage = "embed"
	StageIndex   Stage = "index"
	StageHistory Stage = "history"
	StagePropose Stage = "propose"
)

// IngestionFailure reports why a context could not be fully processed. The
// context is left unprocessed so a later run can pick it up.
type IngestionFailure struct {
	Stage     Stage
	ContextID string
	Err       error
}

func (e *IngestionFailure) Error() string {
	return fmt.Sprintf("processing context %s failed at %s: %v", e.ContextID, e.Stage, e.Err)
}

func (e *IngestionFailure) Unwrap() error { return e.Err }

// Retryable reports whether running the context again may succeed. Embedding
// and index outages are transient; a dimension mismatch is not.
func (e *IngestionFailure) Retryable() bool {
	var dim *retrieval.DimensionError
	if errors.As(e.Err, &dim) {
		return false
	}
	return e.Stage == StageEmbed || e.Stage == StageIndex
}

func fail(stage Stage, id string, err error) error {
	return &IngestionFailure{Stage: stage, ContextID: id, Err: err}
}
