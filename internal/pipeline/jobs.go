package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/esiebomaj/commander/internal/storage"
)

// JobTypeProcess is the job type that runs Process for one context.
const JobTypeProcess = "process_context"

type processPayload struct {
	ContextID string `json:"context_id"`
}

// ProcessJobID is the deterministic job ID for a context, so queueing the
// same context twice never creates two jobs.
func ProcessJobID(contextID string) string {
	return JobTypeProcess + ":" + contextID
}

// NewProcessJob builds the queue entry for contextID.
func NewProcessJob(contextID string, maxAttempts int) (storage.Job, error) {
	payload, err := json.Marshal(processPayload{ContextID: contextID})
	if err != nil {
		return storage.Job{}, fmt.Errorf("marshalling job payload: %w", err)
	}
	return storage.Job{
		ID:          ProcessJobID(contextID),
		Type:        JobTypeProcess,
		PayloadJSON: string(payload),
		MaxAttempts: maxAttempts,
	}, nil
}
