package decision

import (
	"fmt"

	"github.com/esiebomaj/commander/internal/storage"
)

// DecisionFailure wraps a reasoner error, timeout or unparseable reply. It
// never escapes Decide; it becomes the anomaly of a no_action draft.
type DecisionFailure struct {
	Err error
}

func (e *DecisionFailure) Error() string {
	return fmt.Sprintf("decision failed: %v", e.Err)
}

func (e *DecisionFailure) Unwrap() error { return e.Err }

// ValidationFailure reports a proposed action whose payload is unusable.
// Index is the position of the item in the reasoner output, or -1 when the
// payload came from elsewhere.
type ValidationFailure struct {
	Index  int
	Type   storage.ActionType
	Field  string
	Reason string
	Err    error
}

func (e *ValidationFailure) Error() string {
	msg := fmt.Sprintf("%s payload", e.Type)
	if e.Index >= 0 {
		msg = fmt.Sprintf("action %d (%s)", e.Index, msg)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": %s %q", e.Reason, e.Field)
	} else {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationFailure) Unwrap() error { return e.Err }
