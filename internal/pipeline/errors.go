package pipeline

import (
	"errors"
	"fmt"

	"github.com/calder/foundry/internal/models"
)

// InvalidTransitionError rejects an operation that is not legal in the
// execution's current stage. The execution is left untouched.
type InvalidTransitionError struct {
	ExecutionID string
	Stage       models.Stage
	Op          string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("execution %s: cannot %s in stage %q", e.ExecutionID, e.Op, e.Stage)
}

// IsInvalidTransition reports whether err is or wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
