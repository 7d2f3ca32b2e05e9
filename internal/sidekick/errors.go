package sidekick

import (
	"errors"
	"fmt"

	"github.com/xaenox/sidekicks/internal/models"
)

var (
	// ErrRunFailed matches every *RunFailedError.
	ErrRunFailed = errors.New("run failed")
	// ErrRunTimeout is returned when a run does not reach a terminal
	// status before the run timeout.
	ErrRunTimeout = errors.New("run timed out")
)

// RunFailedError reports a run that ended cancelled, failed or expired.
type RunFailedError struct {
	RunID  string
	Status models.RunStatus
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
}

func (e *RunFailedError) Is(target error) bool {
	return target == ErrRunFailed
}
