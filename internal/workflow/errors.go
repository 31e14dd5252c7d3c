package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWorkflow is returned when no status document exists yet.
	ErrNoWorkflow = errors.New("no workflow initialised")

	// ErrUnknownPhase is returned for phase codes outside PREVEC.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrUnknownScale is returned for unrecognised scale names.
	ErrUnknownScale = errors.New("unknown scale")

	// ErrEmptyName is returned when a workflow is initialised without a name.
	ErrEmptyName = errors.New("workflow name is required")

	// ErrInvalidState marks a malformed or inconsistent workflow document.
	ErrInvalidState = errors.New("invalid workflow state")
)

// StateError describes a broken workflow-state invariant.
type StateError struct {
	Op  string
	Msg string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("workflow %s: %s", e.Op, e.Msg)
}

// Is lets callers match any StateError with ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
