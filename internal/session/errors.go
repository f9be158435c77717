package session

import (
	"errors"
	"fmt"

	"github.com/sessionkit/sessionkit/pkg/types"
)

var (
	// ErrInvalidState is returned by control calls made outside the state
	// that allows them.
	ErrInvalidState = errors.New("invalid session state")

	// ErrUnknownStep is returned by JumpToStep for a step ID not present
	// in the workflow.
	ErrUnknownStep = errors.New("unknown step")

	// ErrAutoContinue is returned by Continue on a workflow running with
	// automatic continuation.
	ErrAutoContinue = errors.New("workflow continues automatically")
)

// invalidState builds an ErrInvalidState with the offending operation and
// the status that rejected it.
func invalidState(op string, status types.Status) error {
	return fmt.Errorf("%w: %s requires a different state (currently %s)", ErrInvalidState, op, status)
}
