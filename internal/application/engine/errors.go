package engine

import (
	"errors"

	"github.com/approvia/expense-workflow/internal/application/port"
)

var (
	// ErrNotFound is returned when the expense does not exist
	ErrNotFound = errors.New("expense not found")

	// ErrForbidden is returned when the acting identity is not allowed to
	// perform the operation; never retried, always logged with the actor
	ErrForbidden = errors.New("operation not permitted for this user")

	// ErrStaleState is returned when the expense left the expected status
	// before the transition committed; the caller should re-fetch and may
	// retry against the new state. Shared with the repository layer, which
	// detects the condition on its conditional update.
	ErrStaleState = port.ErrStaleState

	// ErrFieldNotEditable is returned when an update touches department or
	// category while the expense is in PENDING_ADDITIONAL_INFO
	ErrFieldNotEditable = errors.New("field not editable in current status")

	// ErrInvalidInput is returned for malformed submission fields
	ErrInvalidInput = errors.New("invalid expense input")
)
