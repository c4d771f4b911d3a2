package scheduling

import (
	"errors"

	"github.com/schedai/schedai/services/scheduling-service/internal/conflict"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
)

// ConflictError rejects a mutation. Verdict explains a detector conflict;
// Alternatives lists open slots the guest could take instead.
type ConflictError struct {
	Verdict      conflict.Verdict
	Alternatives []model.Slot
	Reason       string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Verdict.Kind != "" {
		return "scheduling conflict: " + string(e.Verdict.Kind)
	}
	return "scheduling conflict"
}

func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}
