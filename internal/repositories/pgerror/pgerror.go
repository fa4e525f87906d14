// Package pgerror turns Postgres failures into governance errors.
package pgerror

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/lib/pq"
)

// constraint name -> invariant
var constraints = map[string]string{
	"code_entries_project_stable_id_key":  "stable_id_unique",
	"code_entries_canonical_slot_key":     "canonical_uniqueness",
	"code_entries_absorbed_has_pointer":   "merged_requires_pointer",
	"code_entries_canonical_pointer_fkey": "canonical_pointer_target",
	"merge_operations_project_key_key":    "idempotency_key_unique",
	"code_entries_stable_id_immutable":    "stable_id_immutable",
	"code_history_append_only":            "history_append_only",
	"code_entries_confidence_range":       "confidence_range",
	"code_entries_pkey":                   "entry_id_unique",
	"code_entries_no_delete":              "entries_never_deleted",
}

// Classify maps err to a governance error. Unrecognised failures become a 500 carrying msg.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Transient(err, "%s: transaction timed out", msg)
	}

	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return httperror.NewHTTPError(http.StatusInternalServerError, msg)
	}

	switch pqErr.Code {
	case "23505", "23514", "23503", "23502":
		invariant, ok := constraints[pqErr.Constraint]
		if !ok {
			invariant = pqErr.Constraint
		}
		return errors.Conflict(invariant, "%s: %s", msg, pqErr.Message).Wrap(err)
	case "55P03", "57014", "40001", "40P01":
		return errors.Transient(err, "%s: %s", msg, pqErr.Message)
	case "P0001":
		// raised by the immutability and append-only triggers; the hint carries the constraint name
		invariant, ok := constraints[pqErr.Hint]
		if !ok {
			invariant = pqErr.Hint
		}
		return errors.Conflict(invariant, "%s: %s", msg, pqErr.Message).Wrap(err)
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, msg)
}

// IsNoRows reports a missing row from sqlx Get.
func IsNoRows(err error) bool {
	return err != nil && err.Error() == "sql: no rows in result set"
}
