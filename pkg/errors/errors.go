package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
)

// Kind is the failure class a caller branches on.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindCycleDetected
	KindCanonicalCollision
	KindFrozen
	KindNotFound
	KindNotValidated
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindCycleDetected:
		return "cycle_detected"
	case KindCanonicalCollision:
		return "canonical_collision"
	case KindFrozen:
		return "frozen"
	case KindNotFound:
		return "not_found"
	case KindNotValidated:
		return "not_validated"
	default:
		return "unknown"
	}
}

type Code string

const (
	CodeValidation           Code = "VALIDATION_FAILED"
	CodeMissingEvidence      Code = "MISSING_EVIDENCE"
	CodeMissingMemo          Code = "MISSING_MEMO"
	CodeConfirmationMismatch Code = "CONFIRMATION_MISMATCH"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeConflict             Code = "CONFLICT"
	CodeIdempotencyKeyReused Code = "IDEMPOTENCY_KEY_REUSED"
	CodeAmbiguousLabel       Code = "AMBIGUOUS_LABEL"
	CodeMissingStableID      Code = "MISSING_STABLE_ID"
	CodeCycleDetected        Code = "CYCLE_DETECTED"
	CodeCycleSuspected       Code = "CYCLE_SUSPECTED"
	CodeCanonicalCollision   Code = "CANONICAL_COLLISION"
	CodeProjectFrozen        Code = "PROJECT_FROZEN"
	CodeNotFound             Code = "NOT_FOUND"
	CodeNotValidated         Code = "NOT_VALIDATED"
)

// Error is the single error type returned by the governance engines.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	// Invariant names the storage or domain invariant that was violated, if any.
	Invariant string
	StableIDs []int64
	Meta      map[string]any
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind and Code, so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict, KindCanonicalCollision:
		return http.StatusConflict
	case KindCycleDetected, KindNotValidated:
		return http.StatusUnprocessableEntity
	case KindFrozen:
		return http.StatusLocked
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(e.StatusCode(), e.Message).
		AddMetaValue("code", string(e.Code)).
		AddMetaValue("kind", e.Kind.String()).
		AddMetaValue("retryable", e.Retryable)
	if e.Invariant != "" {
		herr = herr.AddMetaValue("invariant", e.Invariant)
	}
	if len(e.StableIDs) > 0 {
		herr = herr.AddMetaValue("stable_ids", e.StableIDs)
	}
	for k, v := range e.Meta {
		herr = herr.AddMetaValue(k, v)
	}
	return herr
}

// As returns the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

func HasCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// IsRetryable reports whether err is a transient conflict worth retrying.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

func NewValidationError(code Code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func MissingEvidence(stableID int64) *Error {
	return &Error{
		Kind:      KindValidation,
		Code:      CodeMissingEvidence,
		Message:   fmt.Sprintf("code %d has no evidence and cannot be validated", stableID),
		StableIDs: []int64{stableID},
	}
}

func MissingMemo(stableID int64) *Error {
	return &Error{
		Kind:      KindValidation,
		Code:      CodeMissingMemo,
		Message:   fmt.Sprintf("rejecting code %d requires a memo", stableID),
		StableIDs: []int64{stableID},
	}
}

func ConfirmationMismatch(projectID string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeConfirmationMismatch,
		Message: fmt.Sprintf("confirmation phrase does not match; project %s stays frozen", projectID),
	}
}

func InvalidTransition(stableID int64, from, to string) *Error {
	return &Error{
		Kind:      KindConflict,
		Code:      CodeInvalidTransition,
		Message:   fmt.Sprintf("code %d cannot move from %s to %s", stableID, from, to),
		Invariant: "lifecycle_transition",
		StableIDs: []int64{stableID},
		Meta:      map[string]any{"from": from, "to": to},
	}
}

func Conflict(invariant string, format string, args ...any) *Error {
	return &Error{
		Kind:      KindConflict,
		Code:      CodeConflict,
		Message:   fmt.Sprintf(format, args...),
		Invariant: invariant,
	}
}

// Transient is a retryable conflict: lock wait exceeded, timeout or serialization failure.
func Transient(err error, format string, args ...any) *Error {
	return &Error{
		Kind:      KindConflict,
		Code:      CodeConflict,
		Message:   fmt.Sprintf(format, args...),
		Retryable: true,
		Err:       err,
	}
}

func IdempotencyKeyReused(key string) *Error {
	return &Error{
		Kind:      KindConflict,
		Code:      CodeIdempotencyKeyReused,
		Message:   fmt.Sprintf("idempotency key %q was already used for a different merge", key),
		Invariant: "idempotency_key_unique",
		Meta:      map[string]any{"idempotency_key": key},
	}
}

func AmbiguousLabel(label string, candidates []int64) *Error {
	return &Error{
		Kind:      KindConflict,
		Code:      CodeAmbiguousLabel,
		Message:   fmt.Sprintf("label %q resolves to %d distinct canonical codes", label, len(candidates)),
		Invariant: "canonical_uniqueness",
		StableIDs: candidates,
	}
}

// MissingStableID is returned to effectful callers that reach an entry still addressed only by text.
func MissingStableID(entryID string, label string) *Error {
	return &Error{
		Kind:      KindConflict,
		Code:      CodeMissingStableID,
		Message:   fmt.Sprintf("code %q has no stable id; backfill it before mutating", label),
		Invariant: "stable_id_required",
		Meta:      map[string]any{"entry_id": entryID},
	}
}

func CycleDetected(path []int64) *Error {
	return &Error{
		Kind:      KindCycleDetected,
		Code:      CodeCycleDetected,
		Message:   fmt.Sprintf("operation would create a canonical cycle: %s", formatPath(path)),
		Invariant: "no_cycles",
		StableIDs: path,
	}
}

func CycleSuspected(path []int64, maxDepth int) *Error {
	return &Error{
		Kind:      KindCycleDetected,
		Code:      CodeCycleSuspected,
		Message:   fmt.Sprintf("canonical chain did not terminate within %d hops: %s", maxDepth, formatPath(path)),
		Invariant: "no_cycles",
		StableIDs: path,
		Meta:      map[string]any{"max_depth": maxDepth},
	}
}

func CanonicalCollision(normalizedLabel string, holder int64, target int64) *Error {
	return &Error{
		Kind:      KindCanonicalCollision,
		Code:      CodeCanonicalCollision,
		Message:   fmt.Sprintf("label %q already has canonical code %d", normalizedLabel, holder),
		Invariant: "canonical_uniqueness",
		StableIDs: []int64{holder, target},
		Meta:      map[string]any{"normalized_label": normalizedLabel, "holder_id": holder},
	}
}

func Frozen(projectID, reason, engagedBy string, engagedAt time.Time) *Error {
	return &Error{
		Kind:    KindFrozen,
		Code:    CodeProjectFrozen,
		Message: fmt.Sprintf("project %s is frozen by %s: %s", projectID, engagedBy, reason),
		Meta: map[string]any{
			"project_id": projectID,
			"reason":     reason,
			"engaged_by": engagedBy,
			"engaged_at": engagedAt,
		},
	}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func NotValidated(stableID int64, status string) *Error {
	return &Error{
		Kind:      KindNotValidated,
		Code:      CodeNotValidated,
		Message:   fmt.Sprintf("code %d is %s; only validated codes can be promoted", stableID, status),
		StableIDs: []int64{stableID},
		Meta:      map[string]any{"status": status},
	}
}

func formatPath(path []int64) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, " -> ")
}
