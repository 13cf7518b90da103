package telemetry

import apperrors "brokle-telemetry/pkg/errors"

// Programmer-error fast-fails: Add* on a nil repository, or Add* after Stop. These never
// occur for well-formed ingest calls and are not part of the normal Rejection/Pause-drop
// paths described for Add*.

// ErrNilRepository is returned by Add* when called on a nil *Repository.
var ErrNilRepository = apperrors.NewInternalError("telemetry: repository is nil", nil)

// ErrRepositoryStopped is returned by Add* calls made after Stop.
var ErrRepositoryStopped = apperrors.NewInternalError("telemetry: repository has been stopped", nil)

// NewInvalidQueryError wraps a malformed query argument as a validation error. The query
// methods do not call it: GetLogs and GetTraces clamp a negative StartIndex and treat
// Count <= 0 as no limit.
func NewInvalidQueryError(detail string) error {
	return apperrors.NewValidationError("telemetry: invalid query", detail)
}
