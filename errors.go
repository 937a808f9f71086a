package classdb

import (
	"github.com/aulakube/classdb/internal/core"
	"github.com/aulakube/classdb/internal/sentinel"
)

// Sentinel errors for error inspection with errors.Is.
// These are immutable constants safe for use in wrapped error chain comparison.
const (
	// ErrValidation is matched by every error returned from request
	// validation at the boundary (malformed class name, student count out
	// of bounds, and so on). The core never produces it.
	ErrValidation = sentinel.Error("invalid request")

	// ErrUnknownKind is returned by Deploy and Destroy when the requested
	// database kind is not in the configured kind table.
	ErrUnknownKind = core.ErrUnknownKind

	// ErrRangeExhausted matches any range-exhaustion failure: the kind's
	// external port range has fewer free ports than the class needs.
	// Recoverable by deploying fewer students, choosing another kind, or
	// destroying an existing class.
	ErrRangeExhausted = core.ErrRangeExhausted

	// ErrRuntime matches any workload-runtime (Helm) failure. Opaque: it
	// carries the runtime's diagnostic text and no transient/permanent
	// classification.
	ErrRuntime = core.ErrRuntime

	// ErrPartialFailure matches any error reporting that the workload was
	// materialized or removed while the registry or entrypoint was not
	// brought to the matching state. Retrying the operation is safe.
	ErrPartialFailure = core.ErrPartialFailure
)

// RangeExhaustedError carries the exhausted range's bounds, the requested
// instance count, and how many ports were actually free.
type RangeExhaustedError = core.RangeExhaustedError

// PartialFailureError names the stage at which a deploy or destroy stopped
// after already changing the cluster.
type PartialFailureError = core.PartialFailureError

// RuntimeError wraps a workload-runtime failure with the operation and
// release it occurred on.
type RuntimeError = core.RuntimeError
