package core

import (
	"fmt"

	"github.com/aulakube/classdb/internal/sentinel"
)

// ErrUnknownKind is returned by Deploy and Destroy when the requested
// database kind is not present in the configured kind table.
const ErrUnknownKind = sentinel.Error("unknown database kind")

// ErrRangeExhausted is matched (via errors.Is) by any *RangeExhaustedError.
// The condition is deterministic and recoverable: deploy a smaller class,
// pick another kind, or destroy an existing class to free ports.
const ErrRangeExhausted = sentinel.Error("port range exhausted")

// ErrRuntime is matched (via errors.Is) by any *RuntimeError. It covers
// failures of the workload runtime (Helm install/upgrade/uninstall/list):
// opaque, with whatever diagnostic text the runtime produced, and without a
// transient/permanent classification.
const ErrRuntime = sentinel.Error("workload runtime error")

// ErrPartialFailure is matched (via errors.Is) by any *PartialFailureError.
// It signals that the workload was materialized or removed but the registry
// or the entrypoint did not reach the matching state; an operator may need
// to reconcile manually or simply retry the operation (install, uninstall
// and registry replacement are all idempotent).
const ErrPartialFailure = sentinel.Error("cluster state partially updated")

// RangeExhaustedError reports that a port range had fewer free ports than a
// deployment requested. Available counts the free ports in the whole range
// at allocation time, which may be less than Requested even when the cursor
// failure happened mid-range.
type RangeExhaustedError struct {
	Start     int32
	End       int32
	Requested int
	Available int
}

func (e *RangeExhaustedError) Error() string {
	return fmt.Sprintf("port range %d-%d exhausted: %d instances requested, %d ports free",
		e.Start, e.End, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrRangeExhausted) report true for this type.
func (e *RangeExhaustedError) Is(target error) bool {
	return target == ErrRangeExhausted
}

// RuntimeError wraps a workload-runtime failure with the operation and
// release it occurred on.
type RuntimeError struct {
	Op      string // "install" or "uninstall" or "list"
	Release string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Release == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s release %q: %v", e.Op, e.Release, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRuntime) report true for this type.
func (e *RuntimeError) Is(target error) bool {
	return target == ErrRuntime
}

// PartialFailureError reports a deploy or destroy that changed the cluster
// but did not complete: the Helm release exists (or is gone) while the
// registry or the entrypoint still reflects the previous state. Stage names
// the step that failed; Err is the underlying cause and remains inspectable
// through Unwrap (a range exhaustion after a successful install is both a
// *RangeExhaustedError and a partial failure).
type PartialFailureError struct {
	Stage   string // "allocate", "registry", "reconcile"
	Release string
	Err     error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("release %q left partially applied at stage %s: %v", e.Release, e.Stage, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPartialFailure) report true for this type.
func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}
