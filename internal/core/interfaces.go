package core

import (
	"context"
	"time"

	"github.com/aulakube/classdb/internal/ingress"
)

// WorkloadRuntime materializes and removes class workloads. The production
// implementation drives Helm (internal/helmrt); tests substitute in-package
// fakes.
//
// InstallOrUpgrade must be idempotent at the runtime level: repeated calls
// for the same release install it the first time and upgrade it afterwards.
// Uninstall of an absent release fails with whatever error the runtime
// reports; the orchestrator propagates it rather than papering over it.
type WorkloadRuntime interface {
	InstallOrUpgrade(ctx context.Context, release, chartRef string, values map[string]any, namespace string, timeout time.Duration) error
	Uninstall(ctx context.Context, release, namespace string) error
	List(ctx context.Context, namespace string) ([]ReleaseInfo, error)
}

// ReleaseInfo describes one installed release as reported by the runtime.
type ReleaseInfo struct {
	Name      string
	Namespace string
	Chart     string
	Status    string
	Updated   time.Time
}

// Registry is the shared external port→target mapping. Fetch returns an
// empty map when the backing resource does not exist. Commit fully replaces
// the backing resource (creating it if absent) with last-writer-wins
// semantics. Mutate runs fn against a fresh copy of the current mapping and
// persists the result atomically with respect to other Mutate callers; fn
// may run more than once, so it must be side-effect free apart from editing
// the map it is given.
type Registry interface {
	Fetch(ctx context.Context) (map[string]string, error)
	Commit(ctx context.Context, data map[string]string) error
	Mutate(ctx context.Context, fn func(data map[string]string) error) error
}

// Reconciler projects registry state onto the entrypoint's port list.
type Reconciler interface {
	Reconcile(ctx context.Context) (ingress.Outcome, error)
}

// Journal records deploy and destroy events for operators. Implementations
// are best-effort: the Manager logs journal failures and never fails an
// operation because of them. A nil Journal disables recording.
type Journal interface {
	RecordDeploy(ctx context.Context, release, namespace, kind string, assignments []Assignment) error
	RecordDestroy(ctx context.Context, release, namespace, kind string, removed int) error
}
