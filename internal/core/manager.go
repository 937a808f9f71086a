package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aulakube/classdb/internal/ingress"
)

// Manager sequences class deployments: workload materialization through the
// runtime, port allocation against the registry, and entrypoint
// reconciliation. It is safe for concurrent use; all registry-mutating work
// runs under a single process-wide mutex (and whatever further serialization
// the Registry implementation adds, such as a host-level file lock and
// optimistic-concurrency retries against the backing store).
//
// Deploy and Destroy are multi-step and not atomic. The safety net is
// idempotence of the underlying calls, not rollback: install-or-upgrade,
// uninstall and registry full-replace can all be retried, so a
// PartialFailureError is an instruction to retry or reconcile, never a
// corrupted state.
type Manager struct {
	cfg        ManagerConfig
	runtime    WorkloadRuntime
	registry   Registry
	reconciler Reconciler
	journal    Journal // nil disables journaling

	// mu is the registry's in-process mutual-exclusion domain. Every
	// snapshot that feeds a commit is taken while holding it.
	mu sync.Mutex
}

// NewManagerParams carries the dependencies for NewManager.
type NewManagerParams struct {
	Config     ManagerConfig
	Runtime    WorkloadRuntime
	Registry   Registry
	Reconciler Reconciler
	Journal    Journal // optional
}

// NewManager creates a Manager. Panics on invalid configuration or missing
// dependencies: both are programmer errors that should surface at
// construction time, in the manner of regexp.MustCompile.
func NewManager(p NewManagerParams) *Manager {
	if err := p.Config.Validate(); err != nil {
		panic(fmt.Sprintf("classdb: invalid manager config: %v", err))
	}
	if p.Runtime == nil || p.Registry == nil || p.Reconciler == nil {
		panic("classdb: NewManager requires Runtime, Registry and Reconciler")
	}

	// Copy the kind table so callers cannot mutate it after construction.
	kinds := make(map[string]KindSpec, len(p.Config.Kinds))
	for k, v := range p.Config.Kinds {
		kinds[k] = v
	}
	cfg := p.Config
	cfg.Kinds = kinds

	return &Manager{
		cfg:        cfg,
		runtime:    p.Runtime,
		registry:   p.Registry,
		reconciler: p.Reconciler,
		journal:    p.Journal,
	}
}

// Kinds returns the names of the configured database kinds, sorted.
func (m *Manager) Kinds() []string {
	names := make([]string, 0, len(m.cfg.Kinds))
	for k := range m.cfg.Kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Deploy materializes a class of n database instances and exposes each one
// on its own external port:
//
//  1. Install-or-upgrade the Helm release (release name = class name).
//  2. Inside the registry's critical section: read occupancy, allocate one
//     port per instance, merge the assignments into the registry.
//  3. Reconcile the entrypoint's port list from the registry.
//
// A failure after step 1 does not roll the release back; it returns a
// *PartialFailureError naming the failed stage, with any committed
// assignments alongside, so operators can retry or reconcile. Range
// exhaustion surfaces through the same path and additionally matches
// ErrRangeExhausted.
func (m *Manager) Deploy(ctx context.Context, kind, class string, n int, namespace string) ([]Assignment, error) {
	spec, ok := m.cfg.Kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	log := Logger().With("kind", kind, "class", class, "namespace", namespace)
	log.Info("deploying class", "students", n)

	names := InstanceNames(class, n)
	values := ValuesOverride(names)

	installCtx, cancel := context.WithTimeout(ctx, m.cfg.InstallTimeout)
	defer cancel()
	if err := m.runtime.InstallOrUpgrade(installCtx, class, spec.ChartRef, values, namespace, m.cfg.InstallTimeout); err != nil {
		return nil, &RuntimeError{Op: "install", Release: class, Err: err}
	}

	assignments, err := m.allocateAndCommit(ctx, spec.Ports, class, n, namespace)
	if err != nil {
		stage := "registry"
		if errors.Is(err, ErrRangeExhausted) {
			stage = "allocate"
		}
		return nil, &PartialFailureError{Stage: stage, Release: class, Err: err}
	}
	if len(assignments) > 0 {
		log.Info("ports assigned",
			"first", assignments[0].ExternalPort,
			"last", assignments[len(assignments)-1].ExternalPort)
	}

	if err := m.reconcileEntrypoint(ctx, log); err != nil {
		return assignments, &PartialFailureError{Stage: "reconcile", Release: class, Err: err}
	}

	m.record(log, func(j Journal) error {
		return j.RecordDeploy(ctx, class, namespace, kind, assignments)
	})

	log.Info("class deployed", "instances", len(assignments))
	return assignments, nil
}

// Destroy removes a class's release and retracts its port assignments:
//
//  1. Uninstall the Helm release. Uninstalling an absent release fails with
//     the runtime's own error, which propagates unmodified.
//  2. Inside the registry's critical section: drop every entry whose target
//     matches one of the class's expected service targets.
//  3. Reconcile the entrypoint's port list.
//
// There is no compensating action if step 1 succeeds and a later step
// fails; that surfaces as a *PartialFailureError and the remaining registry
// entries are cleaned up by retrying Destroy (the uninstall error from the
// then-absent release tells the caller the release itself is already gone).
func (m *Manager) Destroy(ctx context.Context, kind, class string, n int, namespace string) error {
	spec, ok := m.cfg.Kinds[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	log := Logger().With("kind", kind, "class", class, "namespace", namespace)
	log.Info("destroying class", "students", n)

	uninstallCtx, cancel := context.WithTimeout(ctx, m.cfg.UninstallTimeout)
	defer cancel()
	if err := m.runtime.Uninstall(uninstallCtx, class, namespace); err != nil {
		return &RuntimeError{Op: "uninstall", Release: class, Err: err}
	}

	expected := make(map[string]struct{}, n)
	for _, name := range InstanceNames(class, n) {
		expected[ServiceTarget(namespace, name, spec.Ports.Internal)] = struct{}{}
	}

	removed := 0
	m.mu.Lock()
	regCtx, cancelReg := context.WithTimeout(ctx, m.cfg.RegistryTimeout)
	err := m.registry.Mutate(regCtx, func(data map[string]string) error {
		removed = 0
		for port, target := range data {
			if _, match := expected[target]; match {
				delete(data, port)
				removed++
			}
		}
		return nil
	})
	cancelReg()
	m.mu.Unlock()
	if err != nil {
		return &PartialFailureError{Stage: "registry", Release: class, Err: err}
	}
	log.Info("registry entries removed", "count", removed)

	if err := m.reconcileEntrypoint(ctx, log); err != nil {
		return &PartialFailureError{Stage: "reconcile", Release: class, Err: err}
	}

	m.record(log, func(j Journal) error {
		return j.RecordDestroy(ctx, class, namespace, kind, removed)
	})

	log.Info("class destroyed")
	return nil
}

// ClassStatus joins one installed release with the registry entries that
// point at its instances.
type ClassStatus struct {
	Release     ReleaseInfo
	Assignments []Assignment
}

// Status lists the releases in namespace and joins each with its current
// port assignments from the registry. The two reads are independent and run
// concurrently; neither mutates shared state, so no lock is taken.
func (m *Manager) Status(ctx context.Context, namespace string) ([]ClassStatus, error) {
	var (
		releases []ReleaseInfo
		data     map[string]string
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rels, err := m.runtime.List(gCtx, namespace)
		if err != nil {
			return &RuntimeError{Op: "list", Err: err}
		}
		releases = rels
		return nil
	})
	g.Go(func() error {
		fetchCtx, cancel := context.WithTimeout(gCtx, m.cfg.RegistryTimeout)
		defer cancel()
		d, err := m.registry.Fetch(fetchCtx)
		if err != nil {
			return fmt.Errorf("fetch registry: %w", err)
		}
		data = d
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	statuses := make([]ClassStatus, 0, len(releases))
	for _, rel := range releases {
		statuses = append(statuses, ClassStatus{
			Release:     rel,
			Assignments: assignmentsFor(rel.Name, rel.Namespace, data),
		})
	}
	return statuses, nil
}

// allocateAndCommit takes the registry's critical section, allocates ports
// against the occupancy observed inside it, and merges the assignments into
// the registry in the same mutation. The callback can run multiple times on
// optimistic-concurrency conflicts, re-reading occupancy each time, so a
// stale snapshot can never be committed.
func (m *Manager) allocateAndCommit(ctx context.Context, r PortRange, class string, n int, namespace string) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	regCtx, cancel := context.WithTimeout(ctx, m.cfg.RegistryTimeout)
	defer cancel()

	var assignments []Assignment
	err := m.registry.Mutate(regCtx, func(data map[string]string) error {
		occupied, skipped := occupiedPorts(data)
		if len(skipped) > 0 {
			Logger().Warn("registry contains non-numeric port keys; ignoring them", "keys", skipped)
		}

		a, err := Allocate(r, class, n, namespace, occupied)
		if err != nil {
			return err
		}
		for _, as := range a {
			data[strconv.Itoa(int(as.ExternalPort))] = as.Target
		}
		assignments = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

// reconcileEntrypoint projects the registry onto the entrypoint and applies
// the soft-failure policy: an absent entrypoint is logged and tolerated
// (exposure may drift from the registry until the entrypoint exists), any
// other failure is returned to be reported as a partial failure.
func (m *Manager) reconcileEntrypoint(ctx context.Context, log *slog.Logger) error {
	recCtx, cancel := context.WithTimeout(ctx, m.cfg.ReconcileTimeout)
	defer cancel()

	outcome, err := m.reconciler.Reconcile(recCtx)
	if err != nil {
		return fmt.Errorf("reconcile entrypoint: %w", err)
	}
	if outcome == ingress.OutcomeSkippedAbsent {
		log.Warn("entrypoint absent; exposed ports will drift from registry until it exists")
	}
	return nil
}

// record invokes fn against the journal, if any. Journal failures are
// logged and swallowed: the cluster operation already succeeded and the
// journal is advisory.
func (m *Manager) record(log *slog.Logger, fn func(Journal) error) {
	if m.journal == nil {
		return
	}
	if err := fn(m.journal); err != nil {
		log.Warn("audit journal write failed", "error", err)
	}
}

// occupiedPorts converts registry keys (decimal port strings) into a port
// set. Non-numeric keys cannot collide with allocations and are returned
// separately for the caller to log.
func occupiedPorts(data map[string]string) (map[int32]struct{}, []string) {
	occupied := make(map[int32]struct{}, len(data))
	var skipped []string
	for key := range data {
		p, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		occupied[int32(p)] = struct{}{}
	}
	return occupied, skipped
}

// assignmentsFor extracts the registry entries belonging to a release: those
// whose target parses as "{namespace}/{release}-alumno{ordinal}:{port}".
// Results are sorted by external port so repeated Status calls are stable.
func assignmentsFor(release, namespace string, data map[string]string) []Assignment {
	var out []Assignment
	for key, target := range data {
		port, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			continue
		}
		ns, name, ok := splitTarget(target)
		if !ok || ns != namespace {
			continue
		}
		ordinal, found := strings.CutPrefix(name, release+"-alumno")
		if !found || !allDigits(ordinal) {
			continue
		}
		out = append(out, Assignment{
			StudentName:  name,
			ExternalPort: int32(port),
			Target:       target,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalPort < out[j].ExternalPort })
	return out
}

// splitTarget parses "{namespace}/{name}:{port}" into namespace and name.
func splitTarget(target string) (namespace, name string, ok bool) {
	namespace, rest, found := strings.Cut(target, "/")
	if !found || namespace == "" {
		return "", "", false
	}
	name, port, found := strings.Cut(rest, ":")
	if !found || name == "" || !allDigits(port) {
		return "", "", false
	}
	return namespace, name, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
