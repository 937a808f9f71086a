package core

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aulakube/classdb/internal/ingress"
)

// fakeRuntime is an in-memory WorkloadRuntime recording the calls it
// receives.
type fakeRuntime struct {
	mu         sync.Mutex
	installs   []string
	uninstalls []string
	releases   []ReleaseInfo

	installErr   error
	uninstallErr error
	listErr      error
}

func (f *fakeRuntime) InstallOrUpgrade(_ context.Context, release, _ string, _ map[string]any, _ string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return f.installErr
	}
	f.installs = append(f.installs, release)
	return nil
}

func (f *fakeRuntime) Uninstall(_ context.Context, release, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uninstallErr != nil {
		return f.uninstallErr
	}
	f.uninstalls = append(f.uninstalls, release)
	return nil
}

func (f *fakeRuntime) List(_ context.Context, _ string) ([]ReleaseInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.releases, nil
}

// fakeRegistry keeps the mapping in memory with Mutate semantics matching
// the real store: fn edits a copy that replaces the data on success.
type fakeRegistry struct {
	mu   sync.Mutex
	data map[string]string

	fetchErr  error
	mutateErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{data: make(map[string]string)}
}

func (f *fakeRegistry) Fetch(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make(map[string]string, len(f.data))
	maps.Copy(out, f.data)
	return out, nil
}

func (f *fakeRegistry) Commit(_ context.Context, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string]string, len(data))
	maps.Copy(f.data, data)
	return nil
}

func (f *fakeRegistry) Mutate(_ context.Context, fn func(data map[string]string) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return f.mutateErr
	}
	work := make(map[string]string, len(f.data))
	maps.Copy(work, f.data)
	if err := fn(work); err != nil {
		return err
	}
	f.data = work
	return nil
}

func (f *fakeRegistry) snapshot() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.data))
	maps.Copy(out, f.data)
	return out
}

type fakeReconciler struct {
	mu      sync.Mutex
	calls   int
	outcome ingress.Outcome
	err     error
}

func (f *fakeReconciler) Reconcile(context.Context) (ingress.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.outcome, f.err
}

func (f *fakeReconciler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type journalEntry struct {
	action  string
	release string
	kind    string
	count   int
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journalEntry
	err     error
}

func (f *fakeJournal) RecordDeploy(_ context.Context, release, _, kind string, assignments []Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, journalEntry{action: "deploy", release: release, kind: kind, count: len(assignments)})
	return nil
}

func (f *fakeJournal) RecordDestroy(_ context.Context, release, _, kind string, removed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, journalEntry{action: "destroy", release: release, kind: kind, count: removed})
	return nil
}

type managerFixture struct {
	manager    *Manager
	runtime    *fakeRuntime
	registry   *fakeRegistry
	reconciler *fakeReconciler
	journal    *fakeJournal
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	f := &managerFixture{
		runtime:    &fakeRuntime{},
		registry:   newFakeRegistry(),
		reconciler: &fakeReconciler{outcome: ingress.OutcomeReconciled},
		journal:    &fakeJournal{},
	}
	f.manager = NewManager(NewManagerParams{
		Config: ManagerConfig{
			Kinds: map[string]KindSpec{
				"mysql": {
					ChartRef: "/charts/mysql-class",
					Ports:    PortRange{Internal: 3306, Start: 3306, End: 3330},
				},
				"mongo": {
					ChartRef: "/charts/mongo-class",
					Ports:    PortRange{Internal: 27017, Start: 27017, End: 27040},
				},
			},
			InstallTimeout:   time.Minute,
			UninstallTimeout: time.Minute,
			RegistryTimeout:  10 * time.Second,
			ReconcileTimeout: 10 * time.Second,
		},
		Runtime:    f.runtime,
		Registry:   f.registry,
		Reconciler: f.reconciler,
		Journal:    f.journal,
	})
	return f
}

func TestManager_Deploy(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	assignments, err := f.manager.Deploy(context.Background(), "mysql", "bd-2025", 5, "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Assignment{
		{StudentName: "bd-2025-alumno1", ExternalPort: 3306, Target: "default/bd-2025-alumno1:3306"},
		{StudentName: "bd-2025-alumno2", ExternalPort: 3307, Target: "default/bd-2025-alumno2:3306"},
		{StudentName: "bd-2025-alumno3", ExternalPort: 3308, Target: "default/bd-2025-alumno3:3306"},
		{StudentName: "bd-2025-alumno4", ExternalPort: 3309, Target: "default/bd-2025-alumno4:3306"},
		{StudentName: "bd-2025-alumno5", ExternalPort: 3310, Target: "default/bd-2025-alumno5:3306"},
	}
	if !reflect.DeepEqual(assignments, want) {
		t.Fatalf("assignments = %+v, want %+v", assignments, want)
	}

	if got := f.runtime.installs; !reflect.DeepEqual(got, []string{"bd-2025"}) {
		t.Errorf("installs = %v, want [bd-2025]", got)
	}
	if got := f.registry.snapshot(); got["3306"] != "default/bd-2025-alumno1:3306" || len(got) != 5 {
		t.Errorf("registry = %v", got)
	}
	if f.reconciler.callCount() != 1 {
		t.Errorf("reconcile calls = %d, want 1", f.reconciler.callCount())
	}
	if len(f.journal.entries) != 1 || f.journal.entries[0].action != "deploy" || f.journal.entries[0].count != 5 {
		t.Errorf("journal entries = %+v", f.journal.entries)
	}
}

// TestManager_Deploy_SecondClassContinuesRange checks that a second class
// of the same kind draws from the ports left free by the first.
func TestManager_Deploy_SecondClassContinuesRange(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, "mysql", "bd-manana", 5, "default"); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	assignments, err := f.manager.Deploy(ctx, "mysql", "bd-tarde", 3, "default")
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}

	wantPorts := []int32{3311, 3312, 3313}
	for i, a := range assignments {
		if a.ExternalPort != wantPorts[i] {
			t.Fatalf("assignment %d port = %d, want %d", i, a.ExternalPort, wantPorts[i])
		}
	}
	if got := len(f.registry.snapshot()); got != 8 {
		t.Fatalf("registry size = %d, want 8", got)
	}
}

// TestManager_Deploy_KindsAreIndependent checks that mysql and mongo draw
// from disjoint ranges and never collide.
func TestManager_Deploy_KindsAreIndependent(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, "mysql", "bd", 2, "default"); err != nil {
		t.Fatalf("mysql deploy: %v", err)
	}
	assignments, err := f.manager.Deploy(ctx, "mongo", "nosql", 2, "default")
	if err != nil {
		t.Fatalf("mongo deploy: %v", err)
	}

	if assignments[0].ExternalPort != 27017 || assignments[1].ExternalPort != 27018 {
		t.Fatalf("mongo ports = %d, %d; want 27017, 27018", assignments[0].ExternalPort, assignments[1].ExternalPort)
	}
	if assignments[0].Target != "default/nosql-alumno1:27017" {
		t.Fatalf("mongo target = %q", assignments[0].Target)
	}
}

func TestManager_Deploy_UnknownKind(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	_, err := f.manager.Deploy(context.Background(), "postgres", "bd", 1, "default")
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if len(f.runtime.installs) != 0 {
		t.Fatal("runtime must not be called for an unknown kind")
	}
}

func TestManager_Deploy_InstallFailure(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.runtime.installErr = errors.New("chart not found")

	_, err := f.manager.Deploy(context.Background(), "mysql", "bd", 2, "default")
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("expected ErrRuntime, got %v", err)
	}
	if errors.Is(err, ErrPartialFailure) {
		t.Fatal("a failed install leaves no partial state")
	}
	if got := len(f.registry.snapshot()); got != 0 {
		t.Fatalf("registry must stay empty, has %d entries", got)
	}
	if f.reconciler.callCount() != 0 {
		t.Fatal("reconciler must not run after a failed install")
	}
}

func TestManager_Deploy_RangeExhausted(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	// Fill all but two mysql ports.
	seed := make(map[string]string)
	for p := 3306; p <= 3328; p++ {
		seed[strconv.Itoa(p)] = "default/other:3306"
	}
	if err := f.registry.Commit(context.Background(), seed); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	_, err := f.manager.Deploy(context.Background(), "mysql", "bd", 3, "default")
	if !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("expected ErrPartialFailure, got %v", err)
	}
	if !errors.Is(err, ErrRangeExhausted) {
		t.Fatalf("expected ErrRangeExhausted through the chain, got %v", err)
	}

	var partial *PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected *PartialFailureError, got %T", err)
	}
	if partial.Stage != "allocate" {
		t.Errorf("Stage = %q, want allocate", partial.Stage)
	}

	var exhausted *RangeExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *RangeExhaustedError in chain")
	}
	if exhausted.Available != 2 {
		t.Errorf("Available = %d, want 2", exhausted.Available)
	}

	// Nothing may be committed on exhaustion.
	if got := len(f.registry.snapshot()); got != len(seed) {
		t.Fatalf("registry size = %d, want %d", got, len(seed))
	}
}

func TestManager_Deploy_RegistryFailure(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.registry.mutateErr = errors.New("conflict storm")

	_, err := f.manager.Deploy(context.Background(), "mysql", "bd", 2, "default")

	var partial *PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected *PartialFailureError, got %v", err)
	}
	if partial.Stage != "registry" {
		t.Errorf("Stage = %q, want registry", partial.Stage)
	}
	// The release was installed before the registry step failed.
	if !reflect.DeepEqual(f.runtime.installs, []string{"bd"}) {
		t.Errorf("installs = %v", f.runtime.installs)
	}
}

func TestManager_Deploy_ReconcileFailure(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.reconciler.err = errors.New("patch denied")

	assignments, err := f.manager.Deploy(context.Background(), "mysql", "bd", 2, "default")

	var partial *PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected *PartialFailureError, got %v", err)
	}
	if partial.Stage != "reconcile" {
		t.Errorf("Stage = %q, want reconcile", partial.Stage)
	}
	// The committed assignments come back alongside the error so the
	// caller can still report them.
	if len(assignments) != 2 {
		t.Fatalf("assignments = %+v, want 2 entries", assignments)
	}
	if got := len(f.registry.snapshot()); got != 2 {
		t.Fatalf("registry size = %d, want 2", got)
	}
}

// TestManager_Deploy_AbsentEntrypoint checks the soft-failure policy: a
// missing entrypoint Service does not fail the deployment.
func TestManager_Deploy_AbsentEntrypoint(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.reconciler.outcome = ingress.OutcomeSkippedAbsent

	assignments, err := f.manager.Deploy(context.Background(), "mysql", "bd", 2, "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("assignments = %+v", assignments)
	}
}

func TestManager_Destroy(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, "mysql", "bd-manana", 3, "default"); err != nil {
		t.Fatalf("deploy bd-manana: %v", err)
	}
	if _, err := f.manager.Deploy(ctx, "mysql", "bd-tarde", 2, "default"); err != nil {
		t.Fatalf("deploy bd-tarde: %v", err)
	}

	if err := f.manager.Destroy(ctx, "mysql", "bd-manana", 3, "default"); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if !reflect.DeepEqual(f.runtime.uninstalls, []string{"bd-manana"}) {
		t.Errorf("uninstalls = %v", f.runtime.uninstalls)
	}

	// Exactly bd-manana's entries are gone; bd-tarde keeps its ports.
	want := map[string]string{
		"3309": "default/bd-tarde-alumno1:3306",
		"3310": "default/bd-tarde-alumno2:3306",
	}
	if got := f.registry.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("registry = %v, want %v", got, want)
	}

	last := f.journal.entries[len(f.journal.entries)-1]
	if last.action != "destroy" || last.count != 3 {
		t.Errorf("journal entry = %+v", last)
	}
}

// TestManager_Destroy_SimilarNames checks that teardown matches whole
// instance targets, not name prefixes: destroying "bd" must not touch
// "bd-avanzado".
func TestManager_Destroy_SimilarNames(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, "mysql", "bd", 2, "default"); err != nil {
		t.Fatalf("deploy bd: %v", err)
	}
	if _, err := f.manager.Deploy(ctx, "mysql", "bd-avanzado", 2, "default"); err != nil {
		t.Fatalf("deploy bd-avanzado: %v", err)
	}

	if err := f.manager.Destroy(ctx, "mysql", "bd", 2, "default"); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	got := f.registry.snapshot()
	if len(got) != 2 {
		t.Fatalf("registry = %v, want only bd-avanzado's 2 entries", got)
	}
	for _, target := range got {
		if target != "default/bd-avanzado-alumno1:3306" && target != "default/bd-avanzado-alumno2:3306" {
			t.Fatalf("unexpected surviving target %q", target)
		}
	}
}

func TestManager_Destroy_UninstallFailure(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	ctx := context.Background()

	if _, err := f.manager.Deploy(ctx, "mysql", "bd", 2, "default"); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	f.runtime.uninstallErr = errors.New("release: not found")

	err := f.manager.Destroy(ctx, "mysql", "bd", 2, "default")
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("expected ErrRuntime, got %v", err)
	}
	// Registry entries survive a failed uninstall.
	if got := len(f.registry.snapshot()); got != 2 {
		t.Fatalf("registry size = %d, want 2", got)
	}
}

func TestManager_Destroy_UnknownKind(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	err := f.manager.Destroy(context.Background(), "postgres", "bd", 1, "default")
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

// TestManager_JournalFailureIsSwallowed checks that an advisory journal
// failure never fails the operation it records.
func TestManager_JournalFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.journal.err = errors.New("disk full")

	if _, err := f.manager.Deploy(context.Background(), "mysql", "bd", 1, "default"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestManager_Status(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	ctx := context.Background()

	updated := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f.runtime.releases = []ReleaseInfo{
		{Name: "bd-2025", Namespace: "default", Chart: "mysql-class-0.1.0", Status: "deployed", Updated: updated},
	}
	seed := map[string]string{
		"3307": "default/bd-2025-alumno2:3306",
		"3306": "default/bd-2025-alumno1:3306",
		"9000": "other/thing:9000",
		"bad":  "default/bd-2025-alumno3:3306",
	}
	if err := f.registry.Commit(ctx, seed); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	statuses, err := f.manager.Status(ctx, "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("statuses = %+v, want 1 entry", statuses)
	}

	st := statuses[0]
	if st.Release.Name != "bd-2025" || st.Release.Status != "deployed" {
		t.Errorf("release = %+v", st.Release)
	}
	wantAssignments := []Assignment{
		{StudentName: "bd-2025-alumno1", ExternalPort: 3306, Target: "default/bd-2025-alumno1:3306"},
		{StudentName: "bd-2025-alumno2", ExternalPort: 3307, Target: "default/bd-2025-alumno2:3306"},
	}
	if !reflect.DeepEqual(st.Assignments, wantAssignments) {
		t.Fatalf("assignments = %+v, want %+v", st.Assignments, wantAssignments)
	}
}

func TestManager_Status_ListFailure(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.runtime.listErr = errors.New("tiller unreachable")

	_, err := f.manager.Status(context.Background(), "default")
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("expected ErrRuntime, got %v", err)
	}
}

func TestManager_Kinds(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	want := []string{"mongo", "mysql"}
	if got := f.manager.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Kinds() = %v, want %v", got, want)
	}
}

func TestNewManager_Panics(t *testing.T) {
	t.Parallel()

	tests := map[string]func() NewManagerParams{
		"invalid config": func() NewManagerParams {
			return NewManagerParams{
				Runtime:    &fakeRuntime{},
				Registry:   newFakeRegistry(),
				Reconciler: &fakeReconciler{},
			}
		},
		"missing runtime": func() NewManagerParams {
			return NewManagerParams{
				Config:     validConfig(),
				Registry:   newFakeRegistry(),
				Reconciler: &fakeReconciler{},
			}
		},
		"missing registry": func() NewManagerParams {
			return NewManagerParams{
				Config:     validConfig(),
				Runtime:    &fakeRuntime{},
				Reconciler: &fakeReconciler{},
			}
		},
		"missing reconciler": func() NewManagerParams {
			return NewManagerParams{
				Config:   validConfig(),
				Runtime:  &fakeRuntime{},
				Registry: newFakeRegistry(),
			}
		},
	}

	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			NewManager(params())
		})
	}
}
