package classdb

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/aulakube/classdb/internal/audit"
	"github.com/aulakube/classdb/internal/core"
	"github.com/aulakube/classdb/internal/helmrt"
	"github.com/aulakube/classdb/internal/ingress"
	"github.com/aulakube/classdb/internal/registry"
)

// classNameRE matches valid class names: lowercase DNS-1123 labels. Class
// names become Helm release name prefixes and Service name prefixes, so
// anything outside this alphabet would be rejected downstream anyway; the
// boundary check turns that into a clean validation error.
var classNameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// maxClassNameLen bounds class names so that derived resource names
// ({class}-alumnoN) stay within Kubernetes' 63-character label limit.
const maxClassNameLen = 63 - len("-alumno") - 2

// DeployRequest asks for a class of database instances to be provisioned
// and exposed.
type DeployRequest struct {
	// Kind selects the database kind, one of the configured kinds
	// (KindMySQL or KindMongo by default).
	Kind string
	// ClassName is the lowercase class identifier; it prefixes every
	// derived release, instance and Service name.
	ClassName string
	// Students is the number of instances to provision, 1..MaxStudents.
	Students int
	// Namespace is the target namespace. Empty means DefaultNamespace.
	Namespace string
}

// Validate checks the request's static fields. Errors wrap ErrValidation.
func (r DeployRequest) Validate() error {
	return validateRequest(r.Kind, r.ClassName, r.Students)
}

// DestroyRequest asks for a previously deployed class to be removed: its
// workload uninstalled and its port assignments retracted.
type DestroyRequest struct {
	Kind      string
	ClassName string
	// Students is the class size used at deploy time; it bounds which
	// registry entries are considered part of the class.
	Students  int
	Namespace string
}

// Validate checks the request's static fields. Errors wrap ErrValidation.
func (r DestroyRequest) Validate() error {
	return validateRequest(r.Kind, r.ClassName, r.Students)
}

func validateRequest(kind, class string, students int) error {
	if kind == "" {
		return fmt.Errorf("%w: kind must not be empty", ErrValidation)
	}
	if class == "" {
		return fmt.Errorf("%w: class name must not be empty", ErrValidation)
	}
	if len(class) > maxClassNameLen {
		return fmt.Errorf("%w: class name %q exceeds %d characters", ErrValidation, class, maxClassNameLen)
	}
	if !classNameRE.MatchString(class) {
		return fmt.Errorf("%w: class name %q must be lowercase alphanumeric with interior hyphens", ErrValidation, class)
	}
	if students < 1 || students > MaxStudents {
		return fmt.Errorf("%w: students must be between 1 and %d, got %d", ErrValidation, MaxStudents, students)
	}
	return nil
}

// PortAssignment is one student instance's external exposure: the
// cluster-unique external port and the Service target it forwards to.
type PortAssignment struct {
	// StudentName is the instance name, {class}-alumnoN with N starting
	// at 1.
	StudentName string
	// ExternalPort is the port assigned from the kind's range.
	ExternalPort int32
	// Target is the forwarding target, {namespace}/{service}:{port}.
	Target string
}

// ReleaseInfo describes one installed release as reported by the workload
// runtime.
type ReleaseInfo struct {
	Name      string
	Namespace string
	Chart     string
	Status    string
	Updated   time.Time
}

// ClassStatus pairs a release with the port assignments currently held by
// its instances.
type ClassStatus struct {
	Release     ReleaseInfo
	Assignments []PortAssignment
}

// WorkloadRuntime materializes and removes class workloads. The default
// implementation drives Helm; WithWorkloadRuntime substitutes another, which
// is mainly useful for tests.
//
// InstallOrUpgrade must be idempotent at the runtime level: repeated calls
// for the same release install it the first time and upgrade it afterwards.
// Uninstall of an absent release fails with the runtime's own error.
type WorkloadRuntime interface {
	InstallOrUpgrade(ctx context.Context, release, chartRef string, values map[string]any, namespace string, timeout time.Duration) error
	Uninstall(ctx context.Context, release, namespace string) error
	List(ctx context.Context, namespace string) ([]ReleaseInfo, error)
}

// runtimeAdapter bridges a caller-supplied WorkloadRuntime to the internal
// interface, converting the release type at the List boundary.
type runtimeAdapter struct {
	rt WorkloadRuntime
}

func (a runtimeAdapter) InstallOrUpgrade(ctx context.Context, release, chartRef string, values map[string]any, namespace string, timeout time.Duration) error {
	return a.rt.InstallOrUpgrade(ctx, release, chartRef, values, namespace, timeout)
}

func (a runtimeAdapter) Uninstall(ctx context.Context, release, namespace string) error {
	return a.rt.Uninstall(ctx, release, namespace)
}

func (a runtimeAdapter) List(ctx context.Context, namespace string) ([]core.ReleaseInfo, error) {
	rels, err := a.rt.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	out := make([]core.ReleaseInfo, len(rels))
	for i, r := range rels {
		out[i] = core.ReleaseInfo{
			Name:      r.Name,
			Namespace: r.Namespace,
			Chart:     r.Chart,
			Status:    r.Status,
			Updated:   r.Updated,
		}
	}
	return out, nil
}

// Manager is the top-level entry point. It provisions classes of database
// instances, allocates external ports for them, and keeps the entrypoint
// Service in sync with the registry. Create one with New; a Manager is safe
// for concurrent use.
type Manager struct {
	core    *core.Manager
	journal *audit.Journal // nil when journaling is disabled
}

// New creates a Manager.
//
// Without options it connects using in-cluster configuration, manages the
// ingress-nginx tcp-services registry and controller Service, and knows the
// mysql and mongo kinds with their default charts and port ranges. Options
// override any of these; see the With* functions.
func New(opts ...Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	log := core.Logger()

	client := cfg.client
	if client == nil {
		restCfg, err := buildRESTConfig(cfg.kubeconfig)
		if err != nil {
			return nil, err
		}
		client, err = kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("build kubernetes client: %w", err)
		}
	}

	store := registry.NewStore(registry.Params{
		Client:    client,
		Namespace: cfg.registryNamespace,
		Name:      cfg.registryName,
		LockPath:  cfg.lockPath,
		Logger:    log,
	})
	reconciler := ingress.NewReconciler(ingress.Params{
		Client:    client,
		Registry:  store,
		Namespace: cfg.entrypointNamespace,
		Service:   cfg.entrypointService,
		Logger:    log,
	})

	var runtime core.WorkloadRuntime
	if cfg.runtime != nil {
		runtime = runtimeAdapter{rt: cfg.runtime}
	} else {
		runtime = helmrt.New(log)
	}

	var journal *audit.Journal
	if cfg.auditPath != "" {
		var err error
		journal, err = audit.Open(cfg.auditPath, log)
		if err != nil {
			return nil, err
		}
	}

	m := core.NewManager(core.NewManagerParams{
		Config: core.ManagerConfig{
			Kinds:            cfg.kinds,
			InstallTimeout:   cfg.installTimeout,
			UninstallTimeout: cfg.uninstallTimeout,
			RegistryTimeout:  cfg.registryTimeout,
			ReconcileTimeout: cfg.reconcileTimeout,
		},
		Runtime:    runtime,
		Registry:   store,
		Reconciler: reconciler,
		Journal:    journalOrNil(journal),
	})

	return &Manager{core: m, journal: journal}, nil
}

// journalOrNil avoids storing a typed-nil *audit.Journal in the core
// Journal interface, which would defeat the manager's nil check.
func journalOrNil(j *audit.Journal) core.Journal {
	if j == nil {
		return nil
	}
	return j
}

func buildRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("load kubeconfig %s: %w", kubeconfig, err)
		}
		return cfg, nil
	}
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("load in-cluster config: %w", err)
	}
	return cfg, nil
}

// Deploy provisions a class: installs (or upgrades) its workload, allocates
// one external port per student from the kind's range, commits the
// assignments to the registry, and reconciles the entrypoint Service.
//
// On success it returns the class's assignments in student order. A
// PartialFailureError also carries any assignments that were committed
// before the failing stage; see the package documentation's failure model.
func (m *Manager) Deploy(ctx context.Context, req DeployRequest) ([]PortAssignment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	assignments, err := m.core.Deploy(ctx, req.Kind, req.ClassName, req.Students, namespaceOrDefault(req.Namespace))
	return toPortAssignments(assignments), err
}

// Destroy removes a class: uninstalls its workload, deletes its registry
// entries, and reconciles the entrypoint Service. It returns an error
// wrapping ErrRuntime when the release does not exist.
func (m *Manager) Destroy(ctx context.Context, req DestroyRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return m.core.Destroy(ctx, req.Kind, req.ClassName, req.Students, namespaceOrDefault(req.Namespace))
}

// Status lists the releases in a namespace together with the port
// assignments the registry currently holds for their instances. An empty
// namespace means DefaultNamespace.
func (m *Manager) Status(ctx context.Context, namespace string) ([]ClassStatus, error) {
	statuses, err := m.core.Status(ctx, namespaceOrDefault(namespace))
	if err != nil {
		return nil, err
	}
	out := make([]ClassStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, ClassStatus{
			Release: ReleaseInfo{
				Name:      s.Release.Name,
				Namespace: s.Release.Namespace,
				Chart:     s.Release.Chart,
				Status:    s.Release.Status,
				Updated:   s.Release.Updated,
			},
			Assignments: toPortAssignments(s.Assignments),
		})
	}
	return out, nil
}

// Kinds returns the configured database kind names in sorted order.
func (m *Manager) Kinds() []string {
	return m.core.Kinds()
}

// Close releases resources held by the Manager, currently the audit
// journal's database handle. It does not touch cluster state.
func (m *Manager) Close() error {
	if m.journal == nil {
		return nil
	}
	return m.journal.Close()
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

func toPortAssignments(in []core.Assignment) []PortAssignment {
	if in == nil {
		return nil
	}
	out := make([]PortAssignment, len(in))
	for i, a := range in {
		out[i] = PortAssignment{
			StudentName:  a.StudentName,
			ExternalPort: a.ExternalPort,
			Target:       a.Target,
		}
	}
	return out
}
