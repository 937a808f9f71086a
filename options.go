package classdb

import (
	"fmt"
	"time"

	"k8s.io/client-go/kubernetes"

	"github.com/aulakube/classdb/internal/core"
)

// PortRange describes one database kind's network configuration: the port
// its in-cluster Service listens on and the inclusive range of external
// ports its instances may be assigned. Ranges are shared cluster-wide per
// kind; exhausting a range for one class blocks every class of that kind.
type PortRange struct {
	Internal int32
	Start    int32
	End      int32
}

func (r PortRange) toCore() core.PortRange {
	return core.PortRange{Internal: r.Internal, Start: r.Start, End: r.End}
}

// config holds configuration for a Manager as assembled by New. Unexported:
// callers configure through Options.
type config struct {
	kubeconfig string
	client     kubernetes.Interface

	registryNamespace string
	registryName      string
	lockPath          string

	entrypointNamespace string
	entrypointService   string

	kinds map[string]core.KindSpec

	installTimeout   time.Duration
	uninstallTimeout time.Duration
	registryTimeout  time.Duration
	reconcileTimeout time.Duration

	auditPath string
	runtime   WorkloadRuntime
}

// defaultConfig returns a config populated with all default values: the
// mysql and mongo kinds, the ingress-nginx registry and entrypoint, and the
// default timeouts.
func defaultConfig() config {
	return config{
		registryNamespace:   DefaultRegistryNamespace,
		registryName:        DefaultRegistryName,
		entrypointNamespace: DefaultEntrypointNamespace,
		entrypointService:   DefaultEntrypointService,
		kinds: map[string]core.KindSpec{
			KindMySQL: {
				ChartRef: DefaultMySQLChart,
				Ports:    core.PortRange{Internal: MySQLInternalPort, Start: MySQLRangeStart, End: MySQLRangeEnd},
			},
			KindMongo: {
				ChartRef: DefaultMongoChart,
				Ports:    core.PortRange{Internal: MongoInternalPort, Start: MongoRangeStart, End: MongoRangeEnd},
			},
		},
		installTimeout:   DefaultInstallTimeout,
		uninstallTimeout: DefaultUninstallTimeout,
		registryTimeout:  DefaultRegistryTimeout,
		reconcileTimeout: DefaultReconcileTimeout,
	}
}

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | int32 | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("classdb: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("classdb: %s must not be empty", name))
	}
}

// Option configures a Manager during construction via New. Each With*
// function returns an Option that sets a specific field.
//
// Several With* functions panic on invalid input (empty names, non-positive
// durations). These panics are intentional: option values are typically
// compile-time constants, so an invalid value is a programmer error rather
// than a runtime condition, in the manner of regexp.MustCompile.
type Option func(*config)

// WithKubeconfig sets the path to a kubeconfig file for cluster access.
// Without it, in-cluster configuration is used. Panics if path is empty.
func WithKubeconfig(path string) Option {
	requireNonEmpty("kubeconfig path", path)
	return func(c *config) {
		c.kubeconfig = path
	}
}

// WithKubeClient injects an already-built Kubernetes client, bypassing
// kubeconfig resolution entirely. Mainly useful for tests with a fake
// clientset. Panics if client is nil.
func WithKubeClient(client kubernetes.Interface) Option {
	if client == nil {
		panic("classdb: kube client must not be nil")
	}
	return func(c *config) {
		c.client = client
	}
}

// WithRegistryLocation sets the namespace and name of the registry
// ConfigMap.
//
// Default: ingress-nginx/tcp-services.
//
// Panics if either value is empty.
func WithRegistryLocation(namespace, name string) Option {
	requireNonEmpty("registry namespace", namespace)
	requireNonEmpty("registry name", name)
	return func(c *config) {
		c.registryNamespace = namespace
		c.registryName = name
	}
}

// WithEntrypoint sets the namespace and name of the entrypoint Service
// whose port list mirrors the registry.
//
// Default: ingress-nginx/ingress-nginx-controller.
//
// Panics if either value is empty.
func WithEntrypoint(namespace, service string) Option {
	requireNonEmpty("entrypoint namespace", namespace)
	requireNonEmpty("entrypoint service", service)
	return func(c *config) {
		c.entrypointNamespace = namespace
		c.entrypointService = service
	}
}

// WithDatabaseKind adds a database kind to the table (or replaces an
// existing one): its chart reference, internal service port, and external
// port range. Panics on an empty kind or chart, or an invalid range.
func WithDatabaseKind(kind, chartRef string, ports PortRange) Option {
	requireNonEmpty("database kind", kind)
	requireNonEmpty("chart reference", chartRef)
	if err := ports.toCore().Validate(); err != nil {
		panic(fmt.Sprintf("classdb: invalid port range for kind %q: %v", kind, err))
	}
	return func(c *config) {
		c.kinds[kind] = core.KindSpec{ChartRef: chartRef, Ports: ports.toCore()}
	}
}

// WithInstallTimeout sets the bound on one install-or-upgrade, including
// the wait for the workload to become ready.
//
// Default: 5 minutes.
//
// Panics if d <= 0.
func WithInstallTimeout(d time.Duration) Option {
	requirePositive("install timeout", d)
	return func(c *config) {
		c.installTimeout = d
	}
}

// WithUninstallTimeout sets the bound on one uninstall.
//
// Default: 2 minutes.
//
// Panics if d <= 0.
func WithUninstallTimeout(d time.Duration) Option {
	requirePositive("uninstall timeout", d)
	return func(c *config) {
		c.uninstallTimeout = d
	}
}

// WithRegistryTimeout sets the bound on one registry read-modify-write
// cycle, including conflict retries.
//
// Default: 30 seconds.
//
// Panics if d <= 0.
func WithRegistryTimeout(d time.Duration) Option {
	requirePositive("registry timeout", d)
	return func(c *config) {
		c.registryTimeout = d
	}
}

// WithReconcileTimeout sets the bound on one entrypoint reconciliation.
//
// Default: 30 seconds.
//
// Panics if d <= 0.
func WithReconcileTimeout(d time.Duration) Option {
	requirePositive("reconcile timeout", d)
	return func(c *config) {
		c.reconcileTimeout = d
	}
}

// WithLockFile enables a host-level file lock serializing registry
// mutations across manager processes on the same host. Conflict-retried
// writes already protect correctness without it; the lock avoids burning
// retries under local contention. Panics if path is empty.
func WithLockFile(path string) Option {
	requireNonEmpty("lock file path", path)
	return func(c *config) {
		c.lockPath = path
	}
}

// WithAuditJournal enables the append-only deploy/destroy journal at the
// given SQLite database path. Panics if path is empty.
func WithAuditJournal(path string) Option {
	requireNonEmpty("audit journal path", path)
	return func(c *config) {
		c.auditPath = path
	}
}

// WithWorkloadRuntime injects a workload runtime, replacing the default
// Helm-backed one. Mainly useful for tests. Panics if rt is nil.
func WithWorkloadRuntime(rt WorkloadRuntime) Option {
	if rt == nil {
		panic("classdb: workload runtime must not be nil")
	}
	return func(c *config) {
		c.runtime = rt
	}
}
