package classdb

import "time"

// Database kinds configured by default. The kind table is extensible via
// WithDatabaseKind.
const (
	KindMySQL = "mysql"
	KindMongo = "mongo"
)

// Default configuration values for New. Exported so callers can build
// custom configurations relative to them.
const (
	// DefaultRegistryNamespace is the namespace holding the registry
	// ConfigMap. ingress-nginx reads its TCP forwarding table from here.
	DefaultRegistryNamespace = "ingress-nginx"

	// DefaultRegistryName is the name of the registry ConfigMap.
	DefaultRegistryName = "tcp-services"

	// DefaultEntrypointNamespace is the namespace of the entrypoint Service.
	DefaultEntrypointNamespace = "ingress-nginx"

	// DefaultEntrypointService is the name of the entrypoint Service whose
	// port list mirrors the registry.
	DefaultEntrypointService = "ingress-nginx-controller"

	// DefaultMySQLChart and DefaultMongoChart locate the per-kind class
	// charts as baked into the deployment image.
	DefaultMySQLChart = "/charts/mysql-class"
	DefaultMongoChart = "/charts/mongo-class"

	// DefaultInstallTimeout bounds one install-or-upgrade, including the
	// wait for the workload to become ready.
	DefaultInstallTimeout = 5 * time.Minute

	// DefaultUninstallTimeout bounds one uninstall.
	DefaultUninstallTimeout = 2 * time.Minute

	// DefaultRegistryTimeout bounds one registry read-modify-write cycle,
	// including conflict retries.
	DefaultRegistryTimeout = 30 * time.Second

	// DefaultReconcileTimeout bounds one entrypoint reconciliation.
	DefaultReconcileTimeout = 30 * time.Second

	// DefaultNamespace is used when a request leaves Namespace empty.
	DefaultNamespace = "default"

	// MaxStudents caps the number of instances per class accepted by
	// request validation. The cap exists because a class draws that many
	// ports from a shared range of comparable size.
	MaxStudents = 25
)

// Default external port ranges and internal service ports per kind. Each
// range is shared cluster-wide by every class of its kind.
const (
	MySQLInternalPort = 3306
	MySQLRangeStart   = 3306
	MySQLRangeEnd     = 3330

	MongoInternalPort = 27017
	MongoRangeStart   = 27017
	MongoRangeEnd     = 27040
)
