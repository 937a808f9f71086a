// Package classdb provisions ephemeral, per-student database instances in a
// Kubernetes cluster and exposes each one on its own external TCP port
// through a shared ingress entrypoint.
//
// A class deployment is a Helm release containing one database instance per
// student. classdb allocates non-overlapping external ports from a fixed
// per-kind range, persists the port→service mapping in the ingress
// controller's tcp-services ConfigMap (the registry), and keeps the ingress
// controller Service's port list in sync with the registry.
//
// # Basic Usage
//
//	mgr, err := classdb.New(classdb.WithKubeconfig(kubeconfigPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	assignments, err := mgr.Deploy(ctx, classdb.DeployRequest{
//	    Kind:      classdb.KindMySQL,
//	    ClassName: "bd-2025-turno1",
//	    Students:  5,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, a := range assignments {
//	    fmt.Printf("%s -> :%d (%s)\n", a.StudentName, a.ExternalPort, a.Target)
//	}
//
// # Failure Model
//
// Deploy and Destroy are multi-step operations against a cluster and are not
// atomic. When a step after workload materialization fails, the error
// matches ErrPartialFailure and the cluster may need a retry or manual
// reconciliation; the operations are built so retrying is always safe.
// Port-range exhaustion matches ErrRangeExhausted and is resolved by
// deploying fewer students or destroying an existing class.
//
// # Concurrency
//
// A Manager serializes all registry-mutating work internally, and registry
// writes are additionally conditional on the version observed when the
// occupancy snapshot was taken, so concurrent deployments — even from other
// processes — cannot be assigned overlapping ports.
package classdb
