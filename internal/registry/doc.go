// Package registry provides access to the shared port registry: the
// ConfigMap consumed by the ingress controller that maps external TCP ports
// to in-cluster service targets.
//
// The registry is a single, process-external, unlocked resource shared by
// every class and database kind in the cluster. Plain Fetch/Commit follow
// the ConfigMap's own semantics: no transaction, last writer wins. Mutate is
// the safe path for read-modify-write cycles: it serializes callers through
// an optional host-level file lock and retries the write on
// optimistic-concurrency conflicts reported by the API server, re-reading
// the current contents before each attempt.
package registry
