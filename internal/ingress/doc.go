// Package ingress keeps the entrypoint Service's port list in sync with the
// port registry. The entrypoint is the externally reachable Service of the
// ingress controller; its port list is partitioned into base entries
// (configured by operators, never touched) and managed entries (derived from
// the registry, named "<port>-tcp", rebuilt wholesale on every
// reconciliation).
package ingress
