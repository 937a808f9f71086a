// Package core implements the deployment orchestrator for classdb: instance
// naming, external port allocation, and the deploy/destroy sequencing that
// ties the Helm runtime, the port registry, and the ingress entrypoint
// together.
//
// The package deliberately separates the pure pieces (naming, allocation)
// from the effectful ones (Manager). Allocation is a deterministic function
// of a port-occupancy snapshot; the Manager guarantees that the snapshot it
// feeds the allocator is taken inside the registry's mutual-exclusion domain,
// so two concurrent deployments can never observe the same occupancy.
package core
