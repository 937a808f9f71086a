package core

import (
	"errors"
	"fmt"
)

// PortRange describes the network configuration of one database kind: the
// port the instance's Service listens on inside the cluster, and the
// inclusive range of external ports that may be assigned to instances of
// this kind. The range is shared cluster-wide across all classes of the
// kind, not partitioned per class or namespace.
type PortRange struct {
	// Internal is the port the in-cluster Service listens on.
	Internal int32
	// Start is the first assignable external port (inclusive).
	Start int32
	// End is the last assignable external port (inclusive).
	End int32
}

// Size returns the number of ports in the range.
func (r PortRange) Size() int {
	return int(r.End-r.Start) + 1
}

// Validate checks the range invariants: all ports positive and Start <= End.
func (r PortRange) Validate() error {
	var errs []error

	if r.Internal <= 0 {
		errs = append(errs, fmt.Errorf("internal port must be positive, got %d", r.Internal))
	}
	if r.Start <= 0 {
		errs = append(errs, fmt.Errorf("range start must be positive, got %d", r.Start))
	}
	if r.End < r.Start {
		errs = append(errs, fmt.Errorf("range end %d must not precede range start %d", r.End, r.Start))
	}

	return errors.Join(errs...)
}

// KindSpec describes one deployable database kind: the chart used to
// materialize a class of instances and the port range its instances draw
// external ports from. The kind table is immutable after Manager
// construction; extending it is a configuration change, not a runtime one.
type KindSpec struct {
	// ChartRef locates the Helm chart for this kind (a local path or a
	// repo/name reference the runtime can resolve).
	ChartRef string
	// Ports is the external port range and internal service port.
	Ports PortRange
}

// Validate checks the kind's invariants.
func (s KindSpec) Validate() error {
	var errs []error

	if s.ChartRef == "" {
		errs = append(errs, errors.New("chart reference must not be empty"))
	}
	if err := s.Ports.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
