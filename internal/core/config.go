package core

import (
	"errors"
	"fmt"
	"time"
)

// ManagerConfig holds configuration for a Manager.
//
// Concurrency contract: all fields are immutable after construction via
// NewManager. Deploy and Destroy read the kind table without
// synchronization, relying on this guarantee.
type ManagerConfig struct {
	// Kinds is the database-kind table: kind name → chart + port range.
	// NewManager copies the map, so later mutation by the caller has no
	// effect.
	Kinds map[string]KindSpec

	// InstallTimeout bounds one InstallOrUpgrade call, including the
	// runtime's wait-for-ready. Default: 5 minutes.
	InstallTimeout time.Duration

	// UninstallTimeout bounds one Uninstall call. Default: 2 minutes.
	UninstallTimeout time.Duration

	// RegistryTimeout bounds one registry Fetch/Commit/Mutate round,
	// including conflict retries. Default: 30 seconds.
	RegistryTimeout time.Duration

	// ReconcileTimeout bounds one entrypoint reconciliation. Default: 30
	// seconds.
	ReconcileTimeout time.Duration
}

// Validate checks all ManagerConfig invariants and returns an error
// describing every violation found, joined with errors.Join so callers can
// fix all problems in one pass.
func (c ManagerConfig) Validate() error {
	var errs []error

	if len(c.Kinds) == 0 {
		errs = append(errs, errors.New("kind table must not be empty"))
	}
	for kind, spec := range c.Kinds {
		if err := spec.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("kind %q: %w", kind, err))
		}
	}
	if c.InstallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("install timeout must be greater than 0, got %s", c.InstallTimeout))
	}
	if c.UninstallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("uninstall timeout must be greater than 0, got %s", c.UninstallTimeout))
	}
	if c.RegistryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("registry timeout must be greater than 0, got %s", c.RegistryTimeout))
	}
	if c.ReconcileTimeout <= 0 {
		errs = append(errs, fmt.Errorf("reconcile timeout must be greater than 0, got %s", c.ReconcileTimeout))
	}

	return errors.Join(errs...)
}
