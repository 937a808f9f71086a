package helmrt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/storage/driver"

	"github.com/aulakube/classdb/internal/core"
)

// Compile-time check that Runtime implements core.WorkloadRuntime.
var _ core.WorkloadRuntime = (*Runtime)(nil)

// Runtime drives Helm for class workloads. Safe for concurrent use: the
// per-namespace action configurations are built once under mu and Helm's
// release storage handles its own locking beyond that.
type Runtime struct {
	settings *cli.EnvSettings
	log      *slog.Logger

	mu      sync.Mutex
	configs map[string]*action.Configuration
}

// New creates a Runtime using Helm's ambient environment (kubeconfig,
// HELM_* variables). If logger is nil, slog.Default() is used.
func New(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		settings: cli.New(),
		log:      logger,
		configs:  make(map[string]*action.Configuration),
	}
}

// InstallOrUpgrade installs the release if it has no history yet, upgrades
// it otherwise, and waits for the workload to become ready within timeout.
// Repeat calls for the same release are therefore idempotent at the runtime
// level. Implements core.WorkloadRuntime.
func (r *Runtime) InstallOrUpgrade(ctx context.Context, release, chartRef string, values map[string]any, namespace string, timeout time.Duration) error {
	cfg, err := r.configFor(namespace)
	if err != nil {
		return err
	}

	hist := action.NewHistory(cfg)
	hist.Max = 1
	_, histErr := hist.Run(release)
	switch {
	case errors.Is(histErr, driver.ErrReleaseNotFound):
		return r.install(ctx, cfg, release, chartRef, values, namespace, timeout)
	case histErr != nil:
		return fmt.Errorf("query history of release %q: %w", release, histErr)
	default:
		return r.upgrade(ctx, cfg, release, chartRef, values, namespace, timeout)
	}
}

func (r *Runtime) install(ctx context.Context, cfg *action.Configuration, release, chartRef string, values map[string]any, namespace string, timeout time.Duration) error {
	client := action.NewInstall(cfg)
	client.ReleaseName = release
	client.Namespace = namespace
	client.CreateNamespace = true
	client.Wait = true
	client.Timeout = timeout

	ch, err := r.loadChart(&client.ChartPathOptions, chartRef)
	if err != nil {
		return err
	}

	rel, err := client.RunWithContext(ctx, ch, values)
	if err != nil {
		return fmt.Errorf("install %q from %q: %w", release, chartRef, err)
	}
	r.log.Info("release installed", "release", rel.Name, "namespace", rel.Namespace, "revision", rel.Version)
	return nil
}

func (r *Runtime) upgrade(ctx context.Context, cfg *action.Configuration, release, chartRef string, values map[string]any, namespace string, timeout time.Duration) error {
	client := action.NewUpgrade(cfg)
	client.Namespace = namespace
	client.Wait = true
	client.Timeout = timeout

	ch, err := r.loadChart(&client.ChartPathOptions, chartRef)
	if err != nil {
		return err
	}

	rel, err := client.RunWithContext(ctx, release, ch, values)
	if err != nil {
		return fmt.Errorf("upgrade %q from %q: %w", release, chartRef, err)
	}
	r.log.Info("release upgraded", "release", rel.Name, "namespace", rel.Namespace, "revision", rel.Version)
	return nil
}

// Uninstall removes a release. An absent release fails with Helm's own
// "release: not found" error, which callers receive unmodified; whether to
// treat that as success is their policy decision, not this package's.
// Implements core.WorkloadRuntime.
func (r *Runtime) Uninstall(_ context.Context, release, namespace string) error {
	cfg, err := r.configFor(namespace)
	if err != nil {
		return err
	}

	client := action.NewUninstall(cfg)
	res, err := client.Run(release)
	if err != nil {
		return fmt.Errorf("uninstall %q: %w", release, err)
	}
	if res != nil && res.Info != "" {
		r.log.Info("release uninstalled", "release", release, "info", res.Info)
	} else {
		r.log.Info("release uninstalled", "release", release)
	}
	return nil
}

// List returns all releases in namespace, whatever their status.
// Implements core.WorkloadRuntime.
func (r *Runtime) List(_ context.Context, namespace string) ([]core.ReleaseInfo, error) {
	cfg, err := r.configFor(namespace)
	if err != nil {
		return nil, err
	}

	client := action.NewList(cfg)
	client.All = true
	client.SetStateMask()

	rels, err := client.Run()
	if err != nil {
		return nil, fmt.Errorf("list releases in %q: %w", namespace, err)
	}

	infos := make([]core.ReleaseInfo, 0, len(rels))
	for _, rel := range rels {
		info := core.ReleaseInfo{
			Name:      rel.Name,
			Namespace: rel.Namespace,
		}
		if rel.Chart != nil && rel.Chart.Metadata != nil {
			info.Chart = fmt.Sprintf("%s-%s", rel.Chart.Metadata.Name, rel.Chart.Metadata.Version)
		}
		if rel.Info != nil {
			info.Status = rel.Info.Status.String()
			info.Updated = rel.Info.LastDeployed.Time
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// loadChart resolves chartRef (local path or repo reference) and loads it.
func (r *Runtime) loadChart(opts *action.ChartPathOptions, chartRef string) (*chart.Chart, error) {
	path, err := opts.LocateChart(chartRef, r.settings)
	if err != nil {
		return nil, fmt.Errorf("locate chart %q: %w", chartRef, err)
	}
	ch, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load chart %q: %w", path, err)
	}
	return ch, nil
}

// configFor returns the action configuration for a namespace, initializing
// it on first use. Helm release storage is namespace-scoped, hence one
// configuration per namespace.
func (r *Runtime) configFor(namespace string) (*action.Configuration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg, ok := r.configs[namespace]; ok {
		return cfg, nil
	}

	helmDriver := os.Getenv("HELM_DRIVER")
	if helmDriver == "" {
		helmDriver = "secret"
	}

	cfg := new(action.Configuration)
	if err := cfg.Init(r.settings.RESTClientGetter(), namespace, helmDriver, r.debugf); err != nil {
		return nil, fmt.Errorf("init helm configuration for namespace %q: %w", namespace, err)
	}
	r.configs[namespace] = cfg
	return cfg, nil
}

// debugf adapts Helm's printf-style debug logging to slog.
func (r *Runtime) debugf(format string, v ...any) {
	r.log.Debug(fmt.Sprintf(format, v...))
}
