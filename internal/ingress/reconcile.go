package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
)

// Outcome reports what a Reconcile call did, so callers choose the policy
// for the skipped case instead of it being hidden inside this package.
type Outcome int

const (
	// OutcomeReconciled means the entrypoint's port list now matches the
	// registry (whether or not a write was needed).
	OutcomeReconciled Outcome = iota

	// OutcomeSkippedAbsent means the entrypoint Service does not exist and
	// no write was attempted. Exposure may drift from the registry until
	// the Service appears and Reconcile runs again.
	OutcomeSkippedAbsent
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeReconciled:
		return "Reconciled"
	case OutcomeSkippedAbsent:
		return "SkippedAbsent"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// managedNameRE matches port-list entries owned by the reconciler. The name
// is derived from the port alone, which is what lets a later reconciliation
// identify and discard stale managed entries without extra bookkeeping.
var managedNameRE = regexp.MustCompile(`^[0-9]+-tcp$`)

// RegistrySource supplies the current port→target mapping.
type RegistrySource interface {
	Fetch(ctx context.Context) (map[string]string, error)
}

// Reconciler projects registry state onto the entrypoint Service's port
// list. Safe for concurrent use; it holds no mutable state.
type Reconciler struct {
	client    kubernetes.Interface
	registry  RegistrySource
	namespace string
	service   string
	log       *slog.Logger
}

// Params carries the dependencies for NewReconciler.
type Params struct {
	Client    kubernetes.Interface
	Registry  RegistrySource
	Namespace string
	Service   string
	Logger    *slog.Logger // nil falls back to slog.Default()
}

// NewReconciler creates a Reconciler. Panics on missing dependencies, which
// are programmer errors.
func NewReconciler(p Params) *Reconciler {
	if p.Client == nil {
		panic("classdb: NewReconciler requires a Kubernetes client")
	}
	if p.Registry == nil {
		panic("classdb: NewReconciler requires a registry source")
	}
	if p.Namespace == "" || p.Service == "" {
		panic("classdb: NewReconciler requires the entrypoint namespace and service name")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Reconciler{
		client:    p.Client,
		registry:  p.Registry,
		namespace: p.Namespace,
		service:   p.Service,
		log:       p.Logger,
	}
}

// Reconcile rebuilds the entrypoint's managed port entries from the
// registry: fetch both, keep the Service's base entries untouched, discard
// every previously managed entry, and append one managed entry per registry
// port in ascending numeric order. The write is a merge patch restricted to
// spec.ports, skipped entirely when the list is already correct, which makes
// repeated calls with an unchanged registry idempotent.
//
// An absent entrypoint Service is not an error: it yields
// OutcomeSkippedAbsent so the caller can decide whether drift is acceptable.
func (r *Reconciler) Reconcile(ctx context.Context) (Outcome, error) {
	data, err := r.registry.Fetch(ctx)
	if err != nil {
		return OutcomeReconciled, fmt.Errorf("fetch registry: %w", err)
	}

	svc, err := r.client.CoreV1().Services(r.namespace).Get(ctx, r.service, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		r.log.Warn("entrypoint service not found; skipping port reconciliation",
			"namespace", r.namespace, "service", r.service)
		return OutcomeSkippedAbsent, nil
	}
	if err != nil {
		return OutcomeReconciled, fmt.Errorf("get entrypoint service %s/%s: %w", r.namespace, r.service, err)
	}

	desired := desiredPorts(svc.Spec.Ports, data, r.log)
	if apiequality.Semantic.DeepEqual(svc.Spec.Ports, desired) {
		return OutcomeReconciled, nil
	}

	patch, err := json.Marshal(map[string]any{
		"spec": map[string]any{"ports": desired},
	})
	if err != nil {
		return OutcomeReconciled, fmt.Errorf("marshal port-list patch: %w", err)
	}

	// A JSON merge patch replaces the whole ports list, which is exactly
	// what a rebuild needs: strategic merge would key on port numbers and
	// never remove retracted entries.
	if _, err := r.client.CoreV1().Services(r.namespace).Patch(
		ctx, r.service, types.MergePatchType, patch, metav1.PatchOptions{},
	); err != nil {
		return OutcomeReconciled, fmt.Errorf("patch entrypoint service %s/%s: %w", r.namespace, r.service, err)
	}

	r.log.Info("entrypoint ports reconciled",
		"service", r.service, "base", len(desired)-managedCount(desired), "managed", managedCount(desired))
	return OutcomeReconciled, nil
}

// desiredPorts computes base ++ managed: current entries whose name is not
// registry-derived, in their original order, followed by one managed entry
// per registry port sorted ascending.
func desiredPorts(current []corev1.ServicePort, data map[string]string, log *slog.Logger) []corev1.ServicePort {
	desired := make([]corev1.ServicePort, 0, len(current)+len(data))
	for _, p := range current {
		if !managedNameRE.MatchString(p.Name) {
			desired = append(desired, p)
		}
	}

	ports := make([]int32, 0, len(data))
	for key := range data {
		n, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			log.Warn("registry key is not a port; not exposing it", "key", key)
			continue
		}
		ports = append(ports, int32(n))
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	for _, port := range ports {
		desired = append(desired, corev1.ServicePort{
			Name:       fmt.Sprintf("%d-tcp", port),
			Port:       port,
			TargetPort: intstr.FromInt32(port),
			Protocol:   corev1.ProtocolTCP,
		})
	}
	return desired
}

func managedCount(ports []corev1.ServicePort) int {
	n := 0
	for _, p := range ports {
		if managedNameRE.MatchString(p.Name) {
			n++
		}
	}
	return n
}
