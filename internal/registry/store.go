package registry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/gofrs/flock"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// lockRetryInterval is the interval between consecutive attempts to acquire
// the registry file lock. 50ms balances responsiveness after the holder
// releases against CPU overhead from busy-polling.
const lockRetryInterval = 50 * time.Millisecond

// Store reads and replaces the registry ConfigMap. Safe for concurrent use,
// though concurrent plain Commit calls retain the ConfigMap's
// last-writer-wins semantics; use Mutate for read-modify-write.
type Store struct {
	client    kubernetes.Interface
	namespace string
	name      string
	lockPath  string // empty disables the host-level file lock
	log       *slog.Logger
}

// Params carries the dependencies for NewStore.
type Params struct {
	Client    kubernetes.Interface
	Namespace string
	Name      string
	// LockPath, when non-empty, names a lock file used to serialize Mutate
	// across processes on the same host. Conflict-retried writes already
	// protect against concurrent writers elsewhere; the file lock avoids
	// burning retries when several manager processes share a host.
	LockPath string
	Logger   *slog.Logger // nil falls back to slog.Default()
}

// NewStore creates a Store. Panics on missing dependencies, which are
// programmer errors.
func NewStore(p Params) *Store {
	if p.Client == nil {
		panic("classdb: NewStore requires a Kubernetes client")
	}
	if p.Namespace == "" || p.Name == "" {
		panic("classdb: NewStore requires the registry namespace and name")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Store{
		client:    p.Client,
		namespace: p.Namespace,
		name:      p.Name,
		lockPath:  p.LockPath,
		log:       p.Logger,
	}
}

// Fetch returns a copy of the registry's current contents. A missing
// ConfigMap is an empty registry, not an error.
func (s *Store) Fetch(ctx context.Context) (map[string]string, error) {
	cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get registry %s/%s: %w", s.namespace, s.name, err)
	}
	data := make(map[string]string, len(cm.Data))
	maps.Copy(data, cm.Data)
	return data, nil
}

// Commit fully replaces the registry's contents with data, creating the
// ConfigMap if it does not exist. No version check is performed: a
// concurrent writer between the caller's read and this write is silently
// overwritten. Callers that derived data from a previous Fetch should use
// Mutate instead.
func (s *Store) Commit(ctx context.Context, data map[string]string) error {
	cm := s.configMap(data)
	_, err := s.client.CoreV1().ConfigMaps(s.namespace).Update(ctx, cm, metav1.UpdateOptions{})
	if apierrors.IsNotFound(err) {
		_, err = s.client.CoreV1().ConfigMaps(s.namespace).Create(ctx, cm, metav1.CreateOptions{})
	}
	if err != nil {
		return fmt.Errorf("replace registry %s/%s: %w", s.namespace, s.name, err)
	}
	return nil
}

// Mutate runs fn against a copy of the registry's current contents and
// persists the result. The read and write are bracketed by the optional
// host-level file lock, and the write carries the read's resourceVersion:
// if another writer got in between, the API server rejects the update with
// a conflict and the whole read-modify-write cycle is retried with fresh
// contents. fn therefore never sees occupancy that is stale relative to the
// state its result will be committed against — but it may run several
// times, so it must only edit the map it is given.
//
// An error returned by fn aborts without writing and propagates unwrapped.
func (s *Store) Mutate(ctx context.Context, fn func(data map[string]string) error) error {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return retry.OnError(retry.DefaultRetry, retriable, func() error {
		cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
		switch {
		case apierrors.IsNotFound(err):
			data := map[string]string{}
			if err := fn(data); err != nil {
				return err
			}
			// Create fails with AlreadyExists if another writer created the
			// ConfigMap since the Get; retriable() turns that into a retry,
			// which then takes the update path.
			if _, err := s.client.CoreV1().ConfigMaps(s.namespace).Create(ctx, s.configMap(data), metav1.CreateOptions{}); err != nil {
				return fmt.Errorf("create registry %s/%s: %w", s.namespace, s.name, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("get registry %s/%s: %w", s.namespace, s.name, err)
		}

		data := make(map[string]string, len(cm.Data))
		maps.Copy(data, cm.Data)
		if err := fn(data); err != nil {
			return err
		}

		cm.Data = data // resourceVersion stays, making the update conditional
		if _, err := s.client.CoreV1().ConfigMaps(s.namespace).Update(ctx, cm, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("update registry %s/%s: %w", s.namespace, s.name, err)
		}
		return nil
	})
}

// retriable reports whether a Mutate round should be retried with fresh
// contents: version conflicts and create races, nothing else.
func retriable(err error) bool {
	return apierrors.IsConflict(err) || apierrors.IsAlreadyExists(err)
}

// configMap builds the full desired ConfigMap for a replace.
func (s *Store) configMap(data map[string]string) *corev1.ConfigMap {
	d := make(map[string]string, len(data))
	maps.Copy(d, data)
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.name,
			Namespace: s.namespace,
		},
		Data: d,
	}
}

// acquireLock takes the host-level file lock when configured. The returned
// function releases it; the lock file itself is left on disk to avoid the
// race where removing it would invalidate a lock concurrently acquired by
// another process.
func (s *Store) acquireLock(ctx context.Context) (func(), error) {
	if s.lockPath == "" {
		return func() {}, nil
	}

	fl := flock.New(s.lockPath)
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquiring registry lock %s: %w", s.lockPath, err)
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring registry lock %s: %w", s.lockPath, ctx.Err())
		}
		return nil, fmt.Errorf("acquiring registry lock %s: lock not acquired", s.lockPath)
	}

	return func() {
		// Close unlocks and releases the descriptor in one step.
		if err := fl.Close(); err != nil {
			s.log.Debug("failed to release registry lock", "path", s.lockPath, "error", err)
		}
	}, nil
}
