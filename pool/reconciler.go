// Package pool reconciles one logical fleet of build workers: the cloud
// instances tagged with the pool name against the workers the CI master
// knows about, plus the single scale decision per cycle.
package pool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bosun-ci/bosun/ci"
	"github.com/bosun-ci/bosun/cloud"
)

// TagKey joins cloud instances to their pool; it is the only link between
// the two sources of truth.
const TagKey = "pool"

// CloudAccessor is the cloud side of the diff.
type CloudAccessor interface {
	RefreshByTag(ctx context.Context, key, value string) ([]cloud.Instance, error)
	Destroy(ctx context.Context, ip string) error
}

// CIAccessor is the CI master side.
type CIAccessor interface {
	Workers(ctx context.Context) ([]ci.Worker, error)
	RegisterWorker(ctx context.Context, ip string) error
	DeregisterWorker(ctx context.Context, name string) error
	Queue(ctx context.Context) (ci.Queue, error)
}

// Provisioner adds one instance to the pool.
type Provisioner interface {
	Provision(ctx context.Context) error
}

// Reconciler runs one fetch → prune → register → settle-or-scale pass
// per Sync call. It holds no state between cycles; the provider and the
// CI master are the only sources of truth, which is what makes the
// fetch-then-diff approach idempotent.
type Reconciler struct {
	name        string
	cloud       CloudAccessor
	ci          CIAccessor
	provisioner Provisioner
	log         *slog.Logger
}

func NewReconciler(name string, cloudAccessor CloudAccessor, ciAccessor CIAccessor, provisioner Provisioner, log *slog.Logger) *Reconciler {
	return &Reconciler{
		name:        name,
		cloud:       cloudAccessor,
		ci:          ciAccessor,
		provisioner: provisioner,
		log:         log.With("pool", name),
	}
}

// Sync runs one reconciliation cycle. Any failure aborts the cycle and
// surfaces to the invoking scheduler; the next invocation starts from
// scratch.
func (r *Reconciler) Sync(ctx context.Context) error {
	workers, err := r.ci.Workers(ctx)
	if err != nil {
		return err
	}
	instances, err := r.cloud.RefreshByTag(ctx, TagKey, r.name)
	if err != nil {
		return err
	}

	runningByIP := make(map[string]cloud.Instance)
	for _, instance := range instances {
		if instance.Running() {
			runningByIP[instance.PrivateIP] = instance
		}
	}

	// Prune CI workers whose instance no longer runs. Defunct entries
	// appear when an instance died outside our last cycle.
	pruned := make(map[string]bool)
	for _, worker := range workers {
		ip, err := worker.IP()
		if err != nil {
			return err
		}
		if _, ok := runningByIP[ip]; ok {
			continue
		}
		r.log.Info("Pruning defunct worker", "worker", worker.Name)
		if err := r.ci.DeregisterWorker(ctx, worker.Name); err != nil {
			return err
		}
		pruned[worker.Name] = true
	}

	// Register running instances the CI master does not know yet.
	knownIPs := make(map[string]bool)
	for _, worker := range workers {
		if pruned[worker.Name] {
			continue
		}
		ip, err := worker.IP()
		if err != nil {
			return err
		}
		knownIPs[ip] = true
	}

	registered := 0
	for _, instance := range instances {
		if !instance.Running() || knownIPs[instance.PrivateIP] {
			continue
		}
		r.log.Info("Registering new worker", "instance", instance.ID, "ip", instance.PrivateIP)
		if err := r.ci.RegisterWorker(ctx, instance.PrivateIP); err != nil {
			return err
		}
		registered++
	}

	// Settle gate: freshly registered workers have not reported idle or
	// busy yet; a scale decision on that signal would thrash. Let the
	// pool settle until the next cycle.
	if registered > 0 {
		r.log.Info("Pool membership changed, deferring scale decision", "registered", registered)
		return nil
	}

	return r.scale(ctx, workers, pruned)
}

// scale applies the hysteresis policy: at most one instance added or
// removed per cycle, and one idle worker is always kept as standing
// capacity.
func (r *Reconciler) scale(ctx context.Context, workers []ci.Worker, pruned map[string]bool) error {
	var idle []ci.Worker
	for _, worker := range workers {
		if !pruned[worker.Name] && worker.Idle {
			idle = append(idle, worker)
		}
	}

	queue, err := r.ci.Queue(ctx)
	if err != nil {
		return err
	}

	switch {
	case queue.Empty() && len(idle) > 1:
		worker := idle[0]
		ip, err := worker.IP()
		if err != nil {
			return err
		}
		r.log.Info("Queue empty with spare capacity, retiring one idle worker", "worker", worker.Name)
		return r.cloud.Destroy(ctx, ip)

	case !queue.Empty() && len(idle) == 0:
		r.log.Info("Queue backed up with no idle worker, provisioning one instance")
		if err := r.provisioner.Provision(ctx); err != nil {
			return fmt.Errorf("failed to grow pool '%s': %w", r.name, err)
		}
		return nil

	default:
		r.log.Debug("Pool is balanced", "idle", len(idle), "queue-empty", queue.Empty())
		return nil
	}
}
