package pool

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/bosun-ci/bosun/ci"
	"github.com/bosun-ci/bosun/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Fakes ---

type fakeCloud struct {
	instances []cloud.Instance
	destroyed []string
}

func (f *fakeCloud) RefreshByTag(ctx context.Context, key, value string) ([]cloud.Instance, error) {
	return f.instances, nil
}

func (f *fakeCloud) Destroy(ctx context.Context, ip string) error {
	f.destroyed = append(f.destroyed, ip)
	return nil
}

type fakeCI struct {
	workers      []ci.Worker
	queue        ci.Queue
	registered   []string
	deregistered []string
}

func (f *fakeCI) Workers(ctx context.Context) ([]ci.Worker, error) { return f.workers, nil }

func (f *fakeCI) RegisterWorker(ctx context.Context, ip string) error {
	f.registered = append(f.registered, ip)
	return nil
}

func (f *fakeCI) DeregisterWorker(ctx context.Context, name string) error {
	f.deregistered = append(f.deregistered, name)
	return nil
}

func (f *fakeCI) Queue(ctx context.Context) (ci.Queue, error) { return f.queue, nil }

type fakeProvisioner struct {
	provisioned int
}

func (f *fakeProvisioner) Provision(ctx context.Context) error {
	f.provisioned++
	return nil
}

// --- Helpers ---

func running(id, ip string) cloud.Instance {
	return cloud.Instance{ID: id, PrivateIP: ip, State: "running"}
}

func worker(ip string, idle bool) ci.Worker {
	return ci.Worker{Name: ci.WorkerName(ip), Idle: idle}
}

func newTestReconciler(cloudState *fakeCloud, ciState *fakeCI, prov *fakeProvisioner) *Reconciler {
	return NewReconciler("test", cloudState, ciState, prov, silentLogger)
}

// --- Tests ---

func TestSync_PrunesWorkersWithoutInstance(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{running("i-1", "10.0.0.1")}}
	ciState := &fakeCI{workers: []ci.Worker{worker("10.0.0.1", true), worker("10.0.0.9", true)}}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	assert.Equal(t, []string{ci.WorkerName("10.0.0.9")}, ciState.deregistered)
	assert.Empty(t, ciState.registered)
}

func TestSync_RegistersInstancesWithoutWorker(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{
		running("i-1", "10.0.0.1"),
		running("i-2", "10.0.0.2"),
	}}
	ciState := &fakeCI{workers: []ci.Worker{worker("10.0.0.1", true)}}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	assert.Equal(t, []string{"10.0.0.2"}, ciState.registered)
	assert.Empty(t, ciState.deregistered)
}

func TestSync_IgnoresNonRunningInstances(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{
		{ID: "i-1", PrivateIP: "10.0.0.1", State: "pending"},
		{ID: "i-2", PrivateIP: "10.0.0.2", State: "terminated"},
	}}
	ciState := &fakeCI{workers: []ci.Worker{worker("10.0.0.1", true)}}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	// Pending instances are not registered; the worker backed by one is
	// pruned like any other defunct entry.
	assert.Empty(t, ciState.registered)
	assert.Equal(t, []string{ci.WorkerName("10.0.0.1")}, ciState.deregistered)
}

func TestSync_IsIdempotentWhenConverged(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{running("i-1", "10.0.0.1")}}
	// One idle worker is standing capacity, so a converged pool with one
	// idle worker does nothing at all, twice in a row.
	ciState := &fakeCI{workers: []ci.Worker{worker("10.0.0.1", true)}}
	prov := &fakeProvisioner{}
	reconciler := newTestReconciler(cloudState, ciState, prov)

	require.NoError(t, reconciler.Sync(context.Background()))
	require.NoError(t, reconciler.Sync(context.Background()))

	assert.Empty(t, ciState.registered)
	assert.Empty(t, ciState.deregistered)
	assert.Empty(t, cloudState.destroyed)
	assert.Zero(t, prov.provisioned)
}

func TestSync_SettleGateBlocksScaleAfterRegistration(t *testing.T) {
	// Queue is backed up and nobody is idle, which would normally trigger
	// a provision, but a registration happened this cycle.
	cloudState := &fakeCloud{instances: []cloud.Instance{
		running("i-1", "10.0.0.1"),
		running("i-3", "10.0.0.3"),
	}}
	ciState := &fakeCI{
		workers: []ci.Worker{worker("10.0.0.1", false)},
		queue:   ci.Queue{Items: []string{"/job/build/1"}},
	}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	assert.Equal(t, []string{"10.0.0.3"}, ciState.registered)
	assert.Zero(t, prov.provisioned)
	assert.Empty(t, cloudState.destroyed)
}

func TestSync_ProvisionsWhenQueueBackedUpAndNobodyIdle(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{running("i-1", "10.0.0.1")}}
	ciState := &fakeCI{
		workers: []ci.Worker{worker("10.0.0.1", false)},
		queue:   ci.Queue{Items: []string{"/job/build/1"}},
	}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	assert.Equal(t, 1, prov.provisioned)
	assert.Empty(t, cloudState.destroyed)
}

func TestSync_NoProvisionWhenAnIdleWorkerRemains(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{
		running("i-1", "10.0.0.1"),
		running("i-2", "10.0.0.2"),
	}}
	ciState := &fakeCI{
		workers: []ci.Worker{worker("10.0.0.1", false), worker("10.0.0.2", true)},
		queue:   ci.Queue{Items: []string{"/job/build/1"}},
	}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	assert.Zero(t, prov.provisioned)
	assert.Empty(t, cloudState.destroyed)
}

func TestSync_DestroysOneIdleWorkerWhenQueueEmpty(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{
		running("i-1", "10.0.0.1"),
		running("i-2", "10.0.0.2"),
	}}
	ciState := &fakeCI{workers: []ci.Worker{worker("10.0.0.1", true), worker("10.0.0.2", true)}}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	// The first idle worker in CI order is retired, exactly one.
	assert.Equal(t, []string{"10.0.0.1"}, cloudState.destroyed)
	assert.Zero(t, prov.provisioned)
}

func TestSync_KeepsOneIdleWorkerAsStandingCapacity(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{
		running("i-1", "10.0.0.1"),
		running("i-2", "10.0.0.2"),
	}}
	ciState := &fakeCI{workers: []ci.Worker{worker("10.0.0.1", true), worker("10.0.0.2", false)}}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	assert.Empty(t, cloudState.destroyed)
	assert.Zero(t, prov.provisioned)
}

func TestSync_MalformedWorkerNameIsFatal(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{running("i-1", "10.0.0.1")}}
	ciState := &fakeCI{workers: []ci.Worker{{Name: "mystery node", Idle: true}}}
	prov := &fakeProvisioner{}

	err := newTestReconciler(cloudState, ciState, prov).Sync(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery node")
	assert.Empty(t, ciState.deregistered)
}

func TestSync_EndToEnd_NewInstanceRegisteredThenSettles(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{
		running("i-1", "10.0.0.1"),
		running("i-2", "10.0.0.2"),
		running("i-3", "10.0.0.3"),
	}}
	ciState := &fakeCI{workers: []ci.Worker{worker("10.0.0.1", true), worker("10.0.0.2", false)}}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	assert.Equal(t, []string{"10.0.0.3"}, ciState.registered)
	assert.Empty(t, cloudState.destroyed)
	assert.Zero(t, prov.provisioned)
}

func TestSync_EndToEnd_TwoIdleWorkersShrinkByOne(t *testing.T) {
	cloudState := &fakeCloud{instances: []cloud.Instance{
		running("i-1", "10.0.0.1"),
		running("i-2", "10.0.0.2"),
	}}
	ciState := &fakeCI{workers: []ci.Worker{worker("10.0.0.1", true), worker("10.0.0.2", true)}}
	prov := &fakeProvisioner{}

	require.NoError(t, newTestReconciler(cloudState, ciState, prov).Sync(context.Background()))

	assert.Empty(t, ciState.registered)
	assert.Empty(t, ciState.deregistered)
	assert.Equal(t, []string{"10.0.0.1"}, cloudState.destroyed)
}
