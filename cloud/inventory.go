package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Instance is the slice of provider state the reconciler cares about.
type Instance struct {
	ID         string
	PrivateIP  string
	State      string
	LaunchedAt time.Time
}

func (i Instance) Running() bool {
	return i.State == string(types.InstanceStateNameRunning)
}

// The provider bills by the hour. Terminating outside this uptime
// minute-of-hour window either wastes paid time or invites thrash on
// noisy queue signals, so Destroy refuses (both bounds exclusive).
const (
	terminateWindowOpen  = 45
	terminateWindowClose = 59
)

// Inventory answers "which instances exist" questions against the
// provider. Tag-scoped queries are cached for the accessor's lifetime;
// RefreshByTag busts the cache. The accessor is single-threaded like the
// rest of the system, so the cache needs no locking.
type Inventory struct {
	api API
	log *slog.Logger
	now func() time.Time

	tagCache map[string][]Instance
}

func NewInventory(api API, log *slog.Logger) *Inventory {
	return &Inventory{
		api:      api,
		log:      log,
		now:      time.Now,
		tagCache: make(map[string][]Instance),
	}
}

// ListByTag returns instances carrying tag key=value, serving repeats
// from cache.
func (inv *Inventory) ListByTag(ctx context.Context, key, value string) ([]Instance, error) {
	cacheKey := key + "=" + value
	if cached, ok := inv.tagCache[cacheKey]; ok {
		return cached, nil
	}
	return inv.RefreshByTag(ctx, key, value)
}

// RefreshByTag re-queries the provider and replaces the cached result.
func (inv *Inventory) RefreshByTag(ctx context.Context, key, value string) ([]Instance, error) {
	instances, err := inv.describe(ctx, types.Filter{
		Name:   aws.String("tag:" + key),
		Values: []string{value},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances by tag '%s=%s': %w", key, value, err)
	}
	inv.tagCache[key+"="+value] = instances
	return instances, nil
}

// ListByIP queries instances by private IP, all addresses in one call,
// uncached.
func (inv *Inventory) ListByIP(ctx context.Context, ips ...string) ([]Instance, error) {
	if len(ips) == 0 {
		return nil, nil
	}
	instances, err := inv.describe(ctx, types.Filter{
		Name:   aws.String("private-ip-address"),
		Values: ips,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances by IP: %w", err)
	}
	return instances, nil
}

// Destroy terminates the instance at the given private IP, but only when
// its uptime minute-of-hour falls inside the billing window. A missing
// instance and a window refusal are both logged no-ops: the first is
// already-converged state, the second is re-evaluated next cycle.
func (inv *Inventory) Destroy(ctx context.Context, ip string) error {
	instances, err := inv.ListByIP(ctx, ip)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		inv.log.Info("Instance already gone, nothing to destroy", "ip", ip)
		return nil
	}

	instance := instances[0]
	uptime := inv.now().Sub(instance.LaunchedAt)
	minute := int(uptime.Minutes()) % 60

	if minute <= terminateWindowOpen || minute >= terminateWindowClose {
		inv.log.Info("Not terminating instance outside billing window",
			"instance", instance.ID, "ip", ip, "uptime", uptime.Round(time.Minute), "minute", minute)
		return nil
	}

	inv.log.Info("Terminating instance", "instance", instance.ID, "ip", ip, "uptime", uptime.Round(time.Minute))
	_, err = inv.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instance.ID},
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance '%s': %w", instance.ID, err)
	}
	return nil
}

func (inv *Inventory) describe(ctx context.Context, filters ...types.Filter) ([]Instance, error) {
	out, err := inv.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{Filters: filters})
	if err != nil {
		return nil, err
	}

	var instances []Instance
	for _, reservation := range out.Reservations {
		for _, raw := range reservation.Instances {
			instance := Instance{
				ID:        aws.ToString(raw.InstanceId),
				PrivateIP: aws.ToString(raw.PrivateIpAddress),
			}
			if raw.State != nil {
				instance.State = string(raw.State.Name)
			}
			if raw.LaunchTime != nil {
				instance.LaunchedAt = *raw.LaunchTime
			}
			instances = append(instances, instance)
		}
	}
	return instances, nil
}
