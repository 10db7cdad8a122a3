// Package provisioner turns a validated machine spec into a running,
// tagged, storage-attached, bootstrapped instance.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bosun-ci/bosun/bootstrap"
	"github.com/bosun-ci/bosun/cloud"
	"github.com/bosun-ci/bosun/internal/poll"
	"github.com/bosun-ci/bosun/machine"
	"github.com/bosun-ci/bosun/namegen"
	"github.com/bosun-ci/bosun/remote"
)

const (
	runningPollInterval = 10 * time.Second
	runningPollAttempts = 20
)

// Engine provisions declared machine specs one at a time, in declaration
// order. Resolved provider references are memoized for the engine's
// lifetime. There is no rollback: each instance's outcome is independent
// and reported under its instance id.
type Engine struct {
	api       cloud.API
	log       *slog.Logger
	transport remote.Factory
	pipeline  *bootstrap.Pipeline

	pollInterval time.Duration
	pollAttempts int

	resolved map[string]any
	specs    []machine.Spec
}

func New(api cloud.API, log *slog.Logger, transport remote.Factory) *Engine {
	return &Engine{
		api:       api,
		log:       log,
		transport: transport,
		pipeline:  bootstrap.NewPipeline(log),

		pollInterval: runningPollInterval,
		pollAttempts: runningPollAttempts,

		resolved: make(map[string]any),
	}
}

// Declare validates a spec and queues it for the next Provision call.
// Validation is exhaustive and happens before any cloud call.
func (e *Engine) Declare(spec machine.Spec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid machine spec: %w", err)
	}
	e.specs = append(e.specs, spec)
	return nil
}

// Provision launches every declared spec in order. Failures do not stop
// the batch; the returned error joins each failed instance's outcome.
func (e *Engine) Provision(ctx context.Context) error {
	var errs []error
	for _, spec := range e.specs {
		if err := e.provisionOne(ctx, spec); err != nil {
			e.log.Error("Provisioning failed", "error", err)
			errs = append(errs, err)
		}
	}
	e.specs = nil
	return errors.Join(errs...)
}

func (e *Engine) provisionOne(ctx context.Context, spec machine.Spec) error {
	image, err := e.resolveImage(ctx, spec.Image)
	if err != nil {
		return err
	}
	subnet, err := e.resolveSubnet(ctx, spec.Subnet)
	if err != nil {
		return err
	}
	if _, err := e.resolveVPC(ctx, spec.VPC); err != nil {
		return err
	}
	groupIDs := make([]string, 0, len(spec.SecurityGroups))
	for _, group := range spec.SecurityGroups {
		resolved, err := e.resolveSecurityGroup(ctx, group)
		if err != nil {
			return err
		}
		groupIDs = append(groupIDs, aws.ToString(resolved.GroupId))
	}
	keyPair, err := e.resolveKeyPair(ctx, spec.KeyPair)
	if err != nil {
		return err
	}

	mappings, err := e.blockDeviceMappings(ctx, spec.Storage)
	if err != nil {
		return err
	}

	// Shutdown from inside the instance must not terminate it; this
	// system is the only thing allowed to destroy workers.
	launched, err := e.api.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:                           image.ImageId,
		SubnetId:                          subnet.SubnetId,
		SecurityGroupIds:                  groupIDs,
		KeyName:                           keyPair.KeyName,
		InstanceType:                      types.InstanceType(spec.Size),
		MinCount:                          aws.Int32(1),
		MaxCount:                          aws.Int32(1),
		BlockDeviceMappings:               mappings,
		InstanceInitiatedShutdownBehavior: types.ShutdownBehaviorStop,
	})
	if err != nil {
		return fmt.Errorf("failed to launch instance: %w", err)
	}
	instanceID := aws.ToString(launched.Instances[0].InstanceId)
	log := e.log.With("instance", instanceID)
	log.Info("Launched instance, waiting for it to become ready")

	instance, err := e.waitRunning(ctx, instanceID)
	if err != nil {
		return err
	}

	tags := make([]types.Tag, 0, len(spec.Tags)+1)
	for _, tag := range spec.Tags {
		tags = append(tags, types.Tag{Key: aws.String(tag.Key), Value: aws.String(tag.Value)})
	}
	tags = append(tags, types.Tag{Key: aws.String("Name"), Value: aws.String(namegen.Prefixed("bosun"))})
	if _, err := e.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      tags,
	}); err != nil {
		return fmt.Errorf("failed to tag instance '%s': %w", instanceID, err)
	}

	if err := e.tagVolumes(ctx, instance, spec.Storage); err != nil {
		return err
	}

	log.Info("Bootstrapping instance", "ip", aws.ToString(instance.PrivateIpAddress), "steps", len(spec.Bootstrap))
	transport := e.transport(spec.User, aws.ToString(instance.PrivateIpAddress), spec.KeyFile)
	defer transport.Close()

	if err := e.pipeline.Run(ctx, instanceID, transport, spec.Bootstrap); err != nil {
		return err
	}

	log.Info("Instance provisioned")
	return nil
}

func (e *Engine) blockDeviceMappings(ctx context.Context, devices []machine.StorageDevice) ([]types.BlockDeviceMapping, error) {
	var mappings []types.BlockDeviceMapping
	for _, device := range devices {
		switch volume := device.(type) {
		case machine.FreshVolume:
			mappings = append(mappings, types.BlockDeviceMapping{
				DeviceName: aws.String(volume.Device),
				Ebs: &types.EbsBlockDevice{
					VolumeSize:          aws.Int32(volume.SizeGB),
					VolumeType:          types.VolumeType(volume.Type),
					DeleteOnTermination: aws.Bool(true),
				},
			})
		case machine.SnapshotVolume:
			snapshot, err := e.resolveSnapshot(ctx, volume.SnapshotID)
			if err != nil {
				return nil, err
			}
			mappings = append(mappings, types.BlockDeviceMapping{
				DeviceName: aws.String(volume.Device),
				Ebs: &types.EbsBlockDevice{
					SnapshotId:          snapshot.SnapshotId,
					DeleteOnTermination: aws.Bool(true),
				},
			})
		default:
			return nil, fmt.Errorf("unknown storage device variant %T", device)
		}
	}
	return mappings, nil
}

// waitRunning re-queries provider state on a fixed cadence until the
// instance reports running, then returns the fresh description.
func (e *Engine) waitRunning(ctx context.Context, instanceID string) (types.Instance, error) {
	var instance types.Instance
	err := poll.Until(ctx, e.pollInterval, e.pollAttempts, func() (bool, error) {
		described, err := e.describeOne(ctx, instanceID)
		if err != nil {
			return false, err
		}
		instance = described
		if instance.State == nil {
			return false, nil
		}
		return instance.State.Name == types.InstanceStateNameRunning, nil
	})
	if err != nil {
		return types.Instance{}, fmt.Errorf("instance '%s' never became running after %d attempts: %w", instanceID, e.pollAttempts, err)
	}
	return instance, nil
}

// tagVolumes matches the block devices the provider reports attached to
// their originating storage specs by device name and tags the underlying
// volumes. Devices with no matching spec are platform devices the
// provider created on its own; they are skipped.
func (e *Engine) tagVolumes(ctx context.Context, instance types.Instance, devices []machine.StorageDevice) error {
	specByDevice := make(map[string]machine.StorageDevice, len(devices))
	for _, device := range devices {
		specByDevice[device.DeviceName()] = device
	}

	bound := make(map[string]string)
	for _, mapping := range instance.BlockDeviceMappings {
		deviceName := aws.ToString(mapping.DeviceName)
		device, ok := specByDevice[deviceName]
		if !ok || mapping.Ebs == nil {
			continue
		}
		if _, alreadyBound := bound[deviceName]; alreadyBound {
			continue
		}
		volumeID := aws.ToString(mapping.Ebs.VolumeId)
		bound[deviceName] = volumeID

		volumeTags := device.VolumeTags()
		if len(volumeTags) == 0 {
			continue
		}
		tags := make([]types.Tag, 0, len(volumeTags))
		for _, tag := range volumeTags {
			tags = append(tags, types.Tag{Key: aws.String(tag.Key), Value: aws.String(tag.Value)})
		}
		if _, err := e.api.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{volumeID},
			Tags:      tags,
		}); err != nil {
			return fmt.Errorf("failed to tag volume '%s' on device '%s': %w", volumeID, deviceName, err)
		}
	}
	return nil
}

func (e *Engine) describeOne(ctx context.Context, instanceID string) (types.Instance, error) {
	out, err := e.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
	if err != nil {
		return types.Instance{}, fmt.Errorf("failed to describe instance '%s': %w", instanceID, err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return types.Instance{}, fmt.Errorf("instance '%s' is missing from its own description", instanceID)
	}
	return out.Reservations[0].Instances[0], nil
}
