package provisioner

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// resolve loads a provider resource by identifier, memoized per engine
// lifetime under kind/id. Kinds with a state attribute are checked for
// availability here, so a misconfigured or deleted reference fails
// before any instance is launched.
func resolve[T any](ctx context.Context, e *Engine, kind, id string, load func(context.Context, string) (T, error)) (T, error) {
	key := kind + "/" + id
	if cached, ok := e.resolved[key]; ok {
		return cached.(T), nil
	}

	resource, err := load(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	e.resolved[key] = resource
	return resource, nil
}

func (e *Engine) resolveImage(ctx context.Context, id string) (types.Image, error) {
	return resolve(ctx, e, "image", id, func(ctx context.Context, id string) (types.Image, error) {
		out, err := e.api.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{id}})
		if err != nil || len(out.Images) == 0 {
			return types.Image{}, fmt.Errorf("failed to resolve image '%s': %w", id, errOrMissing(err))
		}
		image := out.Images[0]
		if image.State != types.ImageStateAvailable {
			return types.Image{}, fmt.Errorf("image '%s' is not available (state '%s')", id, image.State)
		}
		return image, nil
	})
}

func (e *Engine) resolveSubnet(ctx context.Context, id string) (types.Subnet, error) {
	return resolve(ctx, e, "subnet", id, func(ctx context.Context, id string) (types.Subnet, error) {
		out, err := e.api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{id}})
		if err != nil || len(out.Subnets) == 0 {
			return types.Subnet{}, fmt.Errorf("failed to resolve subnet '%s': %w", id, errOrMissing(err))
		}
		subnet := out.Subnets[0]
		if subnet.State != types.SubnetStateAvailable {
			return types.Subnet{}, fmt.Errorf("subnet '%s' is not available (state '%s')", id, subnet.State)
		}
		return subnet, nil
	})
}

func (e *Engine) resolveVPC(ctx context.Context, id string) (types.Vpc, error) {
	return resolve(ctx, e, "vpc", id, func(ctx context.Context, id string) (types.Vpc, error) {
		out, err := e.api.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
		if err != nil || len(out.Vpcs) == 0 {
			return types.Vpc{}, fmt.Errorf("failed to resolve VPC '%s': %w", id, errOrMissing(err))
		}
		vpc := out.Vpcs[0]
		if vpc.State != types.VpcStateAvailable {
			return types.Vpc{}, fmt.Errorf("VPC '%s' is not available (state '%s')", id, vpc.State)
		}
		return vpc, nil
	})
}

// Security groups expose no state attribute; resolving one only proves it
// exists.
func (e *Engine) resolveSecurityGroup(ctx context.Context, id string) (types.SecurityGroup, error) {
	return resolve(ctx, e, "security-group", id, func(ctx context.Context, id string) (types.SecurityGroup, error) {
		out, err := e.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
		if err != nil || len(out.SecurityGroups) == 0 {
			return types.SecurityGroup{}, fmt.Errorf("failed to resolve security group '%s': %w", id, errOrMissing(err))
		}
		return out.SecurityGroups[0], nil
	})
}

// Key pairs expose no state attribute either.
func (e *Engine) resolveKeyPair(ctx context.Context, name string) (types.KeyPairInfo, error) {
	return resolve(ctx, e, "key-pair", name, func(ctx context.Context, name string) (types.KeyPairInfo, error) {
		out, err := e.api.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{KeyNames: []string{name}})
		if err != nil || len(out.KeyPairs) == 0 {
			return types.KeyPairInfo{}, fmt.Errorf("failed to resolve key pair '%s': %w", name, errOrMissing(err))
		}
		return out.KeyPairs[0], nil
	})
}

func (e *Engine) resolveSnapshot(ctx context.Context, id string) (types.Snapshot, error) {
	return resolve(ctx, e, "snapshot", id, func(ctx context.Context, id string) (types.Snapshot, error) {
		out, err := e.api.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: []string{id}})
		if err != nil || len(out.Snapshots) == 0 {
			return types.Snapshot{}, fmt.Errorf("failed to resolve snapshot '%s': %w", id, errOrMissing(err))
		}
		snapshot := out.Snapshots[0]
		if snapshot.State != types.SnapshotStateCompleted {
			return types.Snapshot{}, fmt.Errorf("snapshot '%s' is not completed (state '%s')", id, snapshot.State)
		}
		return snapshot, nil
	})
}

func errOrMissing(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("no such resource")
}
