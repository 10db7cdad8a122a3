package cloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeEC2 answers DescribeInstances from a fixed set and records calls.
type fakeEC2 struct {
	instances []types.Instance

	describeCalls int
	terminated    []string
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.describeCalls++
	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{Instances: f.instances}},
	}, nil
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminated = append(f.terminated, params.InstanceIds...)
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeEC2) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	return &ec2.DescribeImagesOutput{}, nil
}

func (f *fakeEC2) DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	return &ec2.DescribeSubnetsOutput{}, nil
}

func (f *fakeEC2) DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	return &ec2.DescribeVpcsOutput{}, nil
}

func (f *fakeEC2) DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	return &ec2.DescribeSecurityGroupsOutput{}, nil
}

func (f *fakeEC2) DescribeKeyPairs(ctx context.Context, params *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error) {
	return &ec2.DescribeKeyPairsOutput{}, nil
}

func (f *fakeEC2) DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	return &ec2.DescribeSnapshotsOutput{}, nil
}

func rawInstance(id, ip string, launched time.Time) types.Instance {
	return types.Instance{
		InstanceId:       aws.String(id),
		PrivateIpAddress: aws.String(ip),
		State:            &types.InstanceState{Name: types.InstanceStateNameRunning},
		LaunchTime:       aws.Time(launched),
	}
}

func TestListByTag_CachesUntilRefresh(t *testing.T) {
	api := &fakeEC2{instances: []types.Instance{rawInstance("i-1", "10.0.0.1", time.Now())}}
	inv := NewInventory(api, silentLogger)

	first, err := inv.ListByTag(context.Background(), "pool", "test")
	require.NoError(t, err)
	second, err := inv.ListByTag(context.Background(), "pool", "test")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, api.describeCalls)

	_, err = inv.RefreshByTag(context.Background(), "pool", "test")
	require.NoError(t, err)
	assert.Equal(t, 2, api.describeCalls)
}

func TestListByIP_NeverCaches(t *testing.T) {
	api := &fakeEC2{instances: []types.Instance{rawInstance("i-1", "10.0.0.1", time.Now())}}
	inv := NewInventory(api, silentLogger)

	_, err := inv.ListByIP(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	_, err = inv.ListByIP(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, 2, api.describeCalls)
}

func TestListByIP_EmptyInputSkipsTheProvider(t *testing.T) {
	api := &fakeEC2{}
	inv := NewInventory(api, silentLogger)

	instances, err := inv.ListByIP(context.Background())
	require.NoError(t, err)
	assert.Empty(t, instances)
	assert.Zero(t, api.describeCalls)
}

func TestDestroy_MissingInstanceIsANoOp(t *testing.T) {
	api := &fakeEC2{}
	inv := NewInventory(api, silentLogger)

	require.NoError(t, inv.Destroy(context.Background(), "10.0.0.9"))
	assert.Empty(t, api.terminated)
}

func TestDestroy_BillingWindow(t *testing.T) {
	tests := []struct {
		uptimeMinutes int
		terminates    bool
	}{
		{0, false},
		{44, false},
		{46, true},
		{58, true},
		{59, false},
		{60 + 44, false},
		{60 + 50, true},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("minute_%d", test.uptimeMinutes%60), func(t *testing.T) {
			now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
			launched := now.Add(-time.Duration(test.uptimeMinutes) * time.Minute)

			api := &fakeEC2{instances: []types.Instance{rawInstance("i-1", "10.0.0.1", launched)}}
			inv := NewInventory(api, silentLogger)
			inv.now = func() time.Time { return now }

			require.NoError(t, inv.Destroy(context.Background(), "10.0.0.1"))
			if test.terminates {
				assert.Equal(t, []string{"i-1"}, api.terminated)
			} else {
				assert.Empty(t, api.terminated)
			}
		})
	}
}
