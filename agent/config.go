package main

import (
	"context"
	"fmt"

	"github.com/bosun-ci/bosun/agent/flags"
	"github.com/bosun-ci/bosun/agent/log"
	"github.com/bosun-ci/bosun/bootstrap"
	"github.com/bosun-ci/bosun/ci"
	"github.com/bosun-ci/bosun/cloud"
	"github.com/bosun-ci/bosun/machine"
	"github.com/bosun-ci/bosun/pool"
	"github.com/bosun-ci/bosun/provisioner"
	"github.com/bosun-ci/bosun/remote"
	"github.com/spf13/viper"
)

// storageConfig is one storage device from the config file. A snapshot id
// makes it a snapshot-backed volume; size and type make it a fresh one.
type storageConfig struct {
	Device   string            `mapstructure:"device"`
	Size     int32             `mapstructure:"size"`
	Type     string            `mapstructure:"type"`
	Snapshot string            `mapstructure:"snapshot"`
	Tags     map[string]string `mapstructure:"tags"`
}

// bootstrapConfig is one bootstrap step from the config file.
type bootstrapConfig struct {
	Type       string `mapstructure:"type"`
	Path       string `mapstructure:"path"`
	EntryPoint string `mapstructure:"entrypoint"`
}

func buildMachineSpec() (machine.Spec, error) {
	poolName := viper.GetString(flags.Pool)
	if poolName == "" {
		return machine.Spec{}, fmt.Errorf("a pool name is required")
	}

	spec := machine.Spec{
		Image:          viper.GetString(flags.MachineImage),
		Subnet:         viper.GetString(flags.MachineSubnet),
		VPC:            viper.GetString(flags.MachineVpc),
		SecurityGroups: viper.GetStringSlice(flags.MachineSecurityGroups),
		KeyPair:        viper.GetString(flags.MachineKeyPair),
		KeyFile:        viper.GetString(flags.MachineKeyFile),
		User:           viper.GetString(flags.MachineUser),
		Size:           machine.Size(viper.GetString(flags.MachineSize)),
		Tags:           []machine.Tag{{Key: pool.TagKey, Value: poolName}},
	}

	var storage []storageConfig
	if err := viper.UnmarshalKey("storage", &storage); err != nil {
		return machine.Spec{}, fmt.Errorf("failed to decode storage configuration: %w", err)
	}
	for _, device := range storage {
		var tags []machine.Tag
		for key, value := range device.Tags {
			tags = append(tags, machine.Tag{Key: key, Value: value})
		}
		if device.Snapshot != "" {
			spec.Storage = append(spec.Storage, machine.SnapshotVolume{
				Device:     device.Device,
				SnapshotID: device.Snapshot,
				Tags:       tags,
			})
		} else {
			spec.Storage = append(spec.Storage, machine.FreshVolume{
				Device: device.Device,
				SizeGB: device.Size,
				Type:   machine.VolumeType(device.Type),
				Tags:   tags,
			})
		}
	}

	var steps []bootstrapConfig
	if err := viper.UnmarshalKey("bootstrap", &steps); err != nil {
		return machine.Spec{}, fmt.Errorf("failed to decode bootstrap configuration: %w", err)
	}
	for _, step := range steps {
		switch step.Type {
		case "script":
			script, err := bootstrap.NewScript(step.Path)
			if err != nil {
				return machine.Spec{}, err
			}
			spec.Bootstrap = append(spec.Bootstrap, script)
		case "archive":
			archive, err := bootstrap.NewArchive(step.Path)
			if err != nil {
				return machine.Spec{}, err
			}
			spec.Bootstrap = append(spec.Bootstrap, archive)
		case "dir":
			dir, err := bootstrap.NewDir(step.Path, step.EntryPoint)
			if err != nil {
				return machine.Spec{}, err
			}
			spec.Bootstrap = append(spec.Bootstrap, dir)
		default:
			return machine.Spec{}, fmt.Errorf("unknown bootstrap step type '%s'", step.Type)
		}
	}

	return spec, spec.Validate()
}

func buildCloudInventory(ctx context.Context) (*cloud.Inventory, cloud.API, error) {
	api, err := cloud.NewClient(ctx, cloud.ClientConfig{
		Region:    viper.GetString(flags.AwsRegion),
		Endpoint:  viper.GetString(flags.AwsEndpoint),
		AccessKey: viper.GetString(flags.AwsAccessKey),
		SecretKey: viper.GetString(flags.AwsSecretKey),
	})
	if err != nil {
		return nil, nil, err
	}
	return cloud.NewInventory(api, log.With("component", "cloud")), api, nil
}

func buildCIClient() *ci.Client {
	return ci.NewClient(ci.Config{
		URL:            viper.GetString(flags.CiURL),
		Username:       viper.GetString(flags.CiUsername),
		Password:       viper.GetString(flags.CiPassword),
		RemoteFS:       viper.GetString(flags.CiRemoteFS),
		CredentialsID:  viper.GetString(flags.CiCredentialsID),
		PrivateKeyPath: viper.GetString(flags.CiPrivateKeyPath),
	}, log.With("component", "ci"))
}

func buildPoolProvisioner(api cloud.API) (*provisioner.FixedSpec, error) {
	spec, err := buildMachineSpec()
	if err != nil {
		return nil, err
	}
	engine := provisioner.New(api, log.With("component", "provisioner"), remote.NewSSH)
	return provisioner.NewFixedSpec(engine, spec)
}
