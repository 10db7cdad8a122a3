package machine

import (
	"fmt"
	"regexp"
)

// VolumeType is the closed set of volume types the provider bills for.
type VolumeType string

const (
	VolumeStandard VolumeType = "standard"
	VolumeIO1      VolumeType = "io1"
	VolumeGP2      VolumeType = "gp2"
)

var knownVolumeTypes = map[VolumeType]bool{
	VolumeStandard: true,
	VolumeIO1:      true,
	VolumeGP2:      true,
}

var (
	deviceNamePattern         = regexp.MustCompile(`^/dev/sd[a-z]$`)
	snapshotDeviceNamePattern = regexp.MustCompile(`^/dev/sd[f-p]$`)
)

// StorageDevice is one block device to attach to an instance. The two
// variants are a fresh empty volume and a snapshot-backed one; the set is
// closed. Tags returns the tags to apply to the concrete volume once the
// instance reports the device attached.
type StorageDevice interface {
	DeviceName() string
	VolumeTags() []Tag
	Validate() error
}

// FreshVolume is an empty volume created alongside the instance.
type FreshVolume struct {
	Device string
	SizeGB int32
	Type   VolumeType
	Tags   []Tag
}

func (v FreshVolume) DeviceName() string { return v.Device }
func (v FreshVolume) VolumeTags() []Tag  { return v.Tags }

func (v FreshVolume) Validate() error {
	if !deviceNamePattern.MatchString(v.Device) {
		return fmt.Errorf("invalid device name '%s': must match /dev/sd[a-z]", v.Device)
	}
	if v.SizeGB <= 0 {
		return fmt.Errorf("invalid volume size %d for device '%s': must be positive", v.SizeGB, v.Device)
	}
	if !knownVolumeTypes[v.Type] {
		return fmt.Errorf("invalid volume type '%s' for device '%s'", v.Type, v.Device)
	}
	return nil
}

// SnapshotVolume is a volume restored from an existing snapshot. The
// provider only accepts snapshot restores on the /dev/sd[f-p] range.
type SnapshotVolume struct {
	Device     string
	SnapshotID string
	Tags       []Tag
}

func (v SnapshotVolume) DeviceName() string { return v.Device }
func (v SnapshotVolume) VolumeTags() []Tag  { return v.Tags }

func (v SnapshotVolume) Validate() error {
	if !snapshotDeviceNamePattern.MatchString(v.Device) {
		return fmt.Errorf("invalid device name '%s' for snapshot volume: must match /dev/sd[f-p]", v.Device)
	}
	if v.SnapshotID == "" {
		return fmt.Errorf("snapshot volume on device '%s' is missing a snapshot id", v.Device)
	}
	return nil
}
