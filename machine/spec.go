// Package machine holds the immutable value objects describing a worker
// machine to be provisioned: image and network placement, instance size,
// storage devices, tags and the ordered bootstrap sequence. No I/O happens
// here; everything is validated before the first cloud call.
package machine

import (
	"fmt"

	"github.com/bosun-ci/bosun/bootstrap"
)

// Size is an instance size from the closed set of sizes we know how to
// pay for. Anything else is a configuration error.
type Size string

const (
	SizeT2Micro  Size = "t2.micro"
	SizeT2Small  Size = "t2.small"
	SizeT2Medium Size = "t2.medium"
	SizeM3Medium Size = "m3.medium"
	SizeM3Large  Size = "m3.large"
	SizeM3XLarge Size = "m3.xlarge"
	SizeC3Large  Size = "c3.large"
	SizeC3XLarge Size = "c3.xlarge"
	SizeC4Large  Size = "c4.large"
	SizeC4XLarge Size = "c4.xlarge"
	SizeR3Large  Size = "r3.large"
	SizeR3XLarge Size = "r3.xlarge"
)

var knownSizes = map[Size]bool{
	SizeT2Micro:  true,
	SizeT2Small:  true,
	SizeT2Medium: true,
	SizeM3Medium: true,
	SizeM3Large:  true,
	SizeM3XLarge: true,
	SizeC3Large:  true,
	SizeC3XLarge: true,
	SizeC4Large:  true,
	SizeC4XLarge: true,
	SizeR3Large:  true,
	SizeR3XLarge: true,
}

func (s Size) Validate() error {
	if !knownSizes[s] {
		return fmt.Errorf("unknown instance size '%s'", s)
	}
	return nil
}

// Tag is a key/value pair attached to cloud resources.
type Tag struct {
	Key   string
	Value string
}

// Spec describes one instance-to-be. A spec is instantiated into exactly
// one cloud instance and never mutated after validation.
type Spec struct {
	Image          string
	Subnet         string
	VPC            string
	SecurityGroups []string
	KeyPair        string
	KeyFile        string
	User           string
	Size           Size
	Storage        []StorageDevice
	Bootstrap      []bootstrap.Step
	Tags           []Tag
}

// Validate checks that every required field is present and that storage
// devices and instance size are well-formed. It fails fast, before the
// spec reaches the provisioning engine.
func (s Spec) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"image", s.Image},
		{"subnet", s.Subnet},
		{"vpc", s.VPC},
		{"key-pair", s.KeyPair},
		{"key-file", s.KeyFile},
		{"user", s.User},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("spec is missing required field '%s'", r.name)
		}
	}
	if len(s.SecurityGroups) == 0 {
		return fmt.Errorf("spec is missing required field 'security-groups'")
	}
	if err := s.Size.Validate(); err != nil {
		return err
	}
	for _, device := range s.Storage {
		if err := device.Validate(); err != nil {
			return err
		}
	}
	return nil
}
