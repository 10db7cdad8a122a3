package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() Spec {
	return Spec{
		Image:          "ami-1234",
		Subnet:         "subnet-1234",
		VPC:            "vpc-1234",
		SecurityGroups: []string{"sg-1234"},
		KeyPair:        "workers",
		KeyFile:        "/var/lib/ci/worker.pem",
		User:           "admin",
		Size:           SizeC4Large,
	}
}

func TestSpecValidate_Accepts(t *testing.T) {
	require.NoError(t, validSpec().Validate())
}

func TestSpecValidate_MissingFields(t *testing.T) {
	tests := map[string]func(*Spec){
		"image":           func(s *Spec) { s.Image = "" },
		"subnet":          func(s *Spec) { s.Subnet = "" },
		"vpc":             func(s *Spec) { s.VPC = "" },
		"security groups": func(s *Spec) { s.SecurityGroups = nil },
		"key pair":        func(s *Spec) { s.KeyPair = "" },
		"key file":        func(s *Spec) { s.KeyFile = "" },
		"user":            func(s *Spec) { s.User = "" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			spec := validSpec()
			mutate(&spec)
			assert.Error(t, spec.Validate())
		})
	}
}

func TestSpecValidate_UnknownSizeRejected(t *testing.T) {
	spec := validSpec()
	spec.Size = "q9.enormous"
	assert.Error(t, spec.Validate())
}

func TestSpecValidate_ChecksStorageDevices(t *testing.T) {
	spec := validSpec()
	spec.Storage = []StorageDevice{FreshVolume{Device: "/dev/sdb", SizeGB: 0, Type: VolumeGP2}}
	assert.Error(t, spec.Validate())
}
