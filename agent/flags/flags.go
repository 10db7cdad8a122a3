package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"

	Config = "config"

	Pool         = "pool"
	SyncInterval = "sync-interval"

	AwsRegion    = "aws-region"
	AwsEndpoint  = "aws-endpoint"
	AwsAccessKey = "aws-access-key"
	AwsSecretKey = "aws-secret-key"

	CiURL            = "ci-url"
	CiUsername       = "ci-username"
	CiPassword       = "ci-password"
	CiRemoteFS       = "ci-remote-fs"
	CiCredentialsID  = "ci-credentials-id"
	CiPrivateKeyPath = "ci-private-key-path"

	MachineImage          = "machine-image"
	MachineSubnet         = "machine-subnet"
	MachineVpc            = "machine-vpc"
	MachineSecurityGroups = "machine-security-groups"
	MachineKeyPair        = "machine-key-pair"
	MachineKeyFile        = "machine-key-file"
	MachineUser           = "machine-user"
	MachineSize           = "machine-size"
)

func init() {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	// Bosun
	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.String(Config, "", "configuration file holding storage and bootstrap definitions")
	flags.String(Pool, "", "name of the worker pool to reconcile")
	flags.Duration(SyncInterval, 0, "re-run the sync cycle on this interval (0 runs once)")

	// Cloud provider
	flags.String(AwsRegion, "", "AWS region of the worker fleet")
	flags.String(AwsEndpoint, "", "override the EC2 API endpoint (simulators)")
	flags.String(AwsAccessKey, "", "static AWS access key (default credential chain otherwise)")
	flags.String(AwsSecretKey, "", "static AWS secret key")

	// CI master
	flags.String(CiURL, "", "base URL of the CI master")
	flags.String(CiUsername, "", "CI master basic-auth username")
	flags.String(CiPassword, "", "CI master basic-auth password")
	flags.String(CiRemoteFS, "/home/ci", "remote filesystem root of registered workers")
	flags.String(CiCredentialsID, "", "CI credential id used to reach workers")
	flags.String(CiPrivateKeyPath, "", "private key path the CI master uses for workers")

	// Worker machines
	flags.String(MachineImage, "", "image to launch workers from")
	flags.String(MachineSubnet, "", "subnet to place workers in")
	flags.String(MachineVpc, "", "VPC of the worker subnet")
	flags.StringSlice(MachineSecurityGroups, nil, "security groups attached to workers")
	flags.String(MachineKeyPair, "", "provider key pair for worker SSH access")
	flags.String(MachineKeyFile, "", "local private key file matching the key pair")
	flags.String(MachineUser, "", "remote login user on workers")
	flags.String(MachineSize, "", "instance size of workers")

	// Init
	if err := flags.Parse(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	viper.SetEnvPrefix("bosun")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))

	if configFile := viper.GetString(Config); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("failed to read config file '%s': %w", configFile, err))
			os.Exit(1)
		}
	}
}
