// Package remote provides command execution and file transfer on a worker
// machine over a secure channel. Callers build typed requests; nothing
// untrusted is ever spliced into a command line unquoted.
package remote

import "context"

// Transport runs commands and copies files on one target host.
type Transport interface {
	// Exec runs a command and returns its combined output.
	Exec(ctx context.Context, command string) (string, error)
	// Upload copies a local file to remotePath.
	Upload(ctx context.Context, localPath, remotePath string) error
	// UploadDir copies a local directory tree to remotePath.
	UploadDir(ctx context.Context, localDir, remotePath string) error
	Close() error
}

// Factory builds a Transport for a target host. The provisioning engine
// takes one so tests can substitute a fake.
type Factory func(user, host, keyFile string) Transport
