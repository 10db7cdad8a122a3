// Package bootstrap configures a freshly launched instance over a remote
// shell: an ordered list of steps, each waiting for the shell to come up
// before executing its payload.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/bosun-ci/bosun/remote"
)

const stagingDir = "/tmp"

// Step is one unit of post-launch configuration work. The set of variants
// is closed: script, archive, directory.
type Step interface {
	// Describe names the step for logs and errors.
	Describe() string
	// Execute uploads the step's payload and runs it with elevated
	// privileges. The target shell is assumed reachable; the pipeline
	// has already waited for readiness.
	Execute(ctx context.Context, t remote.Transport) error
}

// Script uploads a single script file and runs it.
type Script struct {
	path string
}

func NewScript(localPath string) (Script, error) {
	if err := mustBeFile(localPath); err != nil {
		return Script{}, err
	}
	return Script{path: localPath}, nil
}

func (s Script) Describe() string { return fmt.Sprintf("script %s", s.path) }

func (s Script) Execute(ctx context.Context, t remote.Transport) error {
	target := path.Join(stagingDir, filepath.Base(s.path))
	if err := t.Upload(ctx, s.path, target); err != nil {
		return err
	}
	_, err := t.Exec(ctx, "sudo bash "+shellescape.Quote(target))
	return err
}

// Archive uploads a tarball, extracts it into a clean directory and runs
// the fixed entry point setup.sh inside it.
type Archive struct {
	path string
}

const archiveEntryPoint = "setup.sh"

func NewArchive(localPath string) (Archive, error) {
	if err := mustBeFile(localPath); err != nil {
		return Archive{}, err
	}
	return Archive{path: localPath}, nil
}

func (a Archive) Describe() string { return fmt.Sprintf("archive %s", a.path) }

func (a Archive) Execute(ctx context.Context, t remote.Transport) error {
	base := filepath.Base(a.path)
	target := path.Join(stagingDir, base)
	extractDir := path.Join(stagingDir, strings.TrimSuffix(strings.TrimSuffix(base, ".tar.gz"), ".tgz"))

	if err := t.Upload(ctx, a.path, target); err != nil {
		return err
	}
	_, err := t.Exec(ctx, fmt.Sprintf(
		"rm -rf %[1]s && mkdir -p %[1]s && tar -xzf %[2]s -C %[1]s && cd %[1]s && sudo bash %[3]s",
		shellescape.Quote(extractDir),
		shellescape.Quote(target),
		shellescape.Quote(archiveEntryPoint),
	))
	return err
}

// Dir uploads a whole local directory tree and runs a declared entry
// point inside it.
type Dir struct {
	path  string
	entry string
}

func NewDir(localPath, entryPoint string) (Dir, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return Dir{}, fmt.Errorf("bootstrap directory '%s' does not exist: %w", localPath, err)
	}
	if !info.IsDir() {
		return Dir{}, fmt.Errorf("bootstrap path '%s' is not a directory", localPath)
	}
	if entryPoint == "" {
		return Dir{}, fmt.Errorf("bootstrap directory '%s' is missing an entry point", localPath)
	}
	if err := mustBeFile(filepath.Join(localPath, entryPoint)); err != nil {
		return Dir{}, err
	}
	return Dir{path: localPath, entry: entryPoint}, nil
}

func (d Dir) Describe() string { return fmt.Sprintf("directory %s", d.path) }

func (d Dir) Execute(ctx context.Context, t remote.Transport) error {
	target := path.Join(stagingDir, filepath.Base(strings.TrimRight(d.path, "/")))

	if _, err := t.Exec(ctx, "rm -rf "+shellescape.Quote(target)); err != nil {
		return err
	}
	if err := t.UploadDir(ctx, d.path, target); err != nil {
		return err
	}
	_, err := t.Exec(ctx, fmt.Sprintf(
		"cd %s && sudo bash %s",
		shellescape.Quote(target),
		shellescape.Quote(d.entry),
	))
	return err
}

func mustBeFile(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("bootstrap file '%s' does not exist: %w", p, err)
	}
	if info.IsDir() {
		return fmt.Errorf("bootstrap file '%s' is a directory", p)
	}
	return nil
}
