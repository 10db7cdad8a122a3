package remote

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alessio/shellescape"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/ssh"
)

const dialTimeout = 5 * time.Second

// SSH is the Transport used against real workers. The connection is
// established lazily on first use: during bootstrap the ssh daemon on a
// fresh instance is usually not up yet, and the pipeline's readiness loop
// drives reconnection attempts through Exec.
//
// Workers are ephemeral, so host keys are deliberately not pinned.
type SSH struct {
	user    string
	host    string
	keyFile string

	client *ssh.Client
}

var _ Transport = (*SSH)(nil)

// NewSSH returns a Transport connecting as user@host with the given
// private key file. It satisfies Factory.
func NewSSH(user, host, keyFile string) Transport {
	return &SSH{user: user, host: host, keyFile: keyFile}
}

func (s *SSH) connect() (*ssh.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	key, err := os.ReadFile(s.keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file '%s': %w", s.keyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key '%s': %w", s.keyFile, err)
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:22", s.host), &ssh.ClientConfig{
		User:            s.user,
		Timeout:         dialTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to '%s@%s': %w", s.user, s.host, err)
	}

	s.client = client
	return client, nil
}

func (s *SSH) through(thunk func(*ssh.Session) error) error {
	client, err := s.connect()
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		// A dead connection is re-dialed on the next attempt.
		_ = client.Close()
		s.client = nil
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	return thunk(session)
}

func (s *SSH) Exec(ctx context.Context, command string) (string, error) {
	var output []byte
	err := s.through(func(session *ssh.Session) error {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = session.Close()
			case <-done:
			}
		}()
		defer close(done)

		var err error
		output, err = session.CombinedOutput(command)
		return err
	})
	if err != nil {
		return string(output), fmt.Errorf("failed to run '%s' on '%s': %w", command, s.host, err)
	}
	return string(output), nil
}

func (s *SSH) Upload(ctx context.Context, localPath, remotePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", localPath, err)
	}
	defer file.Close()

	_, err = s.Exec(ctx, "mkdir -p "+shellescape.Quote(filepath.Dir(remotePath)))
	if err != nil {
		return err
	}

	err = s.through(func(session *ssh.Session) error {
		session.Stdin = file
		return session.Run("cat > " + shellescape.Quote(remotePath))
	})
	if err != nil {
		return fmt.Errorf("failed to upload '%s' to '%s': %w", localPath, remotePath, err)
	}
	return nil
}

func (s *SSH) UploadDir(ctx context.Context, localDir, remotePath string) error {
	err := s.through(func(session *ssh.Session) error {
		pipe, err := session.StdinPipe()
		if err != nil {
			return err
		}

		if err := session.Start(fmt.Sprintf(
			"mkdir -p %s && tar -xzf - -C %s",
			shellescape.Quote(remotePath),
			shellescape.Quote(remotePath),
		)); err != nil {
			return err
		}

		streamErr := streamTarball(localDir, pipe)
		_ = pipe.Close()

		if err := session.Wait(); err != nil {
			return err
		}
		return streamErr
	})
	if err != nil {
		return fmt.Errorf("failed to upload directory '%s' to '%s': %w", localDir, remotePath, err)
	}
	return nil
}

// streamTarball writes a gzipped tar of the directory contents to w.
func streamTarball(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func (s *SSH) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
