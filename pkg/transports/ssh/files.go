package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"

	"github.com/convergeops/converge/pkg/engine"
)

// Copy places the contents of a local file at spec.Path on the host via SFTP.
func (t *Transport) Copy(ctx context.Context, host engine.Host, localPath string, spec engine.FileSpec) error {
	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening local file %s: %w", localPath, err)
	}
	defer local.Close()

	return t.put(ctx, host, local, spec)
}

// WriteFile places literal content at spec.Path on the host via SFTP.
func (t *Transport) WriteFile(ctx context.Context, host engine.Host, content []byte, spec engine.FileSpec) error {
	return t.put(ctx, host, bytes.NewReader(content), spec)
}

// put uploads the reader's contents and applies mode and ownership.
func (t *Transport) put(ctx context.Context, host engine.Host, src io.Reader, spec engine.FileSpec) error {
	client, err := t.connect(ctx, host)
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		t.drop(host.ID)
		return engine.NewTransportUnreachableError("creating sftp client", err).WithHost(host.ID)
	}
	defer sftpClient.Close()

	if dir := path.Dir(spec.Path); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("creating remote directory %s: %w", dir, err)
		}
	}

	remote, err := sftpClient.Create(spec.Path)
	if err != nil {
		return fmt.Errorf("creating remote file %s: %w", spec.Path, err)
	}

	written, err := io.Copy(remote, src)
	if closeErr := remote.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing remote file %s: %w", spec.Path, err)
	}

	if spec.Mode != 0 {
		if err := sftpClient.Chmod(spec.Path, spec.Mode); err != nil {
			return fmt.Errorf("setting mode on %s: %w", spec.Path, err)
		}
	}

	if spec.Owner != "" || spec.Group != "" {
		if err := t.chown(ctx, host, spec); err != nil {
			return err
		}
	}

	log.Debug().
		Str("host", host.ID).
		Str("path", spec.Path).
		Int64("bytes", written).
		Msg("file uploaded")

	return nil
}

// chown applies ownership through a sudo chown, since SFTP sessions rarely
// run with the privilege to change owners.
func (t *Transport) chown(ctx context.Context, host engine.Host, spec engine.FileSpec) error {
	owner := spec.Owner
	if spec.Group != "" {
		owner = owner + ":" + spec.Group
	}
	cmd := fmt.Sprintf("chown %s %s", owner, quote(spec.Path))

	res, err := t.Execute(ctx, host, cmd, true)
	if err != nil {
		return fmt.Errorf("chown %s: %w", spec.Path, err)
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("chown %s exited %d: %s", spec.Path, res.ExitStatus, res.Stderr)
	}
	return nil
}

// quote single-quotes a value for the remote shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
