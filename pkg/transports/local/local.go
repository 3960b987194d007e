// Package local implements the engine's Transport over the local shell.
// It is used for converging the machine the CLI runs on and for tests.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/convergeops/converge/pkg/engine"
)

// Transport runs commands and writes files on the local machine. The host's
// address is ignored; its ID is only used for logging.
type Transport struct {
	// Shell is the shell binary used for commands. Defaults to "sh".
	Shell string
}

// New creates a local transport.
func New() *Transport {
	return &Transport{Shell: "sh"}
}

// Execute runs the command through the local shell.
func (t *Transport) Execute(ctx context.Context, host engine.Host, command string, sudo bool) (engine.ExecResult, error) {
	shell := t.Shell
	if shell == "" {
		shell = "sh"
	}

	var cmd *exec.Cmd
	if sudo {
		cmd = exec.CommandContext(ctx, "sudo", shell, "-c", command)
	} else {
		cmd = exec.CommandContext(ctx, shell, "-c", command)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()

	result := engine.ExecResult{
		Stdout: strings.TrimSpace(outBuf.String()),
		Stderr: strings.TrimSpace(errBuf.String()),
	}

	log.Debug().
		Str("host", host.ID).
		Str("command", command).
		Bool("sudo", sudo).
		Int("exit_status", result.ExitStatus).
		Msg("local command completed")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitStatus = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("running local command: %w", err)
	}

	return result, nil
}

// Copy copies a local file to the spec's destination path.
func (t *Transport) Copy(ctx context.Context, host engine.Host, localPath string, spec engine.FileSpec) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer src.Close()

	return t.write(ctx, host, src, spec)
}

// WriteFile writes literal content to the spec's destination path.
func (t *Transport) WriteFile(ctx context.Context, host engine.Host, content []byte, spec engine.FileSpec) error {
	return t.write(ctx, host, bytes.NewReader(content), spec)
}

func (t *Transport) write(ctx context.Context, host engine.Host, src io.Reader, spec engine.FileSpec) error {
	if err := os.MkdirAll(filepath.Dir(spec.Path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", spec.Path, err)
	}

	dst, err := os.Create(spec.Path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", spec.Path, err)
	}

	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", spec.Path, err)
	}

	if spec.Mode != 0 {
		if err := os.Chmod(spec.Path, spec.Mode); err != nil {
			return fmt.Errorf("setting mode on %s: %w", spec.Path, err)
		}
	}

	if spec.Owner != "" || spec.Group != "" {
		owner := spec.Owner
		if spec.Group != "" {
			owner = owner + ":" + spec.Group
		}
		res, err := t.Execute(ctx, host, fmt.Sprintf("chown %s '%s'", owner, spec.Path), true)
		if err != nil {
			return fmt.Errorf("chown %s: %w", spec.Path, err)
		}
		if res.ExitStatus != 0 {
			return fmt.Errorf("chown %s exited %d: %s", spec.Path, res.ExitStatus, res.Stderr)
		}
	}

	return nil
}

// Close is a no-op: there is no connection to release.
func (t *Transport) Close(host engine.Host) error {
	return nil
}
