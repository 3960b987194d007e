package ssh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/convergeops/converge/pkg/engine"
)

// Transport implements engine.Transport over SSH, holding one connection
// per host for the duration of a run.
type Transport struct {
	config *Config

	mu    sync.Mutex
	conns map[string]*ssh.Client
}

// New creates an SSH transport with the given connection defaults.
func New(config *Config) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Transport{
		config: config,
		conns:  make(map[string]*ssh.Client),
	}, nil
}

// connect returns the cached connection for the host, dialing if needed.
// Dial failures are classified transport-unreachable: they are fatal to the
// host's run but never to any other host's.
func (t *Transport) connect(ctx context.Context, host engine.Host) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if client, ok := t.conns[host.ID]; ok {
		return client, nil
	}

	user := host.User
	if user == "" {
		user = t.config.User
	}
	port := host.Port
	if port == 0 {
		port = t.config.Port
	}
	address := fmt.Sprintf("%s:%d", host.Address, port)

	clientConfig, err := t.config.buildClientConfig(user)
	if err != nil {
		return nil, engine.NewTransportUnreachableError("building ssh client config", err).WithHost(host.ID)
	}

	log.Debug().Str("host", host.ID).Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, engine.NewTransportUnreachableError("connect cancelled", ctx.Err()).WithHost(host.ID)
	case err := <-errChan:
		return nil, engine.NewTransportUnreachableError("ssh dial failed", err).WithHost(host.ID)
	case client := <-connChan:
		t.conns[host.ID] = client
		log.Info().Str("host", host.ID).Str("address", address).Msg("SSH connection established")
		return client, nil
	}
}

// Execute runs a command on the host. A non-zero exit status is reported in
// the result, not as an error; only failing to run the command at all is an
// error.
func (t *Transport) Execute(ctx context.Context, host engine.Host, command string, sudo bool) (engine.ExecResult, error) {
	client, err := t.connect(ctx, host)
	if err != nil {
		return engine.ExecResult{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		// A dead connection is indistinguishable from an unreachable host;
		// drop the cached client so a later run can redial.
		t.drop(host.ID)
		return engine.ExecResult{}, engine.NewTransportUnreachableError("creating ssh session", err).WithHost(host.ID)
	}
	defer session.Close()

	return runSession(ctx, session, command, sudo, t.config.SudoPassword)
}

// runSession executes the command in the session, honoring cancellation.
func runSession(ctx context.Context, session *ssh.Session, command string, sudo bool, sudoPassword string) (engine.ExecResult, error) {
	var stdoutBuf, stderrBuf strings.Builder
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	finalCmd := command
	if sudo {
		if sudoPassword != "" {
			finalCmd = fmt.Sprintf("sudo -S %s", command)
			session.Stdin = strings.NewReader(sudoPassword + "\n")
		} else {
			finalCmd = fmt.Sprintf("sudo %s", command)
		}
	}

	start := time.Now()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(finalCmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	result := engine.ExecResult{
		Stdout: strings.TrimSpace(stdoutBuf.String()),
		Stderr: strings.TrimSpace(stderrBuf.String()),
	}

	log.Debug().
		Str("command", command).
		Bool("sudo", sudo).
		Dur("duration", time.Since(start)).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			result.ExitStatus = exitErr.ExitStatus()
			return result, nil
		}
		if ctx.Err() != nil {
			// Timed out or cancelled, not an unreachable host.
			return result, fmt.Errorf("ssh command interrupted: %w", execErr)
		}
		return result, engine.NewTransportUnreachableError("ssh command did not run", execErr)
	}

	return result, nil
}

// Close releases the host's connection.
func (t *Transport) Close(host engine.Host) error {
	t.mu.Lock()
	client, ok := t.conns[host.ID]
	delete(t.conns, host.ID)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	log.Debug().Str("host", host.ID).Msg("closing SSH connection")
	return client.Close()
}

// drop discards a cached connection without closing errors mattering.
func (t *Transport) drop(hostID string) {
	t.mu.Lock()
	if client, ok := t.conns[hostID]; ok {
		_ = client.Close()
		delete(t.conns, hostID)
	}
	t.mu.Unlock()
}
