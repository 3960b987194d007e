package engine

import (
	"context"
	"io/fs"
)

// ExecResult is the outcome of a command executed through a Transport.
type ExecResult struct {
	// ExitStatus is the command's exit status. Zero means success.
	ExitStatus int

	// Stdout and Stderr are the captured output streams, trimmed.
	Stdout string
	Stderr string
}

// FileSpec describes the remote placement of a copied or templated file.
type FileSpec struct {
	// Path is the remote destination path.
	Path string

	// Mode is the file mode to set. Zero leaves the transport default.
	Mode fs.FileMode

	// Owner and Group set remote ownership when non-empty.
	Owner string
	Group string
}

// Transport is the narrow effectful collaborator the engine drives a host
// through. Implementations may run over SSH, a local shell, or anything
// else; the engine does not care. A transport error that means the host
// cannot be contacted must unwrap to ErrorClassTransportUnreachable.
type Transport interface {
	// Execute runs a command on the host and returns its exit status and
	// output. A non-zero exit status is not an error; failing to run the
	// command at all is.
	Execute(ctx context.Context, host Host, command string, sudo bool) (ExecResult, error)

	// Copy places the contents of a local file at spec.Path on the host.
	Copy(ctx context.Context, host Host, localPath string, spec FileSpec) error

	// WriteFile places literal content at spec.Path on the host. The engine
	// uses it for templated files, which are rendered before any operation
	// executes.
	WriteFile(ctx context.Context, host Host, content []byte, spec FileSpec) error

	// Close releases any connections held for the host.
	Close(host Host) error
}

// Inventory resolves an environment name to its hosts and group-scoped
// variable bindings.
type Inventory interface {
	// Hosts returns the hosts of the environment that belong to the group.
	Hosts(environment, group string) ([]Host, error)

	// GroupBindings returns the group-scoped bindings for the environment.
	GroupBindings(environment, group string) (Bindings, error)
}

// ReportSink receives completed fleet reports, e.g. for persistence.
type ReportSink interface {
	SaveFleetReport(ctx context.Context, report *FleetReport) error
}
