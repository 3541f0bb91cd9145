// Package supervise implements the supervisor side of a reload session: the
// Worker wrapper around one spawned worker process and the Reloader loop that
// replaces it whenever the change signal raises.
package supervise

import (
	"context"
	"io"
	"time"

	"github.com/mrcljx/hupper/internal/ipc"
)

// Spec describes how to spawn a worker process.
type Spec struct {
	// Executable is the binary to run. Workers are normally the
	// supervisor's own binary re-executed with identical arguments.
	Executable string
	// Args are passed verbatim as argv[1:].
	Args []string
	// Env is the child environment. Nil inherits the parent environment.
	// The descriptor markers are appended either way.
	Env []string
	// Dir is the child working directory. Empty inherits the parent's.
	Dir string
	// Stdout and Stderr receive worker output. Nil falls back to the
	// supervisor's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Handle is a running worker as seen by the reload loop.
type Handle interface {
	// PID of the worker process.
	PID() int

	// Alive reports whether the process has not yet been reaped.
	Alive() bool

	// Terminate asks the worker's process group to shut down and marks the
	// worker as supervisor-terminated. Safe to call on a dead worker.
	// Forceful kills are not the loop's business; those go through the
	// session's process group on abnormal shutdown.
	Terminate()

	// Terminated reports whether Terminate was called.
	Terminated() bool

	// Join waits for the process to be reaped, then releases the worker's
	// resources. A zero timeout waits until ctx is done. Returning with the
	// worker still alive is not an error; callers re-check Alive.
	Join(ctx context.Context, timeout time.Duration) error

	// ExitCode is valid once Alive reports false. A worker ended by a
	// signal reports the negated signal number.
	ExitCode() int

	// Paths streams file paths the worker asked the session to watch. The
	// channel closes when the worker's report pipe reaches end of stream.
	Paths() <-chan string

	// Events surfaces the first control-channel condition: a reload
	// request, or the worker closing its end.
	Events() <-chan ipc.Event

	// Done closes once the process has been reaped.
	Done() <-chan struct{}
}

// Launcher creates workers. The process-backed implementation lives in this
// package; reload-loop tests substitute fakes.
type Launcher interface {
	Launch(spec Spec) (Handle, error)
}
