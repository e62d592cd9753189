// Package analyzer defines the port for launching and talking to a resident
// code analyzer process (nimsuggest).
package analyzer

import "context"

// Launcher spawns one analyzer process for a project root.
type Launcher interface {
	// Launch starts the analyzer and blocks until it signals readiness.
	// Errors wrap nimsuggest.ErrSpawn.
	Launch(ctx context.Context, root string) (Process, error)
}

// Process is a running analyzer. It serves one request at a time; callers
// must not call Send concurrently.
type Process interface {
	// Send writes one encoded request line and returns the raw response
	// lines without the end-of-response marker. A ctx deadline yields
	// nimsuggest.ErrTimeout; a closed channel yields nimsuggest.ErrProcessCrashed.
	Send(ctx context.Context, line string) ([]string, error)

	// Terminate asks the analyzer to quit and kills it if it does not.
	Terminate(ctx context.Context) error

	// Done is closed once the process has exited.
	Done() <-chan struct{}

	// PID returns the operating system process ID.
	PID() int
}
