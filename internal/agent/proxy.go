package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Proxy is a worker's handle on its supervisor.
type Proxy struct {
	control controlChannel
	report  *os.File
	stdin   *os.File
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// controlChannel is the slice of ipc.Control the proxy needs. Tests substitute
// a recorder.
type controlChannel interface {
	RequestReload() error
	Close() error
}

// WatchFiles asks the supervisor to watch the given paths and restart the
// worker when any of them changes. Paths are made absolute before they cross
// the report pipe; the pipe is newline framed, so paths containing a newline
// are rejected.
func (p *Proxy) WatchFiles(paths ...string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for _, path := range paths {
		if path == "" {
			continue
		}
		if strings.ContainsRune(path, '\n') {
			return fmt.Errorf("watch %q: path contains a newline", path)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("watch %q: %w", path, err)
		}
		if _, err := p.report.Write([]byte(abs + "\n")); err != nil {
			return fmt.Errorf("watch %q: %w", path, err)
		}
	}
	return nil
}

// TriggerReload asks the supervisor to restart this worker. The supervisor
// tears the process group down shortly after, so callers should expect
// termination rather than a response.
func (p *Proxy) TriggerReload() error {
	return p.control.RequestReload()
}

// Done closes when the supervisor goes away. Workers that outlive their
// supervisor are orphans and should shut down.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}

// Stdin is the terminal descriptor handed over by the supervisor. Bootstrap
// also installs it as os.Stdin; the accessor exists for callers that wire it
// into a child process directly.
func (p *Proxy) Stdin() *os.File {
	return p.stdin
}

// Close detaches from the supervisor. Mostly useful in tests; a real worker
// holds the proxy for its whole lifetime.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		err := p.control.Close()
		if rerr := p.report.Close(); err == nil {
			err = rerr
		}
		p.closeErr = err
	})
	return p.closeErr
}
