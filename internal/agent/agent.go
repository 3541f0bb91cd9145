// Package agent is the worker-process side of a reload session. A supervised
// process calls Bootstrap to pick up the control channel and report pipe it
// inherited, receive the real stdin descriptor, and obtain the Proxy used to
// register watched files or request its own restart.
package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/mrcljx/hupper/internal/ipc"
)

// ErrNotSupervised reports that the process was not started by a supervisor.
var ErrNotSupervised = errors.New("process is not supervised")

var (
	mu      sync.Mutex
	current *Proxy
)

// Supervised reports whether the environment carries the descriptor markers a
// supervisor sets for its worker.
func Supervised() bool {
	return os.Getenv(ipc.EnvControlFD) != "" && os.Getenv(ipc.EnvReportFD) != ""
}

// Current returns the proxy installed by Bootstrap, or nil.
func Current() *Proxy {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// Bootstrap attaches to the supervisor. It opens the inherited control
// channel, blocks until the stdin descriptor arrives, installs it as
// os.Stdin, and starts watching for the supervisor going away. Calling it
// again returns the already-installed proxy. In an unsupervised process it
// returns ErrNotSupervised.
func Bootstrap(log *slog.Logger) (*Proxy, error) {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return current, nil
	}
	if log == nil {
		log = slog.Default()
	}

	controlFD, reportFD, err := inheritedFDs()
	if err != nil {
		return nil, err
	}

	// Inherited descriptors survive exec without close-on-exec; mark the
	// report end so commands the worker spawns do not hold the pipe open.
	ipc.CloseOnExec(reportFD)
	report := os.NewFile(uintptr(reportFD), "hupper-report")

	controlFile := os.NewFile(uintptr(controlFD), "hupper-control")
	ctl, err := ipc.FromFile(controlFile)
	// The net package duplicated the descriptor; drop the raw wrapper either way.
	controlFile.Close()
	if err != nil {
		report.Close()
		return nil, err
	}

	stdin, err := ctl.RecvFD()
	if err != nil {
		ctl.Close()
		report.Close()
		return nil, fmt.Errorf("receive stdin: %w", err)
	}
	os.Stdin = stdin

	p := &Proxy{
		control: ctl,
		report:  report,
		stdin:   stdin,
		done:    make(chan struct{}),
	}
	go func() {
		// The supervisor never writes after the handoff, so the first
		// condition on the channel means it is gone.
		<-ctl.Events()
		log.Debug("control channel closed; supervisor is gone")
		close(p.done)
	}()

	current = p
	return p, nil
}

func inheritedFDs() (control, report int, err error) {
	controlEnv := os.Getenv(ipc.EnvControlFD)
	reportEnv := os.Getenv(ipc.EnvReportFD)
	if controlEnv == "" || reportEnv == "" {
		return 0, 0, ErrNotSupervised
	}
	control, err = strconv.Atoi(controlEnv)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %s: %w", ipc.EnvControlFD, err)
	}
	report, err = strconv.Atoi(reportEnv)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %s: %w", ipc.EnvReportFD, err)
	}
	if control < 0 || report < 0 {
		return 0, 0, fmt.Errorf("invalid inherited descriptors %d/%d", control, report)
	}
	return control, report, nil
}
