//go:build unix

package ipc

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ControlPair creates a connected control channel. The first return value is
// the supervisor's endpoint; the second is the worker's end as a plain file
// suitable for exec.Cmd.ExtraFiles. Both descriptors are close-on-exec: the
// child end reaches the worker through the explicit ExtraFiles duplication,
// never through accidental inheritance.
func ControlPair() (*Control, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("control socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	supFile := os.NewFile(uintptr(fds[0]), "hupper-control-sup")
	conn, err := net.FileConn(supFile)
	// FileConn duplicated the descriptor; release our copy either way.
	supFile.Close()
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("control socketpair: %w", err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("control socketpair: unexpected conn type %T", conn)
	}

	child := os.NewFile(uintptr(fds[1]), "hupper-control")
	return &Control{conn: uc}, child, nil
}
