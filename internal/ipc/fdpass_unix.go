//go:build unix

package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// descriptorMarker is the single data byte that accompanies the rights
// payload; several platforms refuse ancillary-only messages.
const descriptorMarker byte = 0x00

// SendFD transmits an open descriptor to the process identified by pid over
// the control channel as SCM_RIGHTS ancillary data. Exactly one send must
// correspond to exactly one RecvFD on the peer, in order, with no
// acknowledgement. The pid is part of the contract for platforms that
// duplicate handles by target process; the unix path does not consult it.
func (c *Control) SendFD(fd int, pid int) error {
	if fd < 0 {
		return fmt.Errorf("send descriptor to pid %d: invalid fd %d", pid, fd)
	}
	rights := unix.UnixRights(fd)
	if _, _, err := c.conn.WriteMsgUnix([]byte{descriptorMarker}, rights, nil); err != nil {
		return fmt.Errorf("send descriptor to pid %d: %w", pid, err)
	}
	return nil
}

// RecvFD blocks until a descriptor arrives on the control channel and returns
// it as an open file. It fails with ErrChannelClosed if the peer closes the
// channel first, which a worker reads as "the supervisor died before the
// handoff".
func (c *Control) RecvFD() (*os.File, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, ErrChannelClosed
		}
		return nil, fmt.Errorf("receive descriptor: %w", err)
	}
	if n == 0 && oobn == 0 {
		return nil, ErrChannelClosed
	}
	if oobn == 0 {
		return nil, fmt.Errorf("receive descriptor: message carried no ancillary data")
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("receive descriptor: parse control message: %w", err)
	}
	if len(msgs) != 1 {
		return nil, fmt.Errorf("receive descriptor: expected 1 control message, got %d", len(msgs))
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return nil, fmt.Errorf("receive descriptor: parse rights: %w", err)
	}
	if len(fds) != 1 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return nil, fmt.Errorf("receive descriptor: expected 1 descriptor, got %d", len(fds))
	}

	unix.CloseOnExec(fds[0])
	return os.NewFile(uintptr(fds[0]), "hupper-stdin"), nil
}

// Dup duplicates fd with close-on-exec set, returning the new descriptor. The
// supervisor uses it to copy its standard input before a handoff so the
// original stays usable after the worker exits.
func Dup(fd int) (int, error) {
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("dup fd %d: %w", fd, err)
	}
	return dup, nil
}

// CloseFD releases a raw descriptor, ignoring already-closed errors so the
// cleanup path stays idempotent.
func CloseFD(fd int) {
	if fd < 0 {
		return
	}
	_ = unix.Close(fd)
}

// CloseOnExec marks fd close-on-exec so processes spawned later do not
// inherit it.
func CloseOnExec(fd int) {
	if fd < 0 {
		return
	}
	unix.CloseOnExec(fd)
}
