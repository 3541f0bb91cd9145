//go:build !unix

package ipc

import "os"

// ControlPair fails on platforms without unix socketpairs; supervision is not
// available there.
func ControlPair() (*Control, *os.File, error) {
	return nil, nil, ErrUnsupported
}

// SendFD fails: no native descriptor-transfer mechanism exists here.
func (c *Control) SendFD(fd int, pid int) error {
	return ErrUnsupported
}

// RecvFD fails: no native descriptor-transfer mechanism exists here.
func (c *Control) RecvFD() (*os.File, error) {
	return nil, ErrUnsupported
}

// Dup fails on unsupported platforms.
func Dup(fd int) (int, error) {
	return -1, ErrUnsupported
}

// CloseFD is a no-op on unsupported platforms.
func CloseFD(fd int) {}

// CloseOnExec is a no-op on unsupported platforms.
func CloseOnExec(fd int) {}
