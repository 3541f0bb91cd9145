// Package ipc provides the cross-process primitives shared by the supervisor
// and its worker: an AF_UNIX stream control channel that can carry an open
// file descriptor as ancillary data, and best-effort process-group
// termination used during abnormal supervisor shutdown.
//
// Descriptor transfer relies on SCM_RIGHTS and is therefore only available on
// unix platforms; elsewhere SendFD and RecvFD fail with ErrUnsupported and the
// supervisor cannot hand its standard input to a worker. Process-group
// delivery likewise depends on the kernel's job-control semantics: on unix the
// group kill signals every member of each child's process group, while on
// Windows only the direct child is terminated and grandchildren must be
// cleaned up by the caller.
package ipc
