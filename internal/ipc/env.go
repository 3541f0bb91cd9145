package ipc

// Environment markers through which a supervisor announces inherited
// descriptor numbers to its worker. Their presence is how a process knows it
// is supervised.
const (
	EnvControlFD = "HUPPER_CONTROL_FD"
	EnvReportFD  = "HUPPER_REPORT_FD"
)
