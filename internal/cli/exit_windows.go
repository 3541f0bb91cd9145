//go:build !unix

package cli

import "os"

func forwardStatus(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	return state.ExitCode()
}
