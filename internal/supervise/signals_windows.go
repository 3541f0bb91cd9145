//go:build windows

package supervise

import "context"

// Windows delivers no SIGHUP; reloads come only from file changes and worker
// requests there.
func (r *Reloader) watchReloadSignal(context.Context) func() {
	return func() {}
}
