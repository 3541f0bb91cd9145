//go:build unix

package supervise

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// watchReloadSignal terminates the active worker when SIGHUP arrives; the
// loop observes the death as a forced restart. The returned stop function
// releases the subscription.
func (r *Reloader) watchReloadSignal(ctx context.Context) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGHUP)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				r.log.Info("received SIGHUP, triggering a reload")
				r.terminateCurrent()
			case <-quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(quit)
	}
}
