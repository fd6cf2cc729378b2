package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/pcarvalho/stackwizard/internal/gateway"
)

// errAbandoned is returned by the blocking wait when the orchestrator is
// disposed or the caller's context ends before a terminal status arrives.
var errAbandoned = errors.New("poll abandoned")

// awaitTerminal is the blocking poll shape: it queries the gateway on the
// wait interval until the run identified by seq reports a non-running status,
// turning an asynchronous stage into a synchronous step of the prepare
// sequence. Transient query errors are swallowed; statuses from other runs
// only refresh the displayed output and never resolve the wait.
func (o *Orchestrator) awaitTerminal(ctx context.Context, seq uint64) (*gateway.RunStatus, error) {
	ticker := time.NewTicker(o.waitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errAbandoned
		case <-o.done:
			return nil, errAbandoned
		case <-ticker.C:
			st, err := o.gw.Status(ctx)
			if err != nil {
				continue
			}

			o.mu.Lock()
			if o.disposed {
				o.mu.Unlock()
				return nil, errAbandoned
			}
			o.setStatusLocked(st)
			o.mu.Unlock()
			o.notify(ctx, st)

			if st.Seq == seq && !st.Running {
				return st, nil
			}
		}
	}
}

// watch is the non-blocking poll shape: it arms a ticker goroutine that
// publishes every observed status and, once the run identified by seq is
// terminal, stops itself and invokes onTerminal with the outcome. At most one
// watcher is live at a time; arming a new one tears the previous one down
// first. When strict is set a status query error is itself terminal.
func (o *Orchestrator) watch(interval time.Duration, seq uint64, strict bool, onTerminal func(st *gateway.RunStatus, ok bool)) {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.stopWatchLocked()
	stop := make(chan struct{})
	o.watchStop = stop
	o.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-o.done:
				return
			case <-ticker.C:
				st, err := o.gw.Status(context.Background())
				if err != nil {
					if strict {
						if o.takeWatch(stop) {
							onTerminal(nil, false)
						}
						return
					}
					continue
				}

				o.mu.Lock()
				if o.disposed {
					o.mu.Unlock()
					return
				}
				o.setStatusLocked(st)
				o.mu.Unlock()
				o.notify(context.Background(), st)

				if st.Seq == seq && !st.Running {
					if o.takeWatch(stop) {
						onTerminal(st, st.Success != nil && *st.Success)
					}
					return
				}
			}
		}
	}()
}

// stopWatchLocked tears down the live watcher, if any. Callers hold o.mu.
func (o *Orchestrator) stopWatchLocked() {
	if o.watchStop != nil {
		close(o.watchStop)
		o.watchStop = nil
	}
}

// takeWatch claims the terminal callback for the watcher identified by stop.
// It returns false when the watcher was already replaced or torn down, in
// which case its outcome must be dropped.
func (o *Orchestrator) takeWatch(stop chan struct{}) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.watchStop != stop {
		return false
	}
	o.watchStop = nil
	return true
}
