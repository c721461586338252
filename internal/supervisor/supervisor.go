// Package supervisor implements the control-flow policy of §5: the
// core's workers run concurrently and independently; if any one of them
// terminates, the whole node shuts down rather than silently continuing
// with a dead worker. Restart policy, if any, belongs to an external
// process supervisor (systemd, k8s), not this core.
package supervisor

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
)

// Runner is anything the supervisor can run to completion or
// cancellation. Run must return promptly once ctx is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// Named pairs a Runner with the label it should be logged under.
type Named struct {
	Name   string
	Runner Runner
}

type exit struct {
	name string
	err  error
}

// Run starts every runner concurrently. As soon as any one of them
// returns — for any reason, including a clean nil exit — the shared
// context is canceled so the rest shut down too, and Run returns once
// all of them have. The first worker to exit determines the returned
// error: a terminating worker does not automatically restart, even if
// it exited cleanly.
func Run(ctx context.Context, runners ...Named) error {
	sup := log.New("component", "supervisor")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exits := make(chan exit, len(runners))
	for _, n := range runners {
		n := n
		go func() {
			exits <- exit{name: n.Name, err: n.Runner.Run(ctx)}
		}()
	}

	first := <-exits
	if first.err != nil {
		sup.Error("worker terminated with error; shutting down", "worker", first.name, "err", first.err)
	} else {
		sup.Warn("worker terminated; shutting down", "worker", first.name)
	}
	cancel()

	for i := 1; i < len(runners); i++ {
		<-exits
	}
	return first.err
}
