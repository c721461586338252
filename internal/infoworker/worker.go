// Package infoworker implements PeerInfoWorker (§4.E): periodically
// refreshes metadata of stale peers, fanning out one independent task per
// candidate with a capped concurrency to protect local sockets (§5).
package infoworker

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pborman/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/signumoasis/signum-node-go/internal/inforefresh"
	"github.com/signumoasis/signum-node-go/internal/p2paddr"
	"github.com/signumoasis/signum-node-go/internal/peers"
)

// Period is the 60s loop interval of §4.E.
const Period = 60 * time.Second

// StaleAfter is the staleness window passed to PeersLastSeenBefore.
const StaleAfter = 60 * time.Second

// MaxConcurrentRefreshes caps the worker's fan-out so a large stale set
// never opens unbounded sockets at once (§5 backpressure).
const MaxConcurrentRefreshes = 64

// Worker is PeerInfoWorker.
type Worker struct {
	Store  peers.Store
	Client inforefresh.Client
	Policy inforefresh.Policy

	sem *semaphore.Weighted
	log log.Logger
}

// New builds a Worker.
func New(store peers.Store, client inforefresh.Client, policy inforefresh.Policy) *Worker {
	return &Worker{
		Store:  store,
		Client: client,
		Policy: policy,
		sem:    semaphore.NewWeighted(MaxConcurrentRefreshes),
		log:    log.New("component", "infoworker.Worker"),
	}
}

// Run loops forever, sleeping Period between iterations, until ctx is
// canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		w.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(Period):
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	tickLog := w.log.New("tick", uuid.New())

	candidates, err := w.Store.PeersLastSeenBefore(StaleAfter)
	if err != nil {
		tickLog.Error("failed to list stale peers", "err", err)
		return
	}
	tickLog.Debug("refreshing stale peers", "count", len(candidates))

	for _, rec := range candidates {
		rec := rec
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return // context canceled; remaining candidates wait for next tick
		}
		go func() {
			defer w.sem.Release(1)
			addr, err := parseOrSkip(rec.AnnouncedAddress, tickLog)
			if err != nil {
				return
			}
			taskCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := inforefresh.Task(taskCtx, w.Store, w.Client, addr, w.Policy, tickLog); err != nil {
				tickLog.Warn("refresh task failed", "peer", addr, "err", err)
			}
		}()
	}
}

func parseOrSkip(raw string, tickLog log.Logger) (p2paddr.Address, error) {
	addr, err := p2paddr.Parse(raw)
	if err != nil {
		tickLog.Debug("skipping unparsable stored peer address", "raw", raw, "err", err)
		return p2paddr.Address{}, err
	}
	return addr, nil
}
