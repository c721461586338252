// Package discovery implements PeerDiscoveryWorker (§4.D): periodically
// asks a known peer for its peer list and inserts newly-seen addresses.
package discovery

import (
	"context"
	"math/rand"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pborman/uuid"

	"github.com/signumoasis/signum-node-go/internal/inforefresh"
	"github.com/signumoasis/signum-node-go/internal/p2paddr"
	"github.com/signumoasis/signum-node-go/internal/peerclient"
	"github.com/signumoasis/signum-node-go/internal/peers"
)

// Period is the 60s loop interval of §4.D, measured after each iteration
// completes.
const Period = 60 * time.Second

// Client is the subset of *peerclient.Client the worker needs.
type Client interface {
	GetPeers(ctx context.Context, peer p2paddr.Address) ([]string, error)
	inforefresh.Client
}

// Worker is PeerDiscoveryWorker.
type Worker struct {
	Store          peers.Store
	Client         Client
	BootstrapPeers []string
	Policy         inforefresh.Policy

	log log.Logger
}

// New builds a Worker. bootstrapPeers must be non-empty when the
// registry starts out empty (§4.D / §8 boundary behavior) — that check
// is the caller's (startup's) responsibility, not this constructor's.
func New(store peers.Store, client Client, bootstrapPeers []string, policy inforefresh.Policy) *Worker {
	return &Worker{
		Store:          store,
		Client:         client,
		BootstrapPeers: bootstrapPeers,
		Policy:         policy,
		log:            log.New("component", "discovery.Worker"),
	}
}

// Run loops forever, sleeping Period between iterations, until ctx is
// canceled. The supervisor treats a returned error as this worker's
// terminal cause (§5).
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

	peer, err := w.pickPeer()
	if err != nil {
		tickLog.Error("could not pick a peer to query", "err", err)
		return
	}

	remoteAddrs, err := w.Client.GetPeers(ctx, peer)
	if err != nil {
		tickLog.Info("peer did not answer getPeers, trying again next tick", "peer", peer, "err", err)
		return
	}

	// A peer's getPeers response is free-form text we don't control, and
	// has been observed to repeat entries; dedup within this tick so a
	// single chatty response can't fan out duplicate refresh goroutines.
	seen := mapset.NewSet()
	newPeersCount := 0
	for _, raw := range remoteAddrs {
		addr, err := p2paddr.Parse(raw)
		if err != nil {
			tickLog.Debug("skipping unparsable peer address", "raw", raw, "err", err)
			continue
		}
		if !seen.Add(addr.String()) {
			continue
		}
		created, err := w.Store.CreatePeer(addr)
		if err != nil {
			tickLog.Warn("failed to create peer", "peer", addr, "err", err)
			continue
		}
		if created {
			newPeersCount++
			// Refresh asynchronously: the returned list can be large,
			// and doing this inline would leave the 60s tick unbounded
			// (§4.D rationale).
			go func(addr p2paddr.Address) {
				refreshCtx, cancel := context.WithTimeout(context.Background(), peerclient.DefaultTimeout*4)
				defer cancel()
				_ = inforefresh.Task(refreshCtx, w.Store, w.Client, addr, w.Policy, tickLog)
			}(addr)
		}
	}
	tickLog.Info("discovery tick complete", "queried_peer", peer, "new_peers_count", newPeersCount, "returned", len(remoteAddrs))
}

// pickPeer implements §4.D step 1: a random known peer, falling back to
// a uniformly random bootstrap address when the registry has none yet.
// §9's open question ("bootstrap peer selection strategy") is resolved
// here as uniform random, per the spec's normative choice.
func (w *Worker) pickPeer() (p2paddr.Address, error) {
	rec, err := w.Store.RandomPeer()
	if err == nil {
		return p2paddr.Parse(rec.AnnouncedAddress)
	}
	if len(w.BootstrapPeers) == 0 {
		return p2paddr.Address{}, err
	}
	raw := w.BootstrapPeers[rand.Intn(len(w.BootstrapPeers))]
	return p2paddr.Parse(raw)
}
