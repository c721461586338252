// Package blocksync implements BlockDownloader (§4.F): a majority-
// consensus selection of a target cumulative difficulty, fan-out of
// concurrent fetches against agreeing peers, and an ordered work queue
// with bounded retries that preserves chain contiguity.
package blocksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pborman/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/signumoasis/signum-node-go/internal/mclock"
	"github.com/signumoasis/signum-node-go/internal/p2paddr"
	"github.com/signumoasis/signum-node-go/internal/peerclient"
	"github.com/signumoasis/signum-node-go/internal/peers"
)

// Tunables from §4.F. The batch size and block-fetch timeout are only
// defaults: New copies them into the exported Downloader fields, which a
// caller may override after construction.
const (
	SampleSize                 = 15
	MaxInflight                = 8
	DefaultBatchSize           = 10
	MaxRetries                 = 3
	CumulativeDifficultyDeadline = 2 * time.Second
	DefaultBlockFetchTimeout    = 10 * time.Second
	TickPeriod                  = 60 * time.Second
)

// ErrNoConsensus means the sampled cohort's cumulative-difficulty
// observations had no strict mode (empty set or a tie at the top). It is
// not an error condition per §7 — the tick simply exits and the next
// tick resamples.
var ErrNoConsensus = errors.New("blocksync: no consensus on cumulative difficulty")

// ErrRetriesExceeded aborts the whole tick because a job's retry budget
// is spent and the current consensus target may have drifted (§4.F).
var ErrRetriesExceeded = errors.New("blocksync: job exceeded retry budget")

// peerClient is the subset of *peerclient.Client the downloader needs,
// accepted as an interface so ticks can be tested without a live HTTP
// transport.
type peerClient interface {
	GetCumulativeDifficulty(ctx context.Context, peer p2paddr.Address) (string, uint64, error)
	GetBlocksFromHeight(ctx context.Context, peer p2paddr.Address, timeout time.Duration, height uint64, numBlocks uint32) ([]peerclient.B1Block, error)
}

// Downloader runs one BlockDownloader tick at a time. It holds no state
// across ticks: in-memory caches built during a tick never escape it.
type Downloader struct {
	Store    peers.Store
	Client   peerClient
	Ingestor BlockIngestor

	BatchSize         uint32
	BlockFetchTimeout time.Duration

	log log.Logger
}

// New builds a Downloader with spec defaults. Override BatchSize /
// BlockFetchTimeout after construction to retune.
func New(store peers.Store, client peerClient, ingestor BlockIngestor) *Downloader {
	return &Downloader{
		Store:             store,
		Client:            client,
		Ingestor:          ingestor,
		BatchSize:         DefaultBatchSize,
		BlockFetchTimeout: DefaultBlockFetchTimeout,
		log:               log.New("component", "blocksync.Downloader"),
	}
}

// Tick runs one independent sync attempt: sample, consensus, filter,
// ordered fetch. No consensus is not an error: Tick returns nil. A
// returned error means the tick aborted, either because a job exceeded
// its retry budget (ErrRetriesExceeded) or because sampling peers,
// suggesting the next height or ingesting a batch failed; the caller
// should simply wait for the next tick (§5, §7).
func (d *Downloader) Tick(ctx context.Context) error {
	tickID := uuid.New()
	tickLog := log.New("component", "blocksync.Downloader", "tick", tickID)
	start := mclock.Now()
	defer func() {
		tickLog.Debug("tick finished", "elapsed", mclock.Now().Sub(start))
	}()

	// Phase 1: sample.
	sampled, err := d.Store.RandomPeers(SampleSize)
	if err != nil {
		return fmt.Errorf("blocksync: sampling peers: %w", err)
	}
	if len(sampled) == 0 {
		tickLog.Warn("no peers available to sample")
		return nil
	}

	// Phase 2: consensus on target.
	target, observations, err := d.consensus(ctx, tickLog, sampled)
	if err != nil {
		if errors.Is(err, ErrNoConsensus) {
			tickLog.Info("no consensus this tick", "observed", len(observations))
			return nil
		}
		return err
	}
	tickLog.Info("consensus reached", "target_cumulative_difficulty", target, "agreeing_peers", len(observations))

	// Phase 3: filter peers.
	var downloadPeers []p2paddr.Address
	for _, obs := range observations {
		if obs.canonical == target {
			downloadPeers = append(downloadPeers, obs.peer)
		}
	}
	if len(downloadPeers) == 0 {
		// Can't happen given how target is derived, but guard anyway.
		return nil
	}

	startHeight, err := d.Ingestor.SuggestNextHeight(ctx)
	if err != nil {
		return fmt.Errorf("blocksync: suggesting next height: %w", err)
	}

	return d.fetchOrdered(ctx, tickLog, downloadPeers, startHeight)
}

type observation struct {
	peer      p2paddr.Address
	canonical string
}

// consensus implements Phase 2: concurrently query each sampled peer's
// cumulative difficulty under a tight deadline, then compute the
// statistical mode of the observed values.
func (d *Downloader) consensus(ctx context.Context, tickLog log.Logger, sampled []peers.Record) (string, []observation, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]*observation, len(sampled))

	for i, rec := range sampled {
		i, rec := i, rec
		g.Go(func() error {
			addr, err := p2paddr.Parse(rec.AnnouncedAddress)
			if err != nil {
				tickLog.Warn("skipping peer with unparsable address", "peer", rec.AnnouncedAddress, "err", err)
				return nil
			}
			cctx, cancel := context.WithTimeout(gctx, CumulativeDifficultyDeadline)
			defer cancel()

			raw, _, err := d.Client.GetCumulativeDifficulty(cctx, addr)
			if err != nil {
				tickLog.Debug("peer did not answer getCumulativeDifficulty", "peer", addr, "err", err)
				return nil
			}
			canon, err := canonicalDifficulty(raw)
			if err != nil {
				tickLog.Debug("peer returned unparsable cumulative difficulty", "peer", addr, "value", raw, "err", err)
				return nil
			}
			results[i] = &observation{peer: addr, canonical: canon}
			return nil
		})
	}
	// Phase 2 only collects observations; a single peer's transport
	// error never fails the group (errors are swallowed above), so this
	// Wait only ever returns nil.
	_ = g.Wait()

	var observations []observation
	var values []string
	for _, r := range results {
		if r == nil {
			continue
		}
		observations = append(observations, *r)
		values = append(values, r.canonical)
	}

	target, ok := mode(values)
	if !ok {
		return "", observations, ErrNoConsensus
	}
	return target, observations, nil
}

// canonicalDifficulty parses the wire's decimal-string cumulative
// difficulty into a canonical big-integer string so that equal values
// compare equal regardless of formatting ("500" vs "500.0").
func canonicalDifficulty(raw string) (string, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", raw, err)
	}
	return d.BigInt().String(), nil
}

// fetchOrdered implements Phase 4: an ordered queue of up to MaxInflight
// jobs, processed strictly in insertion order with front-push retry.
func (d *Downloader) fetchOrdered(ctx context.Context, tickLog log.Logger, downloadPeers []p2paddr.Address, startHeight uint64) error {
	seen := mapset.NewSet()
	queue := newOrderedQueue(func(ctx context.Context, job Job) ([]peerclient.B1Block, error) {
		return d.Client.GetBlocksFromHeight(ctx, job.Peer, d.BlockFetchTimeout, job.StartHeight, job.NumberOfBlocks)
	})

	nextHeight := startHeight
	queued := 0
	for _, peer := range downloadPeers {
		if queued >= MaxInflight {
			break
		}
		if seen.Contains(peer.String()) {
			continue
		}
		seen.Add(peer.String())

		job := Job{Peer: peer, StartHeight: nextHeight, NumberOfBlocks: d.BatchSize}
		queue.spawn(ctx, job)
		nextHeight += uint64(d.BatchSize)
		queued++
	}

	var lastDelivered uint64
	haveDelivered := false
	for queue.len() > 0 {
		job, res := queue.popFront()
		if res.Err != nil {
			job.Retries++
			if job.Retries > MaxRetries {
				tickLog.Error("job exceeded retry budget, aborting tick", "peer", job.Peer, "start_height", job.StartHeight, "err", res.Err)
				return fmt.Errorf("%w: peer %s height %d: %v", ErrRetriesExceeded, job.Peer, job.StartHeight, res.Err)
			}
			tickLog.Warn("job failed, requeueing at front", "peer", job.Peer, "start_height", job.StartHeight, "retries", job.Retries, "err", res.Err)
			queue.requeueFront(ctx, job)
			continue
		}

		if haveDelivered && job.StartHeight <= lastDelivered {
			return fmt.Errorf("blocksync: internal invariant violated: start_height %d did not increase past %d", job.StartHeight, lastDelivered)
		}

		if err := d.Ingestor.IngestBlocks(ctx, job.StartHeight, res.Blocks); err != nil {
			return fmt.Errorf("blocksync: ingesting batch at height %d: %w", job.StartHeight, err)
		}
		lastDelivered = job.StartHeight
		haveDelivered = true
	}
	return nil
}
