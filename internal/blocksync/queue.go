package blocksync

import (
	"context"

	"github.com/signumoasis/signum-node-go/internal/p2paddr"
	"github.com/signumoasis/signum-node-go/internal/peerclient"
)

// Job is a transient, in-memory download job (§3 DownloadJob). It never
// outlives the tick that created it.
type Job struct {
	Peer           p2paddr.Address
	StartHeight    uint64
	NumberOfBlocks uint32
	Retries        int
}

type jobResult struct {
	Blocks []peerclient.B1Block
	Err    error
}

// inflight pairs a Job with the channel its spawned fetch task will
// report to. The channel is buffered so the fetch goroutine never blocks
// on a queue slot that hasn't been awaited yet.
type inflight struct {
	job      Job
	resultCh chan jobResult
}

// fetchFunc performs one job's network fetch. It is a function, not a
// method, so tests can substitute deterministic behavior without a real
// PeerClient.
type fetchFunc func(ctx context.Context, job Job) ([]peerclient.B1Block, error)

// orderedQueue is the front-pop, front-push-on-retry work queue of §4.F
// Phase 4 / §9 "Long-lived queue ordering": an ordered queue, not an
// unordered join set, so retries never reorder deliveries.
type orderedQueue struct {
	items []*inflight
	fetch fetchFunc
}

func newOrderedQueue(fetch fetchFunc) *orderedQueue {
	return &orderedQueue{fetch: fetch}
}

// spawn launches job's fetch concurrently and appends it to the back of
// the queue.
func (q *orderedQueue) spawn(ctx context.Context, job Job) {
	infl := &inflight{job: job, resultCh: make(chan jobResult, 1)}
	go func() {
		blocks, err := q.fetch(ctx, job)
		infl.resultCh <- jobResult{Blocks: blocks, Err: err}
	}()
	q.items = append(q.items, infl)
}

// requeueFront re-spawns job and pushes it to the front of the queue,
// preserving contiguity after a failure.
func (q *orderedQueue) requeueFront(ctx context.Context, job Job) {
	infl := &inflight{job: job, resultCh: make(chan jobResult, 1)}
	go func() {
		blocks, err := q.fetch(ctx, job)
		infl.resultCh <- jobResult{Blocks: blocks, Err: err}
	}()
	q.items = append([]*inflight{infl}, q.items...)
}

func (q *orderedQueue) len() int { return len(q.items) }

// popFront awaits the front job's result and removes it from the queue.
func (q *orderedQueue) popFront() (Job, jobResult) {
	front := q.items[0]
	q.items = q.items[1:]
	return front.job, <-front.resultCh
}
