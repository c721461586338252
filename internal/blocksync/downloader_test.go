package blocksync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signumoasis/signum-node-go/internal/p2paddr"
	"github.com/signumoasis/signum-node-go/internal/peerclient"
	"github.com/signumoasis/signum-node-go/internal/peers"
)

// fakeStore implements peers.Store with an in-memory, unblacklisted set
// of records; only RandomPeers is exercised by the downloader.
type fakeStore struct {
	records []peers.Record
}

func (f *fakeStore) CreatePeer(p2paddr.Address) (bool, error) { return false, nil }
func (f *fakeStore) UpdatePeerInfo(p2paddr.Address, string, peers.Info) error { return nil }
func (f *fakeStore) IncrementAttemptsSinceLastSeen(p2paddr.Address) error { return nil }
func (f *fakeStore) Blacklist(p2paddr.Address) error   { return nil }
func (f *fakeStore) Deblacklist(p2paddr.Address) error { return nil }
func (f *fakeStore) RandomPeer() (peers.Record, error) {
	if len(f.records) == 0 {
		return peers.Record{}, peers.ErrNoPeers
	}
	return f.records[0], nil
}
func (f *fakeStore) RandomPeers(n int) ([]peers.Record, error) {
	if n > len(f.records) {
		n = len(f.records)
	}
	return append([]peers.Record(nil), f.records[:n]...), nil
}
func (f *fakeStore) PeersLastSeenBefore(time.Duration) ([]peers.Record, error) { return nil, nil }
func (f *fakeStore) Close() error                                             { return nil }

var _ peers.Store = (*fakeStore)(nil)

func recordsFor(addrs ...string) []peers.Record {
	var out []peers.Record
	for _, a := range addrs {
		out = append(out, peers.Record{AnnouncedAddress: a})
	}
	return out
}

// fakeClient answers getCumulativeDifficulty from a fixed map and
// getBlocksFromHeight via an injectable function, so tests can script
// failures for retry-escalation scenarios.
type fakeClient struct {
	mu sync.Mutex

	difficulties map[string]string
	failDiff     map[string]bool

	fetch func(peer p2paddr.Address, height uint64, numBlocks uint32) ([]peerclient.B1Block, error)
}

func (f *fakeClient) GetCumulativeDifficulty(ctx context.Context, peer p2paddr.Address) (string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDiff[peer.String()] {
		return "", 0, fmt.Errorf("simulated failure")
	}
	return f.difficulties[peer.String()], 1000, nil
}

func (f *fakeClient) GetBlocksFromHeight(ctx context.Context, peer p2paddr.Address, timeout time.Duration, height uint64, numBlocks uint32) ([]peerclient.B1Block, error) {
	return f.fetch(peer, height, numBlocks)
}

// recordingIngestor captures the order and heights of delivered batches.
type recordingIngestor struct {
	mu      sync.Mutex
	heights []uint64
}

func (r *recordingIngestor) SuggestNextHeight(ctx context.Context) (uint64, error) { return 0, nil }
func (r *recordingIngestor) IngestBlocks(ctx context.Context, startHeight uint64, blocks []peerclient.B1Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heights = append(r.heights, startHeight)
	return nil
}

// TestTickNoConsensusOnTie is spec.md §8 S3: a tie at the top ("100" and
// "200" twice each) makes the tick exit without issuing any
// getBlocksFromHeight request.
func TestTickNoConsensusOnTie(t *testing.T) {
	store := &fakeStore{records: recordsFor("p1:8123", "p2:8123", "p3:8123", "p4:8123", "p5:8123")}
	client := &fakeClient{difficulties: map[string]string{
		"p1:8123": "100", "p2:8123": "100",
		"p3:8123": "200", "p4:8123": "200",
		"p5:8123": "300",
	}, fetch: func(peer p2paddr.Address, height uint64, numBlocks uint32) ([]peerclient.B1Block, error) {
		t.Fatal("no download request should have been issued")
		return nil, nil
	}}
	ingestor := &recordingIngestor{}

	d := New(store, client, ingestor)
	err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ingestor.heights)
}

// TestTickConsensusWinnerDeliversInOrder is spec.md §8 S4: peers agreeing
// on the mode become download peers, and batches arrive strictly
// ascending in start_height.
func TestTickConsensusWinnerDeliversInOrder(t *testing.T) {
	store := &fakeStore{records: recordsFor("p1:8123", "p2:8123", "p3:8123", "p4:8123", "p5:8123")}
	client := &fakeClient{difficulties: map[string]string{
		"p1:8123": "500", "p2:8123": "500",
		"p3:8123": "500", "p4:8123": "600",
		"p5:8123": "400",
	}, fetch: func(peer p2paddr.Address, height uint64, numBlocks uint32) ([]peerclient.B1Block, error) {
		// Later-queued (higher start_height) jobs finish first, so the
		// test actually exercises head-of-line ordering rather than
		// happening to match completion order.
		delay := time.Duration(30-int64(height)) * time.Millisecond
		time.Sleep(delay)
		return []peerclient.B1Block{{}}, nil
	}}
	ingestor := &recordingIngestor{}

	d := New(store, client, ingestor)
	err := d.Tick(context.Background())
	require.NoError(t, err)

	require.Len(t, ingestor.heights, 3, "only the three peers reporting 500 should be queried")
	for i := 1; i < len(ingestor.heights); i++ {
		assert.Greater(t, ingestor.heights[i], ingestor.heights[i-1], "heights must be strictly ascending")
	}
}

// TestTickRetryEscalationAbortsAfterThreeFailures is spec.md §8 S5.
func TestTickRetryEscalationAbortsAfterThreeFailures(t *testing.T) {
	store := &fakeStore{records: recordsFor("p1:8123")}
	client := &fakeClient{
		difficulties: map[string]string{"p1:8123": "500"},
		fetch: func(peer p2paddr.Address, height uint64, numBlocks uint32) ([]peerclient.B1Block, error) {
			return nil, fmt.Errorf("simulated timeout")
		},
	}
	ingestor := &recordingIngestor{}

	d := New(store, client, ingestor)
	err := d.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExceeded)
	assert.Empty(t, ingestor.heights)
}

func TestTickNoPeersSampled(t *testing.T) {
	store := &fakeStore{}
	client := &fakeClient{difficulties: map[string]string{}}
	ingestor := &recordingIngestor{}

	d := New(store, client, ingestor)
	err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ingestor.heights)
}

func TestCanonicalDifficultyNormalizesFormatting(t *testing.T) {
	a, err := canonicalDifficulty("500")
	require.NoError(t, err)
	b, err := canonicalDifficulty("500.0")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
