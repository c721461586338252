package infoworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signumoasis/signum-node-go/internal/inforefresh"
	"github.com/signumoasis/signum-node-go/internal/p2paddr"
	"github.com/signumoasis/signum-node-go/internal/peerclient"
	"github.com/signumoasis/signum-node-go/internal/peers"
)

type fakeStore struct {
	mu      sync.Mutex
	stale   []peers.Record
	updated map[string]peers.Info
}

func (f *fakeStore) CreatePeer(p2paddr.Address) (bool, error) { return false, nil }
func (f *fakeStore) UpdatePeerInfo(addr p2paddr.Address, ip string, info peers.Info) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[addr.String()] = info
	return nil
}
func (f *fakeStore) IncrementAttemptsSinceLastSeen(p2paddr.Address) error { return nil }
func (f *fakeStore) Blacklist(p2paddr.Address) error                     { return nil }
func (f *fakeStore) Deblacklist(p2paddr.Address) error                   { return nil }
func (f *fakeStore) RandomPeer() (peers.Record, error)                  { return peers.Record{}, peers.ErrNoPeers }
func (f *fakeStore) RandomPeers(int) ([]peers.Record, error)            { return nil, nil }
func (f *fakeStore) PeersLastSeenBefore(time.Duration) ([]peers.Record, error) {
	return f.stale, nil
}
func (f *fakeStore) Close() error { return nil }

var _ peers.Store = (*fakeStore)(nil)

type fakeClient struct{}

func (fakeClient) GetInfo(ctx context.Context, peer p2paddr.Address) (peerclient.GetInfoResponse, string, error) {
	return peerclient.GetInfoResponse{Application: "BRS", NetworkName: "Signum"}, peer.Host(), nil
}

func TestTickRefreshesAllStaleCandidates(t *testing.T) {
	store := &fakeStore{updated: map[string]peers.Info{}}
	for _, a := range []string{"1.1.1.1:8123", "2.2.2.2:8123", "3.3.3.3:8123"} {
		store.stale = append(store.stale, peers.Record{AnnouncedAddress: a})
	}

	w := New(store, fakeClient{}, inforefresh.Policy{LocalNetworkName: "Signum"})
	w.tick(context.Background())

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.updated) == 3
	}, time.Second, time.Millisecond)
}

func TestTickSkipsUnparsableAddress(t *testing.T) {
	store := &fakeStore{updated: map[string]peers.Info{}, stale: []peers.Record{{AnnouncedAddress: "[:::1]"}}}
	w := New(store, fakeClient{}, inforefresh.Policy{})
	w.tick(context.Background())

	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.updated)
}
