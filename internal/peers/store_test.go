package peers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signumoasis/signum-node-go/internal/p2paddr"
)

func newTestStore(t *testing.T) *LevelStore {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addr(t *testing.T, s string) p2paddr.Address {
	t.Helper()
	a, err := p2paddr.Parse(s)
	require.NoError(t, err)
	return a
}

func TestCreatePeerIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	a := addr(t, "1.2.3.4:8123")

	created, err := s.CreatePeer(a)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreatePeer(a)
	require.NoError(t, err)
	assert.False(t, created, "duplicate insert must be silently ignored")
}

func TestUpdatePeerInfoResetsAttempts(t *testing.T) {
	s := newTestStore(t)
	a := addr(t, "1.2.3.4:8123")
	_, err := s.CreatePeer(a)
	require.NoError(t, err)
	require.NoError(t, s.IncrementAttemptsSinceLastSeen(a))
	require.NoError(t, s.IncrementAttemptsSinceLastSeen(a))

	before := time.Now()
	err = s.UpdatePeerInfo(a, "1.2.3.4", Info{Application: "BRS", Version: "3.8.0", Platform: "linux", ShareAddress: true, NetworkName: "Signum"})
	require.NoError(t, err)

	recs, err := s.RandomPeers(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint32(0), recs[0].AttemptsSinceLastSeen)
	require.NotNil(t, recs[0].LastSeen)
	assert.False(t, recs[0].LastSeen.Before(before))
}

// TestBlacklistDurationFormula is spec.md §8 property 3: the duration
// applied by the k-th blacklist event is min(10*k, 1440) minutes.
func TestBlacklistDurationFormula(t *testing.T) {
	s := newTestStore(t)
	a := addr(t, "1.2.3.4:8123")
	_, err := s.CreatePeer(a)
	require.NoError(t, err)

	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixedNow }

	for k := 1; k <= 3; k++ {
		require.NoError(t, s.Blacklist(a))
		rec, ok, err := s.get(a)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint32(k), rec.Blacklist.Count)
		wantMinutes := 10 * k
		assert.Equal(t, fixedNow.Add(time.Duration(wantMinutes)*time.Minute), *rec.Blacklist.Until)
		assert.True(t, rec.IsBlacklisted(fixedNow))
	}
}

// TestBlacklistDurationSaturates is the §8 boundary behavior: duration
// saturates at 1440 minutes after 144 events.
func TestBlacklistDurationSaturates(t *testing.T) {
	s := newTestStore(t)
	a := addr(t, "1.2.3.4:8123")
	_, err := s.CreatePeer(a)
	require.NoError(t, err)

	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixedNow }

	for k := 0; k < 144; k++ {
		require.NoError(t, s.Blacklist(a))
	}
	rec, ok, err := s.get(a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(144), rec.Blacklist.Count)
	assert.Equal(t, fixedNow.Add(blacklistCapMinutes*time.Minute), *rec.Blacklist.Until)

	// One more event stays capped, count keeps climbing (never decrements).
	require.NoError(t, s.Blacklist(a))
	rec, _, err = s.get(a)
	require.NoError(t, err)
	assert.Equal(t, uint32(145), rec.Blacklist.Count)
	assert.Equal(t, fixedNow.Add(blacklistCapMinutes*time.Minute), *rec.Blacklist.Until)
}

func TestDeblacklistResetsCount(t *testing.T) {
	s := newTestStore(t)
	a := addr(t, "1.2.3.4:8123")
	_, err := s.CreatePeer(a)
	require.NoError(t, err)
	require.NoError(t, s.Blacklist(a))
	require.NoError(t, s.Blacklist(a))

	require.NoError(t, s.Deblacklist(a))
	rec, ok, err := s.get(a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, rec.Blacklist.Until)
	assert.Equal(t, uint32(0), rec.Blacklist.Count, "count is reset by the explicit de-blacklist operation")
}

// TestRandomPeersExcludesBlacklisted is spec.md §8 property 6.
func TestRandomPeersExcludesBlacklisted(t *testing.T) {
	s := newTestStore(t)
	good := addr(t, "1.2.3.4:8123")
	bad := addr(t, "5.6.7.8:8123")
	_, err := s.CreatePeer(good)
	require.NoError(t, err)
	_, err = s.CreatePeer(bad)
	require.NoError(t, err)
	require.NoError(t, s.Blacklist(bad))

	for i := 0; i < 20; i++ {
		recs, err := s.RandomPeers(10)
		require.NoError(t, err)
		for _, r := range recs {
			assert.NotEqual(t, bad.String(), r.AnnouncedAddress)
		}
	}
}

func TestRandomPeerNoPeers(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RandomPeer()
	assert.ErrorIs(t, err, ErrNoPeers)
}

func TestPeersLastSeenBefore(t *testing.T) {
	s := newTestStore(t)
	stale := addr(t, "1.2.3.4:8123")
	fresh := addr(t, "5.6.7.8:8123")
	neverSeen := addr(t, "9.9.9.9:8123")

	for _, a := range []p2paddr.Address{stale, fresh, neverSeen} {
		_, err := s.CreatePeer(a)
		require.NoError(t, err)
	}

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.UpdatePeerInfo(stale, "1.2.3.4", Info{}))
	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.NoError(t, s.UpdatePeerInfo(fresh, "5.6.7.8", Info{}))

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	recs, err := s.PeersLastSeenBefore(60 * time.Second)
	require.NoError(t, err)

	var addrs []string
	for _, r := range recs {
		addrs = append(addrs, r.AnnouncedAddress)
	}
	assert.Contains(t, addrs, stale.String())
	assert.Contains(t, addrs, neverSeen.String())
	assert.NotContains(t, addrs, fresh.String())
}
