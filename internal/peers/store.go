package peers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/signumoasis/signum-node-go/internal/p2paddr"
)

// ErrNoPeers is returned by RandomPeer when no non-blacklisted peer exists.
var ErrNoPeers = errors.New("peers: no peers")

const blacklistBaseMinutes = 10
const blacklistCapMinutes = 1440

// Store is the PeerRegistry contract of spec.md §4.C. Every method is a
// single logical unit of work; multi-statement updates run inside a
// leveldb transaction so a crash mid-update never leaves a half-merged
// record.
type Store interface {
	CreatePeer(addr p2paddr.Address) (created bool, err error)
	UpdatePeerInfo(addr p2paddr.Address, ip string, info Info) error
	IncrementAttemptsSinceLastSeen(addr p2paddr.Address) error
	Blacklist(addr p2paddr.Address) error
	Deblacklist(addr p2paddr.Address) error
	RandomPeer() (Record, error)
	RandomPeers(n int) ([]Record, error)
	PeersLastSeenBefore(d time.Duration) ([]Record, error)
	Close() error
}

// LevelStore is the production Store, backed by goleveldb (the embedded
// KV engine the teacher's ethdb package wraps) under namespace "signum",
// table "peer". A small LRU absorbs repeated reads of hot records within
// a single worker tick.
type LevelStore struct {
	db    *leveldb.DB
	cache *lru.Cache
	now   func() time.Time
	log   log.Logger
}

// Open opens (creating if necessary) a LevelStore at path.
func Open(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("peers: opening leveldb at %q: %w", path, err)
	}
	cache, err := lru.New(1024)
	if err != nil {
		return nil, fmt.Errorf("peers: creating cache: %w", err)
	}
	return &LevelStore{
		db:    db,
		cache: cache,
		now:   time.Now,
		log:   log.New("component", "peers.Store"),
	}, nil
}

func (s *LevelStore) Close() error { return s.db.Close() }

func key(addr p2paddr.Address) []byte {
	return []byte("peer:" + addr.String())
}

func (s *LevelStore) get(addr p2paddr.Address) (Record, bool, error) {
	if v, ok := s.cache.Get(addr.String()); ok {
		return v.(Record), true, nil
	}
	raw, err := s.db.Get(key(addr), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("peers: get %q: %w", addr, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("peers: decoding %q: %w", addr, err)
	}
	return rec, true, nil
}

// CreatePeer idempotently inserts a bare record. A duplicate insert is
// silently treated as "already present" rather than an error, per §4.C.
func (s *LevelStore) CreatePeer(addr p2paddr.Address) (bool, error) {
	if _, ok := s.cache.Get(addr.String()); ok {
		return false, nil // cache says it's already present: unique-index violation swallowed
	}

	tx, err := s.db.OpenTransaction()
	if err != nil {
		return false, fmt.Errorf("peers: opening transaction: %w", err)
	}
	defer tx.Discard()

	_, err = tx.Get(key(addr), nil)
	if err == nil {
		return false, nil // already present: unique-index violation swallowed
	}
	if !errors.Is(err, leveldb.ErrNotFound) {
		return false, fmt.Errorf("peers: checking existence of %q: %w", addr, err)
	}

	rec := Record{AnnouncedAddress: addr.String()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("peers: encoding %q: %w", addr, err)
	}
	if err := tx.Put(key(addr), raw, nil); err != nil {
		return false, fmt.Errorf("peers: inserting %q: %w", addr, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("peers: committing insert of %q: %w", addr, err)
	}
	s.cache.Add(rec.AnnouncedAddress, rec)
	s.log.Debug("created peer", "peer", addr)
	return true, nil
}

// UpdatePeerInfo merges remote getInfo metadata into the record matching
// addr, creating it if absent. attempts_since_last_seen resets to 0 and
// last_seen advances to now().
func (s *LevelStore) UpdatePeerInfo(addr p2paddr.Address, ip string, info Info) error {
	tx, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("peers: opening transaction: %w", err)
	}
	defer tx.Discard()

	rec, err := s.getTx(tx, addr)
	if err != nil {
		return err
	}
	now := s.now()
	rec.AnnouncedAddress = addr.String()
	rec.IPAddress = ip
	rec.Application = info.Application
	rec.Version = info.Version
	rec.Platform = info.Platform
	rec.ShareAddress = info.ShareAddress
	rec.NetworkName = info.NetworkName
	rec.LastSeen = &now
	rec.AttemptsSinceLastSeen = 0

	if err := putTx(tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("peers: committing update of %q: %w", addr, err)
	}
	s.cache.Add(rec.AnnouncedAddress, rec)
	return nil
}

// IncrementAttemptsSinceLastSeen bumps the failed-contact counter.
func (s *LevelStore) IncrementAttemptsSinceLastSeen(addr p2paddr.Address) error {
	tx, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("peers: opening transaction: %w", err)
	}
	defer tx.Discard()

	rec, err := s.getTx(tx, addr)
	if err != nil {
		return err
	}
	rec.AttemptsSinceLastSeen++
	if err := putTx(tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("peers: committing attempt increment of %q: %w", addr, err)
	}
	s.cache.Add(rec.AnnouncedAddress, rec)
	return nil
}

// Blacklist applies the k-th blacklist duration: min(10*k, 1440) minutes,
// where k is the post-increment count. Atomic with respect to itself.
func (s *LevelStore) Blacklist(addr p2paddr.Address) error {
	tx, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("peers: opening transaction: %w", err)
	}
	defer tx.Discard()

	rec, err := s.getTx(tx, addr)
	if err != nil {
		return err
	}
	rec.Blacklist.Count++
	minutes := blacklistBaseMinutes * int(rec.Blacklist.Count)
	if minutes > blacklistCapMinutes {
		minutes = blacklistCapMinutes
	}
	until := s.now().Add(time.Duration(minutes) * time.Minute)
	rec.Blacklist.Until = &until

	if err := putTx(tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("peers: committing blacklist of %q: %w", addr, err)
	}
	s.cache.Add(rec.AnnouncedAddress, rec)
	s.log.Info("blacklisted peer", "peer", addr, "until", until, "count", rec.Blacklist.Count)
	return nil
}

// Deblacklist clears the active exclusion and resets Count to zero.
func (s *LevelStore) Deblacklist(addr p2paddr.Address) error {
	tx, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("peers: opening transaction: %w", err)
	}
	defer tx.Discard()

	rec, err := s.getTx(tx, addr)
	if err != nil {
		return err
	}
	rec.Blacklist.Count = 0
	rec.Blacklist.Until = nil

	if err := putTx(tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("peers: committing deblacklist of %q: %w", addr, err)
	}
	s.cache.Add(rec.AnnouncedAddress, rec)
	return nil
}

// RandomPeer returns one non-blacklisted record, uniformly at random.
func (s *LevelStore) RandomPeer() (Record, error) {
	recs, err := s.RandomPeers(1)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNoPeers
	}
	return recs[0], nil
}

// RandomPeers returns up to n distinct non-blacklisted records, uniformly
// sampled. LevelDB has no secondary index on blacklist state, so this
// scans the table, shuffles every eligible record in memory and returns
// the first n.
func (s *LevelStore) RandomPeers(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	now := s.now()
	var eligible []Record

	iter := s.db.NewIterator(util.BytesPrefix([]byte("peer:")), nil)
	defer iter.Release()
	for iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			s.log.Warn("skipping undecodable peer record", "err", err)
			continue
		}
		if !rec.IsBlacklisted(now) {
			eligible = append(eligible, rec)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("peers: scanning: %w", err)
	}

	rand.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
	if n > len(eligible) {
		n = len(eligible)
	}
	return eligible[:n], nil
}

// PeersLastSeenBefore returns all non-blacklisted records whose last_seen
// is null or older than now()-d.
func (s *LevelStore) PeersLastSeenBefore(d time.Duration) ([]Record, error) {
	now := s.now()
	cutoff := now.Add(-d)
	var stale []Record

	iter := s.db.NewIterator(util.BytesPrefix([]byte("peer:")), nil)
	defer iter.Release()
	for iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			s.log.Warn("skipping undecodable peer record", "err", err)
			continue
		}
		if rec.IsBlacklisted(now) {
			continue
		}
		if rec.LastSeen == nil || rec.LastSeen.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("peers: scanning: %w", err)
	}
	return stale, nil
}

// getTx reads the record matching addr for use inside a transactional
// read-modify-write. The cache is consulted first so a hot record
// doesn't cost a leveldb read on every worker tick that touches it;
// every writer below keeps the cache current via s.cache.Add, so a hit
// here is exactly as fresh as a transactional read would be.
func (s *LevelStore) getTx(tx *leveldb.Transaction, addr p2paddr.Address) (Record, error) {
	if v, ok := s.cache.Get(addr.String()); ok {
		return v.(Record), nil
	}

	raw, err := tx.Get(key(addr), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{AnnouncedAddress: addr.String()}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("peers: get %q: %w", addr, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("peers: decoding %q: %w", addr, err)
	}
	return rec, nil
}

func putTx(tx *leveldb.Transaction, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("peers: encoding %q: %w", rec.AnnouncedAddress, err)
	}
	if err := tx.Put([]byte("peer:"+rec.AnnouncedAddress), raw, nil); err != nil {
		return fmt.Errorf("peers: put %q: %w", rec.AnnouncedAddress, err)
	}
	return nil
}

var _ Store = (*LevelStore)(nil)
