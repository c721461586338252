// Package inforefresh implements the single per-peer info-refresh routine
// of spec.md §4.E. PeerInfoWorker invokes it on a schedule for stale
// peers; PeerDiscoveryWorker invokes the same routine ad-hoc, once, for
// every peer it newly creates.
package inforefresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/signumoasis/signum-node-go/internal/p2paddr"
	"github.com/signumoasis/signum-node-go/internal/peerclient"
	"github.com/signumoasis/signum-node-go/internal/peers"
)

// Client is the subset of *peerclient.Client the refresh routine needs.
type Client interface {
	GetInfo(ctx context.Context, peer p2paddr.Address) (peerclient.GetInfoResponse, string, error)
}

// Policy controls the §12.1 cross-network handling knob: by default a
// mismatched networkName is accepted but recorded (spec.md §8 S6); set
// RejectCrossNetworkPeers to blacklist it like a protocol violation
// instead.
type Policy struct {
	LocalNetworkName        string
	RejectCrossNetworkPeers bool
}

// Task runs one info-refresh attempt against addr and applies the §4.E
// policy table to the outcome. Each policy step tolerates a failure in
// its own second sub-step (e.g. blacklist failing after increment
// succeeded) by logging, per §7 — partial progress is acceptable because
// each step is individually meaningful.
func Task(ctx context.Context, store peers.Store, client Client, addr p2paddr.Address, policy Policy, taskLog log.Logger) error {
	if taskLog == nil {
		taskLog = log.New("component", "inforefresh")
	}
	taskLog = taskLog.New("peer", addr.String())

	info, ip, err := client.GetInfo(ctx, addr)
	if err == nil {
		if policy.RejectCrossNetworkPeers && policy.LocalNetworkName != "" &&
			info.NetworkName != "" && info.NetworkName != policy.LocalNetworkName {
			taskLog.Warn("peer reported a foreign network, blacklisting", "network", info.NetworkName, "local_network", policy.LocalNetworkName)
			if bErr := store.Blacklist(addr); bErr != nil {
				taskLog.Error("failed to blacklist cross-network peer", "err", bErr)
			}
			return nil
		}
		if info.NetworkName != "" && info.NetworkName != policy.LocalNetworkName {
			taskLog.Info("peer reported a different network than ours; recording anyway", "network", info.NetworkName, "local_network", policy.LocalNetworkName)
		}

		if uErr := store.UpdatePeerInfo(addr, ip, peers.Info{
			Application:  info.Application,
			Version:      info.Version,
			Platform:     info.Platform,
			ShareAddress: info.ShareAddress,
			NetworkName:  info.NetworkName,
		}); uErr != nil {
			return fmt.Errorf("updating peer info for %s: %w", addr, uErr)
		}
		// Deliberately NOT deblacklisting here: a peer that serves info
		// but bad blocks should stay blacklisted (§4.E, §9).
		return nil
	}

	var cerr *peerclient.Error
	if !errors.As(err, &cerr) {
		taskLog.Warn("unclassified error refreshing peer info", "err", err)
		if iErr := store.IncrementAttemptsSinceLastSeen(addr); iErr != nil {
			taskLog.Error("failed to record failed attempt", "err", iErr)
		}
		return nil
	}

	switch cerr.Kind {
	case peerclient.KindConnectionError:
		taskLog.Info("peer unreachable, blacklisting", "err", cerr)
		if iErr := store.IncrementAttemptsSinceLastSeen(addr); iErr != nil {
			taskLog.Error("failed to record failed attempt", "err", iErr)
		}
		if bErr := store.Blacklist(addr); bErr != nil {
			taskLog.Error("failed to blacklist unreachable peer", "err", bErr)
		}
	case peerclient.KindConnectionTimeout:
		taskLog.Debug("peer timed out", "err", cerr)
		if iErr := store.IncrementAttemptsSinceLastSeen(addr); iErr != nil {
			taskLog.Error("failed to record failed attempt", "err", iErr)
		}
	case peerclient.KindContentDecodeError:
		taskLog.Warn("peer sent malformed B1 response, blacklisting", "err", cerr)
		if bErr := store.Blacklist(addr); bErr != nil {
			taskLog.Error("failed to blacklist peer with malformed response", "err", bErr)
		}
	default:
		taskLog.Warn("unexpected error refreshing peer info", "err", cerr)
		if iErr := store.IncrementAttemptsSinceLastSeen(addr); iErr != nil {
			taskLog.Error("failed to record failed attempt", "err", iErr)
		}
	}
	return nil
}
