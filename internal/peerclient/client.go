// Package peerclient implements the outbound B1 P2P request contract
// (§4.B): getInfo, getPeers, getCumulativeDifficulty and
// getBlocksFromHeight, plus the error classification every worker relies
// on to pick a remediation policy.
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"time"

	"golang.org/x/time/rate"

	"github.com/signumoasis/signum-node-go/internal/p2paddr"
)

// DefaultTimeout is the default request deadline (§4.B).
const DefaultTimeout = 2 * time.Second

// Identity is this node's own getInfo payload, sourced from local
// configuration.
type Identity struct {
	AnnouncedAddress string
	Application      string
	Version          string
	Platform         string
	ShareAddress     bool
	NetworkName      string
}

// Client issues outbound P2P requests. A single Client is shared by all
// workers; its rate limiter protects local sockets under the fan-out
// concurrency §5 calls for.
type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	identity Identity
}

// New builds a Client. limit bounds the steady-state outbound request
// rate (tokens/sec); burst allows short fan-outs (e.g. BlockDownloader's
// consensus sampling) without being throttled mid-tick.
func New(identity Identity, limit rate.Limit, burst int) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{},
		},
		limiter:  rate.NewLimiter(limit, burst),
		identity: identity,
	}
}

// GetInfo asks peer for its self-description and resolves its observed
// remote IP. If the response omits AnnouncedAddress, the resolved IP is
// substituted, per §4.B / §12.2.
func (c *Client) GetInfo(ctx context.Context, peer p2paddr.Address) (GetInfoResponse, string, error) {
	req := getInfoRequest{
		Protocol:         protocolB1,
		RequestType:      "getInfo",
		AnnouncedAddress: c.identity.AnnouncedAddress,
		Application:      c.identity.Application,
		Version:          c.identity.Version,
		Platform:         c.identity.Platform,
		ShareAddress:     c.identity.ShareAddress,
		NetworkName:      c.identity.NetworkName,
	}
	var resp GetInfoResponse
	ip, err := c.do(ctx, peer, DefaultTimeout, req, &resp)
	if err != nil {
		return GetInfoResponse{}, "", err
	}
	if resp.AnnouncedAddress == "" {
		resp.AnnouncedAddress = ip
	}
	return resp, ip, nil
}

// GetPeers asks peer for its known peer list.
func (c *Client) GetPeers(ctx context.Context, peer p2paddr.Address) ([]string, error) {
	var resp getPeersResponse
	_, err := c.do(ctx, peer, DefaultTimeout, getPeersRequest{Protocol: protocolB1, RequestType: "getPeers"}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// GetCumulativeDifficulty asks peer for its chain tip's cumulative
// difficulty and height, using a tight timeout per §4.F Phase 2.
func (c *Client) GetCumulativeDifficulty(ctx context.Context, peer p2paddr.Address) (string, uint64, error) {
	var resp getCumulativeDifficultyResponse
	_, err := c.do(ctx, peer, DefaultTimeout, getCumulativeDifficultyRequest{Protocol: protocolB1, RequestType: "getCumulativeDifficulty"}, &resp)
	if err != nil {
		return "", 0, err
	}
	return resp.CumulativeDifficulty, resp.BlockchainHeight, nil
}

// GetBlocksFromHeight fetches a batch of blocks. Callers may cap the
// deadline higher than DefaultTimeout for larger batches (§5).
func (c *Client) GetBlocksFromHeight(ctx context.Context, peer p2paddr.Address, timeout time.Duration, height uint64, numBlocks uint32) ([]B1Block, error) {
	req := getBlocksFromHeightRequest{
		Protocol:    protocolB1,
		RequestType: "getBlocksFromHeight",
		Height:      height,
		NumBlocks:   numBlocks,
	}
	var resp getBlocksFromHeightResponse
	_, err := c.do(ctx, peer, timeout, req, &resp)
	if err != nil {
		return nil, err
	}
	return resp.NextBlocks, nil
}

// do performs the request/response round trip and classifies any
// failure. It returns the resolved remote IP on success.
func (c *Client) do(ctx context.Context, peer p2paddr.Address, timeout time.Duration, body, out interface{}) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", newError(KindUnexpectedError, peer.String(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return "", newError(KindUnexpectedError, peer.String(), fmt.Errorf("encoding request: %w", err))
	}

	var remoteAddr string
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn != nil {
				remoteAddr = info.Conn.RemoteAddr().String()
			}
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.RequestURL(), bytes.NewReader(payload))
	if err != nil {
		return "", newError(KindUnexpectedError, peer.String(), fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", newError(KindConnectionTimeout, peer.String(), err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", newError(KindConnectionTimeout, peer.String(), err)
		}
		return "", newError(KindConnectionError, peer.String(), err)
	}
	defer resp.Body.Close()

	ip := hostOnly(remoteAddr)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ip, newError(KindConnectionError, peer.String(), fmt.Errorf("reading body: %w", err))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return ip, newError(KindContentDecodeError, peer.String(), fmt.Errorf("decoding body: %w", err))
	}
	return ip, nil
}

// hostOnly strips the port from a host:port remote address string.
func hostOnly(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
