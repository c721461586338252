// Package api implements P2PServer (§4.G): the inbound B1 HTTP surface
// every peer in the network uses to reach this node. It is the mirror
// image of peerclient: where peerclient issues getInfo/getPeers/...,
// api answers them.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/julienschmidt/httprouter"

	"github.com/signumoasis/signum-node-go/internal/p2paddr"
	"github.com/signumoasis/signum-node-go/internal/peerclient"
	"github.com/signumoasis/signum-node-go/internal/peers"
)

// Server answers the B1 protocol surface and a plain health check.
type Server struct {
	Store    peers.Store
	Identity peerclient.Identity

	router *httprouter.Router
	log    log.Logger
}

// New builds a Server. identity is echoed back verbatim on getInfo,
// matching how this node presents itself to outbound peers too.
func New(store peers.Store, identity peerclient.Identity) *Server {
	s := &Server{
		Store:    store,
		Identity: identity,
		router:   httprouter.New(),
		log:      log.New("component", "api.Server"),
	}
	s.router.POST("/", s.handleB1)
	s.router.GET("/health_check", s.handleHealthCheck)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}

// handleB1 dispatches on requestType, the single entry point the B1
// protocol multiplexes every request through (§4.G).
func (s *Server) handleB1(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var env envelope
	raw, err := decodeBody(r, &env)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	reqLog := s.log.New("requestType", env.RequestType)

	switch env.RequestType {
	case "getInfo":
		s.handleGetInfo(w, raw, reqLog)
	case "getPeers":
		s.handleGetPeers(w, reqLog)
	case "addPeers":
		s.handleAddPeers(w, raw, reqLog)
	default:
		reqLog.Debug("unrecognized requestType")
		s.writeError(w, http.StatusBadRequest, "unknown requestType")
	}
}

func (s *Server) handleGetInfo(w http.ResponseWriter, raw []byte, reqLog log.Logger) {
	var in getInfoRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed getInfo request")
		return
	}

	remoteAddr := in.AnnouncedAddress
	if remoteAddr != "" {
		if addr, err := p2paddr.Parse(remoteAddr); err == nil {
			if created, err := s.Store.CreatePeer(addr); err == nil && created {
				reqLog.Debug("registered new peer from inbound getInfo", "peer", addr)
			}
			if err := s.Store.UpdatePeerInfo(addr, addr.Host(), peers.Info{
				Application:  in.Application,
				Version:      in.Version,
				Platform:     in.Platform,
				ShareAddress: in.ShareAddress,
				NetworkName:  in.NetworkName,
			}); err != nil {
				reqLog.Warn("failed to record inbound peer info", "err", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, getInfoResponse{
		Protocol:         protocolB1,
		RequestType:      "getInfo",
		AnnouncedAddress: s.Identity.AnnouncedAddress,
		Application:      s.Identity.Application,
		Version:          s.Identity.Version,
		Platform:         s.Identity.Platform,
		ShareAddress:     s.Identity.ShareAddress,
		NetworkName:      s.Identity.NetworkName,
	})
}

func (s *Server) handleGetPeers(w http.ResponseWriter, reqLog log.Logger) {
	records, err := s.Store.RandomPeers(maxPeersInResponse)
	if err != nil {
		reqLog.Error("failed to sample peers for response", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	addrs := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ShareAddress {
			addrs = append(addrs, rec.AnnouncedAddress)
		}
	}
	writeJSON(w, http.StatusOK, getPeersResponse{Peers: addrs})
}

func (s *Server) handleAddPeers(w http.ResponseWriter, raw []byte, reqLog log.Logger) {
	var in addPeersRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed addPeers request")
		return
	}
	for _, candidate := range in.Peers {
		addr, err := p2paddr.Parse(candidate)
		if err != nil {
			reqLog.Debug("skipping unparsable advertised peer", "raw", candidate, "err", err)
			continue
		}
		if _, err := s.Store.CreatePeer(addr); err != nil {
			reqLog.Warn("failed to create advertised peer", "peer", addr, "err", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// maxPeersInResponse caps how many addresses getPeers hands out per
// request, the same sampling primitive the discovery worker consumes.
const maxPeersInResponse = 100

// decodeBody reads the full request body, decodes the common envelope
// from it, and returns the raw bytes so the requestType-specific
// handler can unmarshal its own fields from the same payload.
func decodeBody(r *http.Request, env *envelope) ([]byte, error) {
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
