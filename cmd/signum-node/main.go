// Command signum-node is the start procedure §6 requires be invoked
// once configuration is loaded: it wires the PeerRegistry, PeerClient,
// and every worker together and runs them under the supervisor until
// one terminates or the process receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/signumoasis/signum-node-go/internal/api"
	"github.com/signumoasis/signum-node-go/internal/blocksync"
	"github.com/signumoasis/signum-node-go/internal/config"
	"github.com/signumoasis/signum-node-go/internal/discovery"
	"github.com/signumoasis/signum-node-go/internal/infoworker"
	"github.com/signumoasis/signum-node-go/internal/inforefresh"
	"github.com/signumoasis/signum-node-go/internal/natutil"
	"github.com/signumoasis/signum-node-go/internal/peerclient"
	"github.com/signumoasis/signum-node-go/internal/peers"
	"github.com/signumoasis/signum-node-go/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the node's TOML configuration file")
	flag.Parse()

	log.Root().SetHandler(log.LvlFilterHandler(log.LvlInfo, log.StreamHandler(os.Stdout, log.TerminalFormat(true))))
	logger := log.New("component", "main")

	if err := run(*configPath, logger); err != nil {
		logger.Crit("node exited with error", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, logger log.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	myAddress := cfg.P2P.MyAddress
	if myAddress == "" {
		discoverCtx, cancel := context.WithTimeout(context.Background(), natutil.DiscoveryTimeout)
		ip, err := natutil.Discover(discoverCtx)
		cancel()
		if err != nil {
			logger.Warn("NAT discovery failed; announcing without a fixed address", "err", err)
		} else {
			myAddress = ip.String()
		}
	}

	store, err := peers.Open(cfg.Database.Filename)
	if err != nil {
		return fmt.Errorf("opening peer registry: %w", err)
	}
	defer store.Close()

	identity := peerclient.Identity{
		AnnouncedAddress: myAddress,
		Application:      "SignumRust",
		Version:          "3.8.0",
		Platform:         cfg.P2P.Platform,
		ShareAddress:     cfg.P2P.ShareAddress,
		NetworkName:      cfg.P2P.NetworkName,
	}
	client := peerclient.New(identity, rate.Limit(20), 40)
	policy := inforefresh.Policy{LocalNetworkName: cfg.P2P.NetworkName}

	discoveryWorker := discovery.New(store, client, cfg.P2P.BootstrapPeers, policy)
	infoWorker := infoworker.New(store, client, policy)
	ingestor := blocksync.NewLoggingIngestor()
	downloader := blocksync.New(store, client, ingestor)

	server := api.New(store, identity)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.SrsApi.ListenAddress, cfg.SrsApi.ListenPort),
		Handler:      server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return supervisor.Run(ctx,
		supervisor.Named{Name: "discovery", Runner: runnerFunc(discoveryWorker.Run)},
		supervisor.Named{Name: "infoworker", Runner: runnerFunc(infoWorker.Run)},
		supervisor.Named{Name: "blocksync", Runner: tickerRunner(downloader.Tick, blocksync.TickPeriod)},
		supervisor.Named{Name: "api", Runner: httpRunner{server: httpServer}},
	)
}

// runnerFunc adapts a plain func(context.Context) error to
// supervisor.Runner.
type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

// tickerRunner repeatedly calls tick at the given period until ctx is
// canceled, mirroring the loop shape of discovery.Worker.Run and
// infoworker.Worker.Run for a component (BlockDownloader) whose own
// Tick method is stateless per call.
func tickerRunner(tick func(ctx context.Context) error, period time.Duration) supervisor.Runner {
	return runnerFunc(func(ctx context.Context) error {
		for {
			if ctx.Err() != nil {
				return nil
			}
			if err := tick(ctx); err != nil {
				log.New("component", "blocksync").Warn("tick failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(period):
			}
		}
	})
}

// httpRunner adapts *http.Server to supervisor.Runner: it serves until
// ctx is canceled, then shuts down gracefully.
type httpRunner struct {
	server *http.Server
}

func (h httpRunner) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.server.Shutdown(shutdownCtx)
	}
}
