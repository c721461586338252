package blocksync

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/signumoasis/signum-node-go/internal/peerclient"
)

// BlockIngestor is the out-of-scope collaborator that owns chain-state
// authority (§1 Non-goals, §4.F). The downloader hands it validated
// batches in ascending start-height order and asks it where the next
// sync attempt should begin.
type BlockIngestor interface {
	// SuggestNextHeight returns the height BlockDownloader should start
	// its next batch from. Its derivation is a TODO in the source and
	// deferred entirely to this collaborator (§4.F Open question).
	SuggestNextHeight(ctx context.Context) (uint64, error)

	// IngestBlocks hands off one ordered batch. Batches within a tick
	// arrive with strictly ascending startHeight.
	IngestBlocks(ctx context.Context, startHeight uint64, blocks []peerclient.B1Block) error
}

// LoggingIngestor is a minimal BlockIngestor that only logs; it exists so
// cmd/signum-node can start the coordination core before a real chain
// authority is wired in. It is not a stand-in for chain validation.
type LoggingIngestor struct {
	log log.Logger
}

// NewLoggingIngestor returns a BlockIngestor that logs received batches
// and always suggests height 0.
func NewLoggingIngestor() *LoggingIngestor {
	return &LoggingIngestor{log: log.New("component", "blocksync.LoggingIngestor")}
}

func (i *LoggingIngestor) SuggestNextHeight(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (i *LoggingIngestor) IngestBlocks(ctx context.Context, startHeight uint64, blocks []peerclient.B1Block) error {
	i.log.Info("received block batch", "start_height", startHeight, "count", len(blocks))
	return nil
}

var _ BlockIngestor = (*LoggingIngestor)(nil)
