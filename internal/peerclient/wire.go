package peerclient

import "encoding/json"

// The B1 wire protocol (§6): HTTP/1.1, content-type application/json,
// all requests POST /. Field names are camelCase on the wire.

const protocolB1 = "B1"

// UserAgent identifies this client on the wire, carried over from the
// signum-rust implementation this spec distills.
const UserAgent = "BRS/3.8.x"

type getInfoRequest struct {
	Protocol         string `json:"protocol"`
	RequestType      string `json:"requestType"`
	AnnouncedAddress string `json:"announcedAddress"`
	Application      string `json:"application"`
	Version          string `json:"version"`
	Platform         string `json:"platform"`
	ShareAddress     bool   `json:"shareAddress"`
	NetworkName      string `json:"networkName"`
}

// GetInfoResponse is the remote peer's self-description.
type GetInfoResponse struct {
	AnnouncedAddress string `json:"announcedAddress"`
	Application      string `json:"application"`
	Version          string `json:"version"`
	Platform         string `json:"platform"`
	ShareAddress     bool   `json:"shareAddress"`
	NetworkName      string `json:"networkName"`
}

type getPeersRequest struct {
	Protocol    string `json:"protocol"`
	RequestType string `json:"requestType"`
}

type getPeersResponse struct {
	Peers []string `json:"peers"`
}

type getCumulativeDifficultyRequest struct {
	Protocol    string `json:"protocol"`
	RequestType string `json:"requestType"`
}

type getCumulativeDifficultyResponse struct {
	CumulativeDifficulty string `json:"cumulativeDifficulty"`
	BlockchainHeight      uint64 `json:"blockchainHeight"`
}

type getBlocksFromHeightRequest struct {
	Protocol    string `json:"protocol"`
	RequestType string `json:"requestType"`
	Height      uint64 `json:"height"`
	NumBlocks   uint32 `json:"numBlocks"`
}

// B1Block is an opaque wire block: the core never inspects its fields,
// only threads it through to the BlockIngestor collaborator. Field names
// that interop depends on (amountNQT, feeNQT, ecBlockId, cashBackId,
// totalFeeCashbackNQT, totalFeeBurntNQT, blockATs) preserve their exact
// wire casing per §6.
type B1Block struct {
	Version              int32             `json:"version"`
	Timestamp            uint32            `json:"timestamp"`
	PreviousBlock        string            `json:"previousBlock"`
	NumberOfTransactions int32             `json:"numberOfTransactions"`
	TotalAmountNQT       string            `json:"totalAmountNQT"`
	TotalFeeNQT          string            `json:"totalFeeNQT"`
	PayloadLength        int32             `json:"payloadLength"`
	PayloadHash          string            `json:"payloadHash"`
	GenerationSignature  string            `json:"generationSignature"`
	PreviousBlockHash    string            `json:"previousBlockHash"`
	BlockSignature       string            `json:"blockSignature"`
	Transactions         []json.RawMessage `json:"transactions"`
	NonceHex             string            `json:"nonce,omitempty"`
	BlockATs             string            `json:"blockATs,omitempty"`
	EcBlockId            string            `json:"ecBlockId,omitempty"`
	EcBlockHeight        uint32            `json:"ecBlockHeight,omitempty"`
	CashBackId           string            `json:"cashBackId,omitempty"`
	TotalFeeCashbackNQT  string            `json:"totalFeeCashbackNQT,omitempty"`
	TotalFeeBurntNQT     string            `json:"totalFeeBurntNQT,omitempty"`
}

type getBlocksFromHeightResponse struct {
	NextBlocks []B1Block `json:"nextBlocks"`
}
