package domain

// ChainKind is the engine's network_type.
type ChainKind string

const (
	ChainKindEVM     ChainKind = "EVM"
	ChainKindStellar ChainKind = "Stellar"
)

// Valid reports whether the engine understands the chain kind.
func (k ChainKind) Valid() bool {
	return k == ChainKindEVM || k == ChainKindStellar
}

// DefaultRPCWeight is used when a stored endpoint carries no weight.
const DefaultRPCWeight = 100

// RPCEndpoint is one RPC URL of a network, primary first.
type RPCEndpoint struct {
	URL    string
	Weight int
}

// NetworkConfig describes one network the engine should watch.
type NetworkConfig struct {
	Name               string
	Slug               string
	Kind               ChainKind
	ChainID            *int64
	NetworkPassphrase  string
	RPCURLs            []RPCEndpoint
	BlockTimeMs        *int64
	ConfirmationBlocks uint64
	CronSchedule       string
	MaxPastBlocks      *uint64
	StoreBlocks        bool
}
