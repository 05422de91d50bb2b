package chains

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/mint-widget/internal/config"
	"moff.io/mint-widget/pkg/errors"
)

var ErrUnknownNetwork = errors.New("unknown network")

// Currency is the native currency a wallet shows for a chain.
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Network describes one chain with everything a wallet needs to register it.
type Network struct {
	ChainID     uint64
	Name        string
	RPCURL      string
	Currency    Currency
	ExplorerURL string
}

// IDHex is the 0x prefixed chain id wallets expect in switch/add requests.
func (n *Network) IDHex() string {
	return hexutil.EncodeUint64(n.ChainID)
}

// AddChainParams is the single parameter object of wallet_addEthereumChain.
type AddChainParams struct {
	ChainID           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	NativeCurrency    Currency `json:"nativeCurrency"`
	RPCURLs           []string `json:"rpcUrls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
}

func (n *Network) AddChainParams() AddChainParams {
	p := AddChainParams{
		ChainID:        n.IDHex(),
		ChainName:      n.Name,
		NativeCurrency: n.Currency,
		RPCURLs:        []string{n.RPCURL},
	}
	if n.ExplorerURL != "" {
		p.BlockExplorerURLs = []string{n.ExplorerURL}
	}
	return p
}

// Catalog is a static set of networks keyed by chain id.
type Catalog struct {
	networks map[uint64]*Network
}

func NewCatalog(networks ...*Network) *Catalog {
	c := &Catalog{networks: make(map[uint64]*Network, len(networks))}
	for _, n := range networks {
		c.networks[n.ChainID] = n
	}
	return c
}

// FromConfig builds the catalog from the yaml network list, falling back to
// the built-in table for missing currency or explorer data.
func FromConfig(cfg []config.Network) *Catalog {
	networks := make([]*Network, 0, len(cfg))
	for _, n := range cfg {
		network := &Network{
			ChainID:     n.ChainID,
			Name:        n.Name,
			RPCURL:      n.RPCURL,
			ExplorerURL: n.ExplorerURL,
			Currency: Currency{
				Name:     n.CurrencyName,
				Symbol:   n.CurrencySymbol,
				Decimals: n.Decimals,
			},
		}
		if known, ok := Mapping[n.ChainID]; ok {
			if network.Currency.Symbol == "" {
				network.Currency = known.Currency
			}
			if network.ExplorerURL == "" {
				network.ExplorerURL = known.ExplorerURL
			}
		}
		networks = append(networks, network)
	}
	return NewCatalog(networks...)
}

// Lookup returns the descriptor for chainID.
func (c *Catalog) Lookup(chainID uint64) (*Network, error) {
	n, ok := c.networks[chainID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNetwork, "chain %d", chainID)
	}
	return n, nil
}

// ByName matches a network name case-insensitively.
func (c *Catalog) ByName(name string) (*Network, bool) {
	for _, n := range c.networks {
		if strings.EqualFold(n.Name, name) {
			return n, true
		}
	}
	return nil, false
}

// RPCMap is the chain id -> rpc url map relay providers are configured with.
func (c *Catalog) RPCMap() map[uint64]string {
	out := make(map[uint64]string, len(c.networks))
	for id, n := range c.networks {
		out[id] = n.RPCURL
	}
	return out
}

// All returns the networks ordered by chain id.
func (c *Catalog) All() []*Network {
	out := make([]*Network, 0, len(c.networks))
	for _, n := range c.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}
