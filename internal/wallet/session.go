package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/mint-widget/internal/provider"
)

// Session is the single view of the connected wallet. Zero fields mean absent.
type Session struct {
	Account    common.Address `json:"account"`
	ChainID    uint64         `json:"chainId"`
	ProviderID provider.ID    `json:"providerId"`
	Connected  bool           `json:"connected"`
}

func (s Session) HasAccount() bool {
	return s.Account != (common.Address{})
}

// ShortAccount renders the account as 0x1234...abcd for buttons.
func (s Session) ShortAccount() string {
	if !s.HasAccount() {
		return ""
	}
	hex := s.Account.Hex()
	return fmt.Sprintf("%s...%s", hex[:6], hex[38:])
}

// Observer receives session level notifications. Implementations must not block.
type Observer interface {
	SessionChanged(Session)
	GateChanged(account common.Address, unlocked bool)
	Alert(err error)
	DeepLink(url string)
}

// Gate decides whether an account unlocked gated content.
type Gate interface {
	Unlocked(ctx context.Context, account common.Address) bool
}

type nopObserver struct{}

func (nopObserver) SessionChanged(Session)           {}
func (nopObserver) GateChanged(common.Address, bool) {}
func (nopObserver) Alert(error)                      {}
func (nopObserver) DeepLink(string)                  {}
