package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/mint-widget/internal/chains"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

type switchParams struct {
	ChainID string `json:"chainId"`
}

// Switcher moves the connected wallet to another chain, registering the chain
// with the wallet when it does not know it yet.
type Switcher struct {
	manager  *Manager
	catalog  *chains.Catalog
	observer Observer
}

func NewSwitcher(manager *Manager, catalog *chains.Catalog) *Switcher {
	return &Switcher{manager: manager, catalog: catalog, observer: manager.observer}
}

// SwitchTo returns nil once the wallet is on chainID. When the wallet answers
// 4902 the chain is added and ErrChainAdded is returned, the visitor has to
// switch again.
func (s *Switcher) SwitchTo(ctx context.Context, chainID uint64) error {
	handle := s.manager.Provider()
	if handle == nil {
		log.Warnf("wallet - switch to %d requested without a connected wallet", chainID)
		return ErrNotConnected
	}
	if current, err := s.manager.SyncChain(ctx); err != nil {
		log.Warnf("wallet - read current chain before switch:%v", err)
	} else if current == chainID {
		return nil
	}

	_, err := handle.Request(ctx, "wallet_switchEthereumChain", switchParams{ChainID: hexutil.EncodeUint64(chainID)})
	if err == nil {
		log.Infof("wallet - switched to chain %d", chainID)
		if _, err := s.manager.SyncChain(ctx); err != nil {
			log.Warnf("wallet - read chain after switch:%v", err)
		}
		return nil
	}
	if !provider.IsCode(err, provider.CodeUnrecognizedChain) {
		return s.fail(chainID, err)
	}

	network, lookupErr := s.catalog.Lookup(chainID)
	if lookupErr != nil {
		return s.fail(chainID, lookupErr)
	}
	log.Infof("wallet - chain %d unknown to wallet, registering %v", chainID, network.Name)
	if _, err := handle.Request(ctx, "wallet_addEthereumChain", network.AddChainParams()); err != nil {
		return s.fail(chainID, err)
	}
	return ErrChainAdded
}

func (s *Switcher) fail(chainID uint64, err error) error {
	wrapped := &Error{Kind: ErrSwitchRejected, Err: errors.Wrapf(err, "switch to chain %d", chainID)}
	if IsCancellation(err) {
		log.Infof("wallet - switch to %d rejected by user:%v", chainID, err)
		return wrapped
	}
	log.Errorf("wallet - switch to %d failed:%v", chainID, err)
	s.observer.Alert(wrapped)
	return wrapped
}
