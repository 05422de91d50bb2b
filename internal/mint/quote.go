package mint

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"moff.io/mint-widget/internal/contract"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

const (
	defaultGasPerToken = 100000
	defaultGasSlippage = 5000
	priceDecimals      = 4
	backendTimeout     = 10 * time.Second
)

// Quote is what the quantity step shows before a mint.
type Quote struct {
	UnitPriceWei *big.Int `json:"unitPriceWei"`
	Quantity     uint64   `json:"quantity"`
	TotalWei     *big.Int `json:"totalWei"`
	Label        string   `json:"label"`
	MaxPerMint   uint64   `json:"maxPerMint"`
	// Minted and MaxSupply are nil when counters are hidden or unreadable.
	Minted    *big.Int `json:"minted,omitempty"`
	MaxSupply *big.Int `json:"maxSupply,omitempty"`
}

// Label renders the mint button text for a total price.
func Label(totalWei *big.Int) string {
	if totalWei == nil {
		return "Mint"
	}
	if totalWei.Sign() == 0 {
		return "Mint for free"
	}
	return fmt.Sprintf("Mint for %s ETH", contract.FormatEther(totalWei, priceDecimals))
}

// Quote reads price and limits for quantity tokens.
func (s *Service) Quote(ctx context.Context, quantity uint64) (*Quote, error) {
	if quantity == 0 {
		quantity = 1
	}
	q := &Quote{Quantity: quantity, Label: Label(nil)}

	price, err := s.contract.Price(ctx)
	if err != nil {
		if errors.Is(err, contract.ErrInvalidAmount) || errors.Is(err, contract.ErrCapabilityMisconfigured) {
			s.observer.Alert(err)
			return nil, err
		}
		log.Warnf("mint - read price:%v", err)
		if errors.Is(err, contract.ErrCapabilityNotFound) {
			s.observer.Alert(err)
		}
	} else {
		q.UnitPriceWei = price
		q.TotalWei = new(big.Int).Mul(price, new(big.Int).SetUint64(quantity))
		q.Label = Label(q.TotalWei)
	}

	maxPerMint, err := s.contract.MaxPerMint(ctx)
	if err != nil {
		return nil, err
	}
	q.MaxPerMint = maxPerMint

	if !s.opts.HideCounter {
		q.Minted, q.MaxSupply = s.counters(ctx)
	}
	return q, nil
}

func (s *Service) counters(ctx context.Context) (minted, maxSupply *big.Int) {
	minted, err := s.contract.TotalSupply(ctx)
	if err != nil {
		log.Warnf("mint - read minted count:%v", err)
		minted = nil
	}
	maxSupply, err = s.contract.MaxSupply(ctx)
	if err != nil {
		log.Warnf("mint - read max supply:%v", err)
		maxSupply = nil
	}
	return minted, maxSupply
}

// checkQuantity bounds quantity by max-per-mint and, when counters are known, by the remaining supply.
func (s *Service) checkQuantity(ctx context.Context, quantity uint64) error {
	maxPerMint, err := s.contract.MaxPerMint(ctx)
	if err != nil {
		return err
	}
	if quantity > maxPerMint {
		return errors.Wrapf(ErrQuantity, "%d above max per mint %d", quantity, maxPerMint)
	}
	if s.opts.HideCounter {
		return nil
	}
	minted, maxSupply := s.counters(ctx)
	if minted == nil || maxSupply == nil || maxSupply.Sign() == 0 {
		return nil
	}
	remaining := new(big.Int).Sub(maxSupply, minted)
	if remaining.Sign() <= 0 {
		return ErrSoldOut
	}
	if remaining.Cmp(new(big.Int).SetUint64(quantity)) < 0 {
		return errors.Wrapf(ErrQuantity, "%d above remaining supply %v", quantity, remaining)
	}
	return nil
}
