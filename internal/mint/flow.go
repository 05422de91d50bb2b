package mint

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/mint-widget/internal/contract"
	"moff.io/mint-widget/internal/gating"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/internal/tx"
	"moff.io/mint-widget/internal/wallet"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

var (
	ErrQuantity = errors.New("quantity out of range")
	ErrSoldOut  = errors.New("collection sold out")
)

// Wallet is the slice of wallet.Manager the flows need.
type Wallet interface {
	EnsureConnected(ctx context.Context) (common.Address, error)
	Provider() provider.Provider
}

// Switcher moves the wallet to the contract's chain.
type Switcher interface {
	SwitchTo(ctx context.Context, chainID uint64) error
}

// Contract reads and packs calls for the bound collection.
type Contract interface {
	Prepare(op contract.Operation, args ...interface{}) (contract.Call, error)
	Price(ctx context.Context) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
	MaxSupply(ctx context.Context) (*big.Int, error)
	MaxPerMint(ctx context.Context) (uint64, error)
}

type Submitter interface {
	Submit(p provider.Provider, params tx.Params, label string) *tx.Handle
}

// Backend is the gating service used by the paid flows.
type Backend interface {
	Score(ctx context.Context, account common.Address) (*gating.Score, error)
	MarkPurchased(ctx context.Context, account common.Address) error
}

type Observer interface {
	GateChanged(account common.Address, unlocked bool)
	Alert(err error)
}

type Options struct {
	// ChainID is the contract's chain, the wallet is switched to it before submitting when set.
	ChainID         uint64
	DefaultGasLimit uint64
	GasSlippage     uint64
	ProInsightPrice *big.Int
	HideCounter     bool
	// Estimator overrides estimation through the connected wallet.
	Estimator tx.GasEstimator
}

// Service runs the purchase flows against one contract.
type Service struct {
	wallet    Wallet
	switcher  Switcher
	contract  Contract
	submitter Submitter
	backend   Backend
	observer  Observer
	opts      Options
}

func NewService(w Wallet, switcher Switcher, c Contract, submitter Submitter, backend Backend, observer Observer, opts Options) *Service {
	return &Service{
		wallet:    w,
		switcher:  switcher,
		contract:  c,
		submitter: submitter,
		backend:   backend,
		observer:  observer,
		opts:      opts,
	}
}

// purchase describes one flow: which capability to call, with what, for how much.
type purchase struct {
	op       contract.Operation
	quantity uint64
	args     func(ctx context.Context, account common.Address) ([]interface{}, error)
	value    func(ctx context.Context) (*big.Int, error)
	// confirmed runs once the transaction has one confirmation.
	confirmed func(account common.Address)
}

// Mint buys quantity tokens at the contract price.
func (s *Service) Mint(ctx context.Context, quantity uint64) (*tx.Handle, error) {
	if quantity == 0 {
		quantity = 1
	}
	if err := s.checkQuantity(ctx, quantity); err != nil {
		return nil, err
	}
	return s.run(ctx, purchase{
		op:       contract.OpMint,
		quantity: quantity,
		args: func(context.Context, common.Address) ([]interface{}, error) {
			return []interface{}{new(big.Int).SetUint64(quantity)}, nil
		},
		value: func(ctx context.Context) (*big.Int, error) {
			price, err := s.contract.Price(ctx)
			if err != nil {
				return nil, err
			}
			return tx.Value(price, quantity), nil
		},
	})
}

// ProInsight pays for the gated insight and unlocks it once confirmed.
func (s *Service) ProInsight(ctx context.Context) (*tx.Handle, error) {
	return s.run(ctx, purchase{
		op:       contract.OpProInsight,
		quantity: 1,
		args: func(context.Context, common.Address) ([]interface{}, error) {
			return nil, nil
		},
		value: func(context.Context) (*big.Int, error) {
			return s.opts.ProInsightPrice, nil
		},
		confirmed: func(account common.Address) {
			s.observer.GateChanged(account, true)
			ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
			defer cancel()
			if err := s.backend.MarkPurchased(ctx, account); err != nil {
				log.Errorf("mint - mark %v purchased:%v", account.Hex(), err)
			}
		},
	})
}

// SubmitScore posts the backend signed score of the visitor on chain.
func (s *Service) SubmitScore(ctx context.Context) (*tx.Handle, error) {
	return s.run(ctx, purchase{
		op:       contract.OpSubmitScore,
		quantity: 1,
		args: func(ctx context.Context, account common.Address) ([]interface{}, error) {
			score, err := s.backend.Score(ctx, account)
			if err != nil {
				return nil, errors.Wrapf(err, "fetch score for %v", account.Hex())
			}
			return []interface{}{score.Value, score.Signature}, nil
		},
		value: func(context.Context) (*big.Int, error) {
			return new(big.Int), nil
		},
	})
}

func (s *Service) run(ctx context.Context, p purchase) (*tx.Handle, error) {
	account, err := s.wallet.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	if s.opts.ChainID != 0 && s.switcher != nil {
		if err := s.switcher.SwitchTo(ctx, s.opts.ChainID); err != nil {
			return nil, err
		}
	}
	handle := s.wallet.Provider()
	if handle == nil {
		return nil, wallet.ErrNotConnected
	}

	args, err := p.args(ctx, account)
	if err != nil {
		s.fail(p.op, err)
		return nil, err
	}
	call, err := s.contract.Prepare(p.op, args...)
	if err != nil {
		s.fail(p.op, err)
		return nil, err
	}
	value, err := p.value(ctx)
	if err != nil {
		s.fail(p.op, err)
		return nil, err
	}

	estimator := s.opts.Estimator
	if estimator == nil {
		estimator = tx.ProviderEstimator{Provider: handle}
	}
	params, err := tx.NewBuilder(estimator).Build(ctx, call, account, value, s.gasPolicy(p.quantity))
	if err != nil {
		s.fail(p.op, err)
		return nil, err
	}

	h := s.submitter.Submit(handle, params, string(p.op))
	if p.confirmed != nil {
		h.Subscribe(func(snap tx.Snapshot) {
			if snap.State == tx.Confirmed {
				p.confirmed(account)
			}
		})
	}
	log.Infof("mint - %v submitted for %v as %v", p.op, account.Hex(), h.ID())
	return h, nil
}

func (s *Service) fail(op contract.Operation, err error) {
	log.Errorf("mint - prepare %v:%v", op, err)
	s.observer.Alert(err)
}

func (s *Service) gasPolicy(quantity uint64) tx.GasPolicy {
	limit := s.opts.DefaultGasLimit
	if limit == 0 {
		limit = defaultGasPerToken * quantity
	}
	slippage := s.opts.GasSlippage
	if slippage == 0 {
		slippage = defaultGasSlippage
	}
	return tx.GasPolicy{DefaultLimit: limit, Slippage: slippage}
}
