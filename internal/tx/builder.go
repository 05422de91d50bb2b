package tx

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/mint-widget/internal/contract"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

// GasEstimator estimates the gas a call needs; ethclient.Client satisfies it.
type GasEstimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Params is a transaction ready for eth_sendTransaction.
type Params struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

type sendArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Gas   hexutil.Uint64  `json:"gas"`
	Value *hexutil.Big    `json:"value"`
	Data  hexutil.Bytes   `json:"data"`
}

func (p Params) args() sendArgs {
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}
	to := p.To
	return sendArgs{
		From:  p.From,
		To:    &to,
		Gas:   hexutil.Uint64(p.Gas),
		Value: (*hexutil.Big)(value),
		Data:  p.Data,
	}
}

func (p Params) callMsg() ethereum.CallMsg {
	to := p.To
	return ethereum.CallMsg{From: p.From, To: &to, Value: p.Value, Data: p.Data}
}

// Value is unitPrice * quantity, a zero quantity counts as one.
func Value(unitPriceWei *big.Int, quantity uint64) *big.Int {
	if quantity == 0 {
		quantity = 1
	}
	if unitPriceWei == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(unitPriceWei, new(big.Int).SetUint64(quantity))
}

// GasPolicy is the caller supplied gas limit policy.
type GasPolicy struct {
	DefaultLimit uint64
	Slippage     uint64
}

// Builder turns a packed call into submit-ready params.
type Builder struct {
	estimator GasEstimator
}

func NewBuilder(estimator GasEstimator) *Builder {
	return &Builder{estimator: estimator}
}

// Build sets the gas limit to max(estimate+slippage, default). When the estimate
// fails the default is used unchanged; estimation never fails a build.
func (b *Builder) Build(ctx context.Context, call contract.Call, from common.Address, value *big.Int, policy GasPolicy) (Params, error) {
	if call.To == (common.Address{}) {
		return Params{}, errors.Errorf("%v call has no target contract", call.Method)
	}
	p := Params{From: from, To: call.To, Data: call.Data, Value: value, Gas: policy.DefaultLimit}
	if b.estimator == nil {
		return p, nil
	}
	estimate, err := b.estimator.EstimateGas(ctx, p.callMsg())
	if err != nil {
		log.Warnf("tx - estimate gas for %v failed, using default limit %d:%v", call.Method, policy.DefaultLimit, err)
		return p, nil
	}
	if padded := estimate + policy.Slippage; padded > p.Gas {
		p.Gas = padded
	}
	log.Debugf("tx - %v gas estimate %d, limit %d", call.Method, estimate, p.Gas)
	return p, nil
}

// ProviderEstimator estimates through the connected wallet.
type ProviderEstimator struct {
	Provider provider.Provider
}

func (e ProviderEstimator) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	args := estimateArgs{From: msg.From, To: msg.To, Data: msg.Data}
	if msg.Value != nil {
		args.Value = (*hexutil.Big)(msg.Value)
	}
	var gas hexutil.Uint64
	if err := provider.Call(ctx, e.Provider, &gas, "eth_estimateGas", args); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

type estimateArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data"`
}
