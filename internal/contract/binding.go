package contract

import (
	"context"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

const defaultMaxPerMint = 10

// mintedSlot holds the minted counter of factory contracts that dropped totalSupply.
var mintedSlot = common.HexToHash("0xfb")

// ChainReader is the read-only chain access a Binding needs; ethclient.Client satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// Call is a packed invocation of a resolved method.
type Call struct {
	Method string
	To     common.Address
	Data   []byte
}

type Options struct {
	// PriceConstant is a unit price in ETH used when no price method is configured.
	PriceConstant string
	// MaxPerMint is used when the contract exposes no max-per-mint method.
	MaxPerMint uint64
}

// Binding reads and prepares calls on one deployed contract.
type Binding struct {
	address  common.Address
	resolver *Resolver
	chain    ChainReader
	opts     Options
}

func NewBinding(address common.Address, resolver *Resolver, chain ChainReader, opts Options) *Binding {
	return &Binding{address: address, resolver: resolver, chain: chain, opts: opts}
}

func (b *Binding) Address() common.Address {
	return b.address
}

// Prepare resolves op and packs args for it, converting integer arguments to the widths the ABI declares.
func (b *Binding) Prepare(op Operation, args ...interface{}) (Call, error) {
	m, err := b.resolver.Resolve(op)
	if err != nil {
		return Call{}, err
	}
	coerced, err := coerceArgs(m, args)
	if err != nil {
		return Call{}, err
	}
	data, err := m.Inputs.Pack(coerced...)
	if err != nil {
		return Call{}, errors.Wrapf(err, "pack %v arguments", m.Name)
	}
	return Call{Method: m.Name, To: b.address, Data: append(append([]byte{}, m.ID...), data...)}, nil
}

// Price returns the unit price in wei: configured method, then configured constant, then the price capability.
func (b *Binding) Price(ctx context.Context) (*big.Int, error) {
	if !b.resolver.HasOverride(OpPrice) && b.opts.PriceConstant != "" {
		log.Debugf("contract - using configured price constant %v", b.opts.PriceConstant)
		return ParseEther(b.opts.PriceConstant)
	}
	return b.readUint(ctx, OpPrice)
}

// TotalSupply returns the minted count, reading the factory storage slot when the contract has no method for it.
func (b *Binding) TotalSupply(ctx context.Context) (*big.Int, error) {
	v, err := b.readUint(ctx, OpTotalSupply)
	if !errors.Is(err, ErrCapabilityNotFound) {
		return v, err
	}
	raw, err := b.chain.StorageAt(ctx, b.address, mintedSlot, nil)
	if err != nil {
		return nil, errors.Wrap(err, "read minted storage slot")
	}
	return new(big.Int).SetBytes(raw), nil
}

func (b *Binding) MaxSupply(ctx context.Context) (*big.Int, error) {
	return b.readUint(ctx, OpMaxSupply)
}

// MaxPerMint falls back to the configured value, then 10.
func (b *Binding) MaxPerMint(ctx context.Context) (uint64, error) {
	v, err := b.readUint(ctx, OpMaxPerMint)
	if err == nil {
		return v.Uint64(), nil
	}
	if !errors.Is(err, ErrCapabilityNotFound) {
		return 0, err
	}
	if b.opts.MaxPerMint > 0 {
		return b.opts.MaxPerMint, nil
	}
	log.Warnf("contract - can't read maxPerMint from contract or config, using %d", defaultMaxPerMint)
	return defaultMaxPerMint, nil
}

func (b *Binding) readUint(ctx context.Context, op Operation) (*big.Int, error) {
	m, err := b.resolver.Resolve(op)
	if err != nil {
		return nil, err
	}
	out, err := b.chain.CallContract(ctx, ethereum.CallMsg{To: &b.address, Data: m.ID}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %v", m.Name)
	}
	values, err := m.Outputs.Unpack(out)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %v result", m.Name)
	}
	if len(values) == 0 {
		return nil, errors.Errorf("%v returned nothing", m.Name)
	}
	return toBig(values[0])
}

func toBig(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	}
	return nil, errors.Errorf("unexpected numeric result %T", v)
}

var bigType = reflect.TypeOf(&big.Int{})

func coerceArgs(m *abi.Method, args []interface{}) ([]interface{}, error) {
	if len(args) != len(m.Inputs) {
		return nil, errors.Errorf("%v takes %d arguments, got %d", m.Name, len(m.Inputs), len(args))
	}
	out := make([]interface{}, len(args))
	for i, arg := range args {
		want := m.Inputs[i].Type.GetType()
		n, isBig := arg.(*big.Int)
		if !isBig || want == bigType {
			out[i] = arg
			continue
		}
		switch want.Kind() {
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if n.Sign() < 0 || n.BitLen() > want.Bits() {
				return nil, errors.Errorf("%v argument %d out of range", m.Name, i)
			}
			out[i] = reflect.ValueOf(n.Uint64()).Convert(want).Interface()
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if n.BitLen() >= want.Bits() {
				return nil, errors.Errorf("%v argument %d out of range", m.Name, i)
			}
			out[i] = reflect.ValueOf(n.Int64()).Convert(want).Interface()
		default:
			out[i] = arg
		}
	}
	return out, nil
}
