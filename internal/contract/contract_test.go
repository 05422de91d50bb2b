package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func view(name string, out string) string {
	return fmt.Sprintf(`{"type":"function","name":%q,"stateMutability":"view","inputs":[],"outputs":[{"name":"","type":%q}]}`, name, out)
}

func payable(name string, inputs ...string) string {
	args := make([]string, len(inputs))
	for i, in := range inputs {
		args[i] = fmt.Sprintf(`{"name":"a%d","type":%q}`, i, in)
	}
	return fmt.Sprintf(`{"type":"function","name":%q,"stateMutability":"payable","inputs":[%s],"outputs":[]}`,
		name, strings.Join(args, ","))
}

func parse(t *testing.T, entries ...string) abi.ABI {
	parsed, err := ParseABI([]byte("[" + strings.Join(entries, ",") + "]"))
	require.NoError(t, err)
	return parsed
}

func TestResolveVariantsCaseInsensitive(t *testing.T) {
	r := NewResolver(parse(t, payable("MintNFTs", "uint256"), view("max_supply", "uint256"), view("MAX_SUPPLY", "uint256")), nil)

	m, err := r.Resolve(OpMint)
	require.NoError(t, err)
	assert.Equal(t, "MintNFTs", m.RawName)

	m, err = r.Resolve(OpMaxSupply)
	require.NoError(t, err)
	assert.Equal(t, "MAX_SUPPLY", m.RawName)
}

func TestResolvePrefersEarlierVariant(t *testing.T) {
	r := NewResolver(parse(t, payable("mintSale", "uint256"), payable("publicMint", "uint256")), nil)
	m, err := r.Resolve(OpMint)
	require.NoError(t, err)
	assert.Equal(t, "publicMint", m.RawName)
}

func TestResolveOverride(t *testing.T) {
	contractABI := parse(t, payable("mint", "uint256"), payable("claim", "uint256"))

	m, err := NewResolver(contractABI, map[string]string{"mint": "claim"}).Resolve(OpMint)
	require.NoError(t, err)
	assert.Equal(t, "claim", m.RawName)

	_, err = NewResolver(contractABI, map[string]string{"mint": "mintTo"}).Resolve(OpMint)
	assert.True(t, errors.Is(err, ErrCapabilityMisconfigured))
}

func TestResolvePriceAutoDetect(t *testing.T) {
	r := NewResolver(parse(t, view("mintCost", "uint256"), payable("setPrice", "uint256")), nil)
	m, err := r.Resolve(OpPrice)
	require.NoError(t, err)
	assert.Equal(t, "mintCost", m.RawName)
}

func TestResolvePriceAmbiguousUsesVariants(t *testing.T) {
	r := NewResolver(parse(t, view("presalePrice", "uint256"), view("cost", "uint256")), nil)
	m, err := r.Resolve(OpPrice)
	require.NoError(t, err)
	assert.Equal(t, "cost", m.RawName)

	r = NewResolver(parse(t, view("presalePrice", "uint256"), view("publicPrice", "uint256")), nil)
	_, err = r.Resolve(OpPrice)
	assert.True(t, errors.Is(err, ErrCapabilityNotFound))
}

func TestResolvePriceCountsNonViewCandidates(t *testing.T) {
	r := NewResolver(parse(t, view("mintPrice", "uint256"), payable("bumpCost")), nil)
	_, err := r.Resolve(OpPrice)
	assert.ErrorIs(t, err, ErrCapabilityNotFound)

	r = NewResolver(parse(t, view("mintPrice", "uint256"), payable("bumpCost"), view("cost", "uint256")), nil)
	m, err := r.Resolve(OpPrice)
	require.NoError(t, err)
	assert.Equal(t, "cost", m.RawName)
}

func TestResolveNotFound(t *testing.T) {
	_, err := NewResolver(parse(t, view("name", "string")), nil).Resolve(OpMint)
	assert.True(t, errors.Is(err, ErrCapabilityNotFound))
}

// fakeChain answers eth_call by method selector.
type fakeChain struct {
	results map[string][]byte
	storage map[common.Hash][]byte
	calls   int
}

func (c *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.calls++
	out, ok := c.results[common.Bytes2Hex(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (c *fakeChain) StorageAt(_ context.Context, _ common.Address, key common.Hash, _ *big.Int) ([]byte, error) {
	return c.storage[key], nil
}

func uintWord(v int64) []byte {
	return math.U256Bytes(big.NewInt(v))
}

func binding(t *testing.T, chain *fakeChain, overrides map[string]string, opts Options, entries ...string) *Binding {
	contractABI := parse(t, entries...)
	if chain.results == nil {
		chain.results = map[string][]byte{}
	}
	return NewBinding(common.HexToAddress("0xc0ffee"), NewResolver(contractABI, overrides), chain, opts)
}

func selector(t *testing.T, entry string) string {
	m := parse(t, entry)
	for _, method := range m.Methods {
		return common.Bytes2Hex(method.ID)
	}
	t.Fatal("no method")
	return ""
}

func TestPriceSources(t *testing.T) {
	chain := &fakeChain{}
	b := binding(t, chain, nil, Options{PriceConstant: "0.05"}, view("price", "uint256"))
	price, err := b.Price(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", price.String())
	assert.Zero(t, chain.calls)

	chain = &fakeChain{results: map[string][]byte{selector(t, view("cost", "uint256")): uintWord(7)}}
	b = binding(t, chain, map[string]string{"price": "cost"}, Options{PriceConstant: "0.05"},
		view("price", "uint256"), view("cost", "uint256"))
	price, err = b.Price(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), price.Int64())

	b = binding(t, &fakeChain{}, nil, Options{PriceConstant: "abc"}, view("price", "uint256"))
	_, err = b.Price(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestTotalSupplyFallsBackToStorage(t *testing.T) {
	chain := &fakeChain{storage: map[common.Hash][]byte{mintedSlot: uintWord(321)}}
	b := binding(t, chain, nil, Options{}, view("maxSupply", "uint256"))
	minted, err := b.TotalSupply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(321), minted.Int64())

	entry := view("totalSupply", "uint256")
	chain = &fakeChain{results: map[string][]byte{selector(t, entry): uintWord(12)}}
	b = binding(t, chain, nil, Options{}, entry)
	minted, err = b.TotalSupply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), minted.Int64())
}

func TestMaxPerMintFallbacks(t *testing.T) {
	entry := view("maxMintAmount", "uint8")
	chain := &fakeChain{results: map[string][]byte{selector(t, entry): uintWord(5)}}
	n, err := binding(t, chain, nil, Options{MaxPerMint: 3}, entry).MaxPerMint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	n, err = binding(t, &fakeChain{}, nil, Options{MaxPerMint: 3}, view("name", "string")).MaxPerMint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	n, err = binding(t, &fakeChain{}, nil, Options{}, view("name", "string")).MaxPerMint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)
}

func TestPrepareCoercesIntegerWidth(t *testing.T) {
	entry := payable("mint", "uint8")
	b := binding(t, &fakeChain{}, nil, Options{}, entry)

	call, err := b.Prepare(OpMint, big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, "mint", call.Method)
	assert.Equal(t, selector(t, entry), common.Bytes2Hex(call.Data[:4]))
	assert.Equal(t, uintWord(3), call.Data[4:])

	_, err = b.Prepare(OpMint, big.NewInt(300))
	assert.Error(t, err)
	_, err = b.Prepare(OpMint)
	assert.Error(t, err)
}

func TestPrepareSubmitScore(t *testing.T) {
	b := binding(t, &fakeChain{}, nil, Options{}, payable("submitScore", "uint256", "bytes"))
	call, err := b.Prepare(OpSubmitScore, big.NewInt(99), []byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, "submitScore", call.Method)
	assert.Len(t, call.Data, 4+32*4)
}

func TestEtherUnits(t *testing.T) {
	wei, err := ParseEther("0.0001")
	require.NoError(t, err)
	assert.Equal(t, "100000000000000", wei.String())

	_, err = ParseEther("-1")
	assert.Error(t, err)

	assert.Equal(t, "0.0123", FormatEther(big.NewInt(12345678900000000), 4))
	assert.Equal(t, "1", FormatEther(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), 4))
}
