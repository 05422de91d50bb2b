package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
app:
  id: widget
networks:
  - chain_id: 5
    name: Goerli
    rpc_url: https://goerli.example.org
contract:
  address: "0x00000000000000000000000000000000000000aa"
  chain_id: 5
  abi: '[]'
  methods:
    mint: mintTo
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, uint64(5000), c.Mint.GasLimitSlippage)
	assert.Equal(t, uint64(10), c.Mint.MaxPerMint)
	assert.Equal(t, 800*time.Millisecond, c.Mint.RedirectDelay)
	assert.Equal(t, "0.0001", c.Mint.ProInsightPrice)
	assert.Equal(t, uint8(18), c.Networks[0].Decimals)
	assert.Equal(t, ":8080", c.Server.Address)
	assert.Equal(t, "mintTo", c.Contract.Methods["mint"])
	assert.False(t, c.Redis.Enabled())

	abi, err := c.Contract.ABIJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(abi))
}

func TestDefaultGasLimitFor(t *testing.T) {
	m := Mint{}
	assert.Equal(t, uint64(100000), m.DefaultGasLimitFor(0))
	assert.Equal(t, uint64(300000), m.DefaultGasLimitFor(3))
	m.DefaultGasLimit = 42
	assert.Equal(t, uint64(42), m.DefaultGasLimitFor(3))
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte(`app: {id: x}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
app: {id: x}
networks: [{chain_id: 1, name: eth, rpc_url: https://rpc.example.org}]
contract: {address: "not-an-address", chain_id: 1, abi: '[]'}
`))
	assert.Error(t, err)
}
