package relaycrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := GenerateRandomBytes(KeySize)
	require.NoError(t, err)

	msg := []byte(`{"id":1,"jsonrpc":"2.0","method":"eth_chainId","params":[]}`)
	p, err := Seal(msg, key)
	require.NoError(t, err)

	plain, err := Open(p, key)
	require.NoError(t, err)
	assert.Equal(t, msg, plain)
}

func TestOpenRejectsTamperedPayload(t *testing.T) {
	key, _ := GenerateRandomBytes(KeySize)
	p, err := Seal([]byte("hello"), key)
	require.NoError(t, err)

	other, _ := GenerateRandomBytes(KeySize)
	_, err = Open(p, other)
	assert.ErrorIs(t, err, ErrBadHmac)

	if p.Data[0] == '0' {
		p.Data = "1" + p.Data[1:]
	} else {
		p.Data = "0" + p.Data[1:]
	}
	_, err = Open(p, key)
	assert.ErrorIs(t, err, ErrBadHmac)
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "wss://a.bridge.walletconnect.org?protocol=wc&version=1&env=browser",
		WebSocketURL("https://a.bridge.walletconnect.org", "wc", "1", "browser"))
	assert.Equal(t, "ws://127.0.0.1:5001?protocol=wc&version=1&env=browser",
		WebSocketURL("http://127.0.0.1:5001", "wc", "1", "browser"))
	assert.Contains(t, RandomBridgeURL(), ".bridge.walletconnect.org")
}
