package bridge

import (
	"encoding/json"

	"moff.io/mint-widget/internal/provider"
)

// Frame types exchanged with the page.
const (
	frameHello    = "hello"
	frameRequest  = "request"
	frameResponse = "response"
	frameEvent    = "event"
)

// Target selects which injected provider of the page a request is meant for.
type Target string

const (
	// TargetDefault is window.ethereum.
	TargetDefault Target = "default"
	// TargetMetaMask is the MetaMask entry of window.ethereum.providers when several wallets inject.
	TargetMetaMask Target = "metamask"
)

type injectedInfo struct {
	Flags provider.Flags `json:"flags"`
}

type helloFrame struct {
	Device    provider.Device `json:"device"`
	UserAgent string          `json:"userAgent"`
	Providers []injectedInfo  `json:"providers"`
}

type requestFrame struct {
	Type   string        `json:"type"`
	ID     uint64        `json:"id"`
	Target Target        `json:"target"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type responseFrame struct {
	ID     uint64             `json:"id"`
	Result json.RawMessage    `json:"result"`
	Error  *provider.RPCError `json:"error"`
}

type eventFrame struct {
	Target Target          `json:"target"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}
