package walletconnect

import (
	"encoding/json"

	"go.uber.org/atomic"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
	"moff.io/mint-widget/pkg/relaycrypto"
	"time"
)

// ClientMeta describes the widget to the wallet during pairing.
type ClientMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

type peer struct {
	PeerID   string      `json:"peerId"`
	PeerMeta ClientMeta  `json:"peerMeta"`
	ChainID  interface{} `json:"chainId"`
}

// sessionResult is the wallet's answer to wc_sessionRequest.
type sessionResult struct {
	Approved bool       `json:"approved"`
	ChainID  uint64     `json:"chainId"`
	Accounts []string   `json:"accounts"`
	PeerID   string     `json:"peerId"`
	PeerMeta ClientMeta `json:"peerMeta"`
}

// sessionUpdate is sent by either side to change or kill a session.
type sessionUpdate struct {
	Approved bool     `json:"approved"`
	ChainID  *uint64  `json:"chainId"`
	Accounts []string `json:"accounts"`
}

type wcMessage struct {
	Topic string `json:"topic"`
	// pub sub ack
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func newWCMessageFromBytes(data []byte) (*wcMessage, error) {
	var msg wcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message")
	}
	return &msg, nil
}

func (msg *wcMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

func sealPayload(jsonRpc []byte, key []byte) (string, error) {
	p, err := relaycrypto.Seal(jsonRpc, key)
	if err != nil {
		return "", err
	}
	s, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "marshal relay payload")
	}
	return string(s), nil
}

func openPayload(payload string, key []byte) ([]byte, error) {
	var p relaycrypto.Payload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message payload")
	}
	return relaycrypto.Open(&p, key)
}

type jsonRpcRequest struct {
	Id      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRpcResponse struct {
	Id      int64              `json:"id"`
	JSONRpc string             `json:"jsonrpc"`
	Result  json.RawMessage    `json:"result,omitempty"`
	Error   *provider.RPCError `json:"error,omitempty"`
}

// payload ids follow the wallet connect convention of microsecond timestamps
var lastPayloadID = atomic.NewInt64(time.Now().UnixNano() / 1000)

func payloadID() int64 {
	return lastPayloadID.Inc()
}

func newJSONRpcRequest(method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		Id:      payloadID(),
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

func (e *jsonRpcRequest) Marshal() []byte {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("wallet connect - marshal %v request:%v", e.Method, err)
	}
	return s
}
