package walletconnect

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
	"moff.io/mint-widget/pkg/relaycrypto"
)

const defaultReadTimeout = 5 * time.Minute

var errSessionClosed = errors.New("session closed")

// Pairing is what the visitor scans with the wallet app.
type Pairing struct {
	URI    string   `json:"uri"`
	QRCode []byte   `json:"qrCode"`
	Links  []string `json:"links,omitempty"`
}

// DisplayFn shows a pairing to the visitor.
type DisplayFn func(ctx context.Context, p Pairing) error

type Options struct {
	// BridgeURL defaults to a random public bridge.
	BridgeURL   string
	ReadTimeout time.Duration
	Meta        ClientMeta
	// RPC serves read-only methods per chain id, the wallet is only asked to sign.
	RPC map[uint64]string
	// Links narrows the wallets suggested next to the QR code.
	Links []string
}

// NewConnector returns a connector pairing a wallet through a relay bridge.
func NewConnector(opts Options, display DisplayFn) provider.Connector {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	return provider.ConnectorFunc(func(ctx context.Context, _ provider.ConnectRequest) (provider.Provider, error) {
		c, err := newClient(opts)
		if err != nil {
			return nil, err
		}
		return c.pair(ctx, display)
	})
}

type client struct {
	opts Options

	conn           *websocket.Conn
	bridgeURL      string
	handshakeTopic string
	clientID       string
	encryptionKey  []byte

	writeMu sync.Mutex
}

func newClient(opts Options) (*client, error) {
	encryptionKey, err := relaycrypto.GenerateRandomBytes(relaycrypto.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "generate relay key")
	}
	bridgeURL := opts.BridgeURL
	if bridgeURL == "" {
		bridgeURL = relaycrypto.RandomBridgeURL()
	}
	return &client{
		opts:           opts,
		encryptionKey:  encryptionKey,
		bridgeURL:      bridgeURL,
		handshakeTopic: uuid.NewString(),
		clientID:       uuid.NewString(),
	}, nil
}

func (c *client) uri() string {
	return fmt.Sprintf("wc:%s@1?bridge=%s&key=%s",
		c.handshakeTopic, url.QueryEscape(c.bridgeURL), hex.EncodeToString(c.encryptionKey))
}

func (c *client) pairing() (Pairing, error) {
	uri := c.uri()
	log.Debugf("wallet connect - generated uri:%v", uri)
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return Pairing{}, errors.WrapAndReport(err, "encode wallet connect qr code")
	}
	return Pairing{URI: uri, QRCode: png, Links: c.opts.Links}, nil
}

func (c *client) pair(ctx context.Context, display DisplayFn) (*Session, error) {
	if err := c.dialWS(ctx); err != nil {
		return nil, err
	}
	s, err := c.interact(ctx, display)
	if err != nil {
		c.conn.Close()
		return nil, err
	}
	go s.readLoop()
	return s, nil
}

func (c *client) interact(ctx context.Context, display DisplayFn) (*Session, error) {
	if err := c.subscribe(); err != nil {
		return nil, err
	}
	request := newJSONRpcRequest("wc_sessionRequest", peer{
		PeerID:   c.clientID,
		PeerMeta: c.opts.Meta,
	})
	if err := c.publish(c.handshakeTopic, request.Marshal()); err != nil {
		return nil, err
	}
	p, err := c.pairing()
	if err != nil {
		return nil, err
	}
	if err := display(ctx, p); err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-stop:
		}
	}()
	return c.awaitSession(ctx, request.Id)
}

func (c *client) awaitSession(ctx context.Context, requestID int64) (*Session, error) {
	for {
		payload, err := c.readPayload(c.opts.ReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "wait for wallet connect session")
			}
			if errors.Is(err, errSessionClosed) {
				return nil, errors.New("User closed modal")
			}
			return nil, err
		}
		if gjson.GetBytes(payload, "id").Int() != requestID {
			log.Debugf("wallet connect - ignoring payload before session:%s", payload)
			continue
		}
		log.Debugf("wallet connect - create session response:%s", payload)
		if errStr := gjson.GetBytes(payload, "error.message").String(); errStr != "" {
			if strings.Contains(errStr, "Session Rejected") {
				return nil, errors.New("User rejected the request")
			}
			return nil, errors.New(errStr)
		}
		var result sessionResult
		if err := json.Unmarshal([]byte(gjson.GetBytes(payload, "result").Raw), &result); err != nil {
			return nil, errors.WrapAndReport(err, "unmarshal wallet info")
		}
		if !result.Approved {
			return nil, errors.New("User rejected the request")
		}
		if len(result.Accounts) == 0 {
			return nil, errors.New("accounts received is empty")
		}
		if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, errors.Wrap(err, "reset websocket read deadline")
		}
		log.Infof("wallet connect - session approved by %v on chain %d", result.PeerMeta.Name, result.ChainID)
		return newSession(c, result), nil
	}
}

func (c *client) dialWS(ctx context.Context) error {
	wsURL := relaycrypto.WebSocketURL(c.bridgeURL, "wc", "1", "go")
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.Wrap(err, "dial to wallet connect bridge url")
	}
	c.conn = conn
	return nil
}

func (c *client) send(msg wcMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, msg.Marshal()); err != nil {
		return errors.Wrap(err, "write wallet connect message to server")
	}
	return nil
}

func (c *client) subscribe() error {
	log.Debugf("wallet connect - subscribe topic %v", c.clientID)
	return c.send(wcMessage{Topic: c.clientID, Type: "sub", Silent: true})
}

func (c *client) publish(topic string, jsonRpc []byte) error {
	payload, err := sealPayload(jsonRpc, c.encryptionKey)
	if err != nil {
		return err
	}
	silent := strings.HasPrefix(gjson.GetBytes(jsonRpc, "method").String(), "wc_")
	return c.send(wcMessage{Topic: topic, Type: "pub", Payload: payload, Silent: silent})
}

func (c *client) ack() error {
	return c.send(wcMessage{Topic: c.clientID, Type: "ack", Silent: true})
}

// readPayload reads the next pub message addressed to us and returns its decrypted JSON-RPC body.
func (c *client) readPayload(timeout time.Duration) ([]byte, error) {
	for {
		if timeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return nil, errors.Wrap(err, "set websocket read timeout")
			}
		}
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, errSessionClosed
			}
			return nil, errors.Wrap(err, "read wallet connect message")
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := newWCMessageFromBytes(data)
		if err != nil {
			return nil, err
		}
		if msg.Type != "pub" || msg.Topic != c.clientID {
			continue
		}
		if err := c.ack(); err != nil {
			return nil, err
		}
		payload, err := openPayload(msg.Payload, c.encryptionKey)
		if err != nil {
			log.Warnf("wallet connect - dropping undecryptable message:%v", err)
			continue
		}
		return payload, nil
	}
}

// Session is a paired relay wallet.
type Session struct {
	provider.Emitter

	client *client
	peerID string
	rpcURL map[uint64]string

	closed atomic.Bool

	mu       sync.Mutex
	accounts []string
	chainID  uint64
	pending  map[int64]chan jsonRpcResponse
	readers  map[uint64]*rpc.Client
	lostFns  map[int]func(error)
	nextLost int
	done     chan struct{}
	err      error
}

func newSession(c *client, result sessionResult) *Session {
	return &Session{
		client:   c,
		peerID:   result.PeerID,
		rpcURL:   c.opts.RPC,
		accounts: result.Accounts,
		chainID:  result.ChainID,
		pending:  make(map[int64]chan jsonRpcResponse),
		readers:  make(map[uint64]*rpc.Client),
		lostFns:  make(map[int]func(error)),
		done:     make(chan struct{}),
	}
}

// peerMethods must be approved in the wallet app, everything else is answered locally or by the chain.
var peerMethods = map[string]bool{
	"eth_sendTransaction":        true,
	"eth_signTransaction":        true,
	"eth_sign":                   true,
	"personal_sign":              true,
	"eth_signTypedData":          true,
	"eth_signTypedData_v3":       true,
	"eth_signTypedData_v4":       true,
	"wallet_switchEthereumChain": true,
	"wallet_addEthereumChain":    true,
}

func (s *Session) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	switch method {
	case "eth_accounts", "eth_requestAccounts":
		s.mu.Lock()
		accounts := append([]string{}, s.accounts...)
		s.mu.Unlock()
		return json.Marshal(accounts)
	case "eth_chainId":
		s.mu.Lock()
		chainID := s.chainID
		s.mu.Unlock()
		return json.Marshal(hexutil.EncodeUint64(chainID))
	}
	if peerMethods[method] {
		return s.callPeer(ctx, method, params)
	}
	return s.callChain(ctx, method, params)
}

// Enable returns the accounts approved at pairing.
func (s *Session) Enable(ctx context.Context) ([]string, error) {
	var accounts []string
	err := provider.Call(ctx, s, &accounts, "eth_accounts")
	return accounts, err
}

func (s *Session) callPeer(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	request := newJSONRpcRequest(method, params...)
	ch := make(chan jsonRpcResponse, 1)
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return nil, disconnected(s.err)
	}
	s.pending[request.Id] = ch
	s.mu.Unlock()

	if err := s.publish(request.Marshal()); err != nil {
		s.forget(request.Id)
		return nil, disconnected(err)
	}
	log.Debugf("wallet connect - %v sent to wallet as %d", method, request.Id)
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		s.forget(request.Id)
		return nil, errors.Wrapf(ctx.Err(), "%s", method)
	case <-s.done:
		return nil, disconnected(s.err)
	}
}

func (s *Session) callChain(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	reader, err := s.reader(ctx)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := reader.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Session) reader(ctx context.Context) (*rpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.readers[s.chainID]; ok {
		return r, nil
	}
	endpoint, ok := s.rpcURL[s.chainID]
	if !ok {
		return nil, &provider.RPCError{
			Code:    provider.CodeUnsupportedMethod,
			Message: fmt.Sprintf("no rpc endpoint for chain %d", s.chainID),
		}
	}
	r, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "dial rpc for chain %d", s.chainID)
	}
	s.readers[s.chainID] = r
	return r, nil
}

func (s *Session) publish(jsonRpc []byte) error {
	return s.client.publish(s.peerID, jsonRpc)
}

func (s *Session) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	for {
		payload, err := s.client.readPayload(0)
		if err != nil {
			s.shutdown(err)
			return
		}
		if method := gjson.GetBytes(payload, "method").String(); method != "" {
			s.handleRequest(method, payload)
			continue
		}
		var resp jsonRpcResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			log.Warnf("wallet connect - malformed response %s:%v", payload, err)
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.Id]
		delete(s.pending, resp.Id)
		s.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (s *Session) handleRequest(method string, payload []byte) {
	if method != "wc_sessionUpdate" {
		log.Debugf("wallet connect - ignoring wallet request %v", method)
		return
	}
	var update sessionUpdate
	if err := json.Unmarshal([]byte(gjson.GetBytes(payload, "params.0").Raw), &update); err != nil {
		log.Warnf("wallet connect - malformed session update %s:%v", payload, err)
		return
	}
	if !update.Approved {
		log.Warnf("wallet connect - session closed by wallet")
		s.closed.Store(true)
		s.mu.Lock()
		s.accounts = nil
		s.mu.Unlock()
		s.EmitAccounts([]string{})
		s.shutdown(errSessionClosed)
		return
	}

	s.mu.Lock()
	accountsChanged := len(update.Accounts) > 0 && !sameAccounts(s.accounts, update.Accounts)
	if accountsChanged {
		s.accounts = update.Accounts
	}
	chainChanged := update.ChainID != nil && *update.ChainID != s.chainID
	if chainChanged {
		s.chainID = *update.ChainID
	}
	chainID := s.chainID
	accounts := append([]string{}, s.accounts...)
	s.mu.Unlock()

	if accountsChanged {
		s.EmitAccounts(accounts)
	}
	if chainChanged {
		s.EmitChain(hexutil.EncodeUint64(chainID))
	}
}

func sameAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// OnDisconnect registers fn to run when the bridge connection drops.
func (s *Session) OnDisconnect(fn func(err error)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextLost
	s.nextLost++
	s.lostFns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.lostFns, id)
	}
}

// Close kills the session on the wallet side and drops the bridge connection.
// It does not wait for the wallet to acknowledge.
func (s *Session) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	kill := newJSONRpcRequest("wc_sessionUpdate", sessionUpdate{Approved: false})
	if err := s.publish(kill.Marshal()); err != nil {
		log.Warnf("wallet connect - send session kill:%v", err)
	}
	s.shutdown(errSessionClosed)
	return nil
}

func (s *Session) shutdown(err error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	close(s.done)
	fns := make([]func(error), 0, len(s.lostFns))
	for _, fn := range s.lostFns {
		fns = append(fns, fn)
	}
	readers := s.readers
	s.readers = map[uint64]*rpc.Client{}
	s.mu.Unlock()

	s.client.conn.Close()
	for _, r := range readers {
		r.Close()
	}
	if s.closed.Load() {
		return
	}
	log.Warnf("wallet connect - bridge connection lost:%v", err)
	for _, fn := range fns {
		fn(err)
	}
}

func disconnected(cause error) error {
	msg := "wallet connect session disconnected"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &provider.RPCError{Code: provider.CodeDisconnected, Message: msg}
}
