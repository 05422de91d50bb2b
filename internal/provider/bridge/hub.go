package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

const (
	defaultHelloTimeout = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

var errPageReplaced = errors.New("page replaced by a newer connection")

// Hub carries the page's injected providers into the process. At most one page is
// attached at a time; a newer page replaces the previous one.
type Hub struct {
	helloTimeout time.Duration
	writeTimeout time.Duration
	pageURL      string

	mu    sync.Mutex
	page  *page
	ready chan struct{}
}

type Option func(*Hub)

// WithPageURL sets the url deep links point to when the page did not report its own.
func WithPageURL(url string) Option {
	return func(h *Hub) { h.pageURL = url }
}

func WithHelloTimeout(d time.Duration) Option {
	return func(h *Hub) { h.helloTimeout = d }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		helloTimeout: defaultHelloTimeout,
		writeTimeout: defaultWriteTimeout,
		ready:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve reads frames from a page until the connection drops or ctx is done.
// The first frame must be a hello describing the device.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) error {
	p := &page{
		conn:         conn,
		writeTimeout: h.writeTimeout,
		pending:      make(map[uint64]chan responseFrame),
		handles:      make(map[*Handle]struct{}),
		done:         make(chan struct{}),
	}
	if err := p.readHello(h.helloTimeout); err != nil {
		conn.Close()
		return err
	}
	if p.device.PageURL == "" {
		p.device.PageURL = h.pageURL
	}
	h.install(p)
	log.Infof("bridge - page attached, mobile:%v injected:%v providers:%d",
		p.device.Mobile, p.device.Injected, len(p.providers))

	go func() {
		select {
		case <-ctx.Done():
			p.shutdown(ctx.Err())
		case <-p.done:
		}
	}()

	err := p.readLoop()
	p.shutdown(err)
	h.remove(p)
	log.Infof("bridge - page detached:%v", err)
	return nil
}

func (h *Hub) install(p *page) {
	h.mu.Lock()
	previous := h.page
	h.page = p
	select {
	case <-h.ready:
	default:
		close(h.ready)
	}
	h.mu.Unlock()
	if previous != nil {
		previous.shutdown(errPageReplaced)
	}
}

func (h *Hub) remove(p *page) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.page != p {
		return
	}
	h.page = nil
	h.ready = make(chan struct{})
}

func (h *Hub) waitPage(ctx context.Context) (*page, error) {
	for {
		h.mu.Lock()
		p, ready := h.page, h.ready
		h.mu.Unlock()
		if p != nil {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "wait for page")
		case <-ready:
		}
	}
}

// Device implements provider.DeviceProbe, blocking until a page said hello.
func (h *Hub) Device(ctx context.Context) (provider.Device, error) {
	p, err := h.waitPage(ctx)
	if err != nil {
		return provider.Device{}, err
	}
	return p.device, nil
}

// Attached reports whether a page is currently connected.
func (h *Hub) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.page != nil
}

type page struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	device       provider.Device
	providers    []injectedInfo

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan responseFrame
	handles map[*Handle]struct{}
	done    chan struct{}
	err     error
}

func (p *page) readHello(timeout time.Duration) error {
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return errors.Wrap(err, "set hello deadline")
	}
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return errors.Wrap(err, "read hello")
	}
	if typ := gjson.GetBytes(data, "type").String(); typ != frameHello {
		return errors.Errorf("expected hello frame, got %q", typ)
	}
	var hello helloFrame
	if err := json.Unmarshal(data, &hello); err != nil {
		return errors.Wrap(err, "decode hello")
	}
	p.device = hello.Device
	p.providers = hello.Providers
	if hello.UserAgent != "" && provider.DetectMobile(hello.UserAgent) {
		p.device.Mobile = true
	}
	if len(p.providers) > 0 {
		p.device.Injected = true
		if p.device.InjectedFlags == (provider.Flags{}) {
			p.device.InjectedFlags = p.providers[0].Flags
		}
	}
	return p.conn.SetReadDeadline(time.Time{})
}

func (p *page) readLoop() error {
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		switch typ := gjson.GetBytes(data, "type").String(); typ {
		case frameResponse:
			var resp responseFrame
			if err := json.Unmarshal(data, &resp); err != nil {
				log.Warnf("bridge - malformed response frame:%v", err)
				continue
			}
			p.resolve(resp)
		case frameEvent:
			var ev eventFrame
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Warnf("bridge - malformed event frame:%v", err)
				continue
			}
			p.dispatch(ev)
		default:
			log.Debugf("bridge - ignoring frame type %q", typ)
		}
	}
}

func (p *page) resolve(resp responseFrame) {
	p.mu.Lock()
	ch, ok := p.pending[resp.ID]
	delete(p.pending, resp.ID)
	p.mu.Unlock()
	if !ok {
		log.Debugf("bridge - response for unknown request %d", resp.ID)
		return
	}
	ch <- resp
}

func (p *page) dispatch(ev eventFrame) {
	if ev.Target == "" {
		ev.Target = TargetDefault
	}
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.handles))
	for h := range p.handles {
		if h.target == ev.Target {
			handles = append(handles, h)
		}
	}
	p.mu.Unlock()

	switch ev.Event {
	case "accountsChanged":
		var accounts []string
		if err := json.Unmarshal(ev.Data, &accounts); err != nil {
			log.Warnf("bridge - malformed accounts %s:%v", ev.Data, err)
			return
		}
		for _, h := range handles {
			h.EmitAccounts(accounts)
		}
	case "chainChanged":
		// wallets send either a hex string or a bare number
		chainID := gjson.ParseBytes(ev.Data).String()
		for _, h := range handles {
			h.EmitChain(chainID)
		}
	default:
		log.Debugf("bridge - ignoring event %q", ev.Event)
	}
}

func (p *page) call(ctx context.Context, target Target, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	id := p.nextID.Inc()
	ch := make(chan responseFrame, 1)
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return nil, disconnected(p.err)
	}
	p.pending[id] = ch
	p.mu.Unlock()

	err := p.write(requestFrame{Type: frameRequest, ID: id, Target: target, Method: method, Params: params})
	if err != nil {
		p.forget(id)
		return nil, disconnected(err)
	}
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		p.forget(id)
		return nil, errors.Wrapf(ctx.Err(), "%s", method)
	case <-p.done:
		return nil, disconnected(p.err)
	}
}

func (p *page) forget(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *page) write(v interface{}) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
		return err
	}
	return p.conn.WriteJSON(v)
}

func (p *page) register(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handles[h] = struct{}{}
}

func (p *page) unregister(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handles, h)
}

func (p *page) shutdown(err error) {
	if err == nil {
		err = errors.New("page closed")
	}
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	handles := make([]*Handle, 0, len(p.handles))
	for h := range p.handles {
		handles = append(handles, h)
	}
	p.handles = map[*Handle]struct{}{}
	p.pending = map[uint64]chan responseFrame{}
	close(p.done)
	p.mu.Unlock()

	p.conn.Close()
	for _, h := range handles {
		h.lost(err)
	}
}

func disconnected(cause error) error {
	msg := "page disconnected"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &provider.RPCError{Code: provider.CodeDisconnected, Message: msg}
}
