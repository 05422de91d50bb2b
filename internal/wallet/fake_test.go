package wallet

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
	"moff.io/mint-widget/internal/provider"
)

type call struct {
	method string
	params []interface{}
}

// fakeProvider answers requests from a per-method script.
type fakeProvider struct {
	provider.Emitter

	mu      sync.Mutex
	script  map[string]func(params []interface{}) (interface{}, error)
	calls   []call
	flags   provider.Flags
	closed  atomic.Int32
	enabled atomic.Int32
}

func newFakeProvider(accounts []string, chainID string) *fakeProvider {
	p := &fakeProvider{script: map[string]func([]interface{}) (interface{}, error){}}
	p.answer("eth_accounts", accounts)
	p.answer("eth_requestAccounts", accounts)
	p.answer("eth_chainId", chainID)
	return p
}

func (p *fakeProvider) answer(method string, result interface{}) {
	p.on(method, func([]interface{}) (interface{}, error) { return result, nil })
}

func (p *fakeProvider) on(method string, fn func(params []interface{}) (interface{}, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script[method] = fn
}

func (p *fakeProvider) Request(_ context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls = append(p.calls, call{method: method, params: params})
	fn := p.script[method]
	p.mu.Unlock()
	if fn == nil {
		return nil, &provider.RPCError{Code: provider.CodeUnsupportedMethod, Message: "unsupported " + method}
	}
	out, err := fn(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (p *fakeProvider) callsTo(method string) []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []call
	for _, c := range p.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakeProvider) Flags() provider.Flags {
	return p.flags
}

func (p *fakeProvider) Close() error {
	p.closed.Inc()
	return nil
}

func (p *fakeProvider) Enable(context.Context) ([]string, error) {
	p.enabled.Inc()
	return nil, nil
}

type fakeChooser struct {
	mu      sync.Mutex
	pick    provider.ID
	err     error
	offered [][]provider.Descriptor
}

func (c *fakeChooser) Choose(_ context.Context, options []provider.Descriptor) (provider.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offered = append(c.offered, options)
	return c.pick, c.err
}

func (c *fakeChooser) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offered)
}

type gateEvent struct {
	account  common.Address
	unlocked bool
}

type fakeObserver struct {
	mu        sync.Mutex
	sessions  []Session
	gates     []gateEvent
	alerts    []error
	deepLinks []string
}

func (o *fakeObserver) SessionChanged(s Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions = append(o.sessions, s)
}

func (o *fakeObserver) GateChanged(account common.Address, unlocked bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gates = append(o.gates, gateEvent{account, unlocked})
}

func (o *fakeObserver) Alert(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, err)
}

func (o *fakeObserver) DeepLink(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deepLinks = append(o.deepLinks, url)
}

func (o *fakeObserver) alertCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.alerts)
}

func (o *fakeObserver) gateEvents() []gateEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]gateEvent(nil), o.gates...)
}

type fakeGate struct {
	unlocked map[common.Address]bool
}

func (g fakeGate) Unlocked(_ context.Context, account common.Address) bool {
	return g.unlocked[account]
}

type memoryStore struct {
	mu sync.Mutex
	id provider.ID
}

func (s *memoryStore) Get(context.Context) (provider.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *memoryStore) Set(_ context.Context, id provider.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

func (s *memoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	return nil
}

func (s *memoryStore) get() provider.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}
