package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

const metaMaskDeepLink = "https://metamask.app.link/dapp/"

// ErrNoInjectedProvider is returned when the page has no wallet to talk to.
var ErrNoInjectedProvider = errors.New("no injected provider on the page")

// Handle is one injected provider of the attached page.
type Handle struct {
	provider.Emitter

	page   *page
	target Target
	flags  provider.Flags

	mu      sync.Mutex
	nextSub int
	onLost  map[int]func(error)
}

func (h *Handle) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	return h.page.call(ctx, h.target, method, params)
}

func (h *Handle) Flags() provider.Flags {
	return h.flags
}

// Enable runs the legacy ethereum.enable() flow on the page.
func (h *Handle) Enable(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := provider.Call(ctx, h, &accounts, "enable"); err != nil {
		return nil, err
	}
	return accounts, nil
}

// OnDisconnect registers fn to run once when the page goes away.
func (h *Handle) OnDisconnect(fn func(err error)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.onLost == nil {
		h.onLost = make(map[int]func(error))
	}
	id := h.nextSub
	h.nextSub++
	h.onLost[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.onLost, id)
	}
}

// Close stops routing page events to the handle. The wallet itself stays connected in the page.
func (h *Handle) Close() error {
	h.page.unregister(h)
	return nil
}

func (h *Handle) lost(err error) {
	h.mu.Lock()
	fns := make([]func(error), 0, len(h.onLost))
	for _, fn := range h.onLost {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// DeepLink opens pageURL inside the MetaMask mobile app.
func DeepLink(pageURL string) string {
	return metaMaskDeepLink + strings.TrimPrefix(pageURL, "https://")
}

// Connector returns the connector for an injected option. TargetMetaMask picks the
// MetaMask provider when several wallets inject, and on a mobile browser without any
// injected wallet it sends the visitor to the MetaMask app instead.
func (h *Hub) Connector(target Target) provider.Connector {
	return provider.ConnectorFunc(func(ctx context.Context, req provider.ConnectRequest) (provider.Provider, error) {
		if target == TargetMetaMask && req.Device.Mobile && !req.Device.Injected {
			if !req.Force {
				return nil, ErrNoInjectedProvider
			}
			pageURL := req.Device.PageURL
			if pageURL == "" {
				pageURL = h.pageURL
			}
			return nil, &provider.DeepLinkError{URL: DeepLink(pageURL)}
		}
		p, err := h.waitPage(ctx)
		if err != nil {
			return nil, err
		}
		flags, ok := p.flagsFor(target)
		if !ok {
			return nil, ErrNoInjectedProvider
		}
		handle := &Handle{page: p, target: target, flags: flags}
		p.register(handle)

		var accounts []string
		if err := provider.Call(ctx, handle, &accounts, "eth_requestAccounts"); err != nil {
			p.unregister(handle)
			return nil, err
		}
		log.Debugf("bridge - %v provider granted %d accounts", target, len(accounts))
		return handle, nil
	})
}

func (p *page) flagsFor(target Target) (provider.Flags, bool) {
	if len(p.providers) == 0 {
		if !p.device.Injected {
			return provider.Flags{}, false
		}
		return p.device.InjectedFlags, true
	}
	if target == TargetMetaMask && len(p.providers) > 1 {
		for _, info := range p.providers {
			if info.Flags.IsMetaMask {
				return info.Flags, true
			}
		}
	}
	return p.providers[0].Flags, true
}
