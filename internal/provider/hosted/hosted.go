// Package hosted connects a wallet exposed by a hosted SDK endpoint speaking JSON-RPC.
package hosted

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

type Options struct {
	AppName string
	// Endpoint is the wallet SDK's JSON-RPC url. Account and chain events need a websocket endpoint.
	Endpoint string
	DarkMode bool
}

// NewConnector dials the hosted wallet and asks it for accounts.
func NewConnector(opts Options) provider.Connector {
	return provider.ConnectorFunc(func(ctx context.Context, _ provider.ConnectRequest) (provider.Provider, error) {
		if opts.Endpoint == "" {
			return nil, errors.New("hosted wallet endpoint not configured")
		}
		client, err := rpc.DialContext(ctx, opts.Endpoint)
		if err != nil {
			return nil, errors.Wrap(err, "dial hosted wallet")
		}
		if strings.HasPrefix(opts.Endpoint, "http") {
			client.SetHeader("X-App-Name", opts.AppName)
			if opts.DarkMode {
				client.SetHeader("X-Theme", "dark")
			}
		}
		var accounts []string
		if err := client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
			client.Close()
			return nil, err
		}
		w := &Wallet{client: client}
		w.subscribe(ctx)
		log.Infof("hosted - wallet %v granted %d accounts", opts.AppName, len(accounts))
		return w, nil
	})
}

// Wallet is a live hosted wallet handle.
type Wallet struct {
	provider.Emitter

	client *rpc.Client

	mu        sync.Mutex
	subs      []*rpc.ClientSubscription
	closeOnce sync.Once
}

func (w *Wallet) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := w.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

func (w *Wallet) Flags() provider.Flags {
	return provider.Flags{IsCoinbaseWallet: true}
}

// subscribe forwards the wallet's account and chain notifications. Endpoints
// without notification support still serve requests, they just never emit.
func (w *Wallet) subscribe(ctx context.Context) {
	accounts := make(chan []string, 4)
	accountSub, err := w.client.Subscribe(ctx, "eth", accounts, "accountsChanged")
	if err != nil {
		log.Warnf("hosted - subscribe accountsChanged:%v", err)
		return
	}
	chainIDs := make(chan string, 4)
	chainSub, err := w.client.Subscribe(ctx, "eth", chainIDs, "chainChanged")
	if err != nil {
		log.Warnf("hosted - subscribe chainChanged:%v", err)
		accountSub.Unsubscribe()
		return
	}
	w.mu.Lock()
	w.subs = []*rpc.ClientSubscription{accountSub, chainSub}
	w.mu.Unlock()

	go func() {
		for {
			select {
			case a := <-accounts:
				w.EmitAccounts(a)
			case c := <-chainIDs:
				w.EmitChain(c)
			case err := <-accountSub.Err():
				if err != nil {
					log.Warnf("hosted - account subscription ended:%v", err)
				}
				return
			case err := <-chainSub.Err():
				if err != nil {
					log.Warnf("hosted - chain subscription ended:%v", err)
				}
				return
			}
		}
	}()
}

// Close unsubscribes and drops the connection.
func (w *Wallet) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		subs := w.subs
		w.subs = nil
		w.mu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		w.client.Close()
	})
	return nil
}
