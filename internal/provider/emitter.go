package provider

import "sync"

// Emitter keeps account and chain listeners for a handle. The zero value is ready to use.
type Emitter struct {
	mu       sync.RWMutex
	next     int
	accounts map[int]func([]string)
	chains   map[int]func(string)
}

func (e *Emitter) OnAccountsChanged(fn func(accounts []string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.accounts == nil {
		e.accounts = make(map[int]func([]string))
	}
	id := e.next
	e.next++
	e.accounts[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.accounts, id)
	}
}

func (e *Emitter) OnChainChanged(fn func(chainID string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chains == nil {
		e.chains = make(map[int]func(string))
	}
	id := e.next
	e.next++
	e.chains[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.chains, id)
	}
}

func (e *Emitter) EmitAccounts(accounts []string) {
	e.mu.RLock()
	fns := make([]func([]string), 0, len(e.accounts))
	for _, fn := range e.accounts {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(accounts)
	}
}

func (e *Emitter) EmitChain(chainID string) {
	e.mu.RLock()
	fns := make([]func(string), 0, len(e.chains))
	for _, fn := range e.chains {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(chainID)
	}
}

// ListenerCount returns the registered account and chain listener counts.
func (e *Emitter) ListenerCount() (accounts, chains int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.accounts), len(e.chains)
}
