package wallet

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
	"moff.io/mint-widget/internal/metrics"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

// ProviderStore persists the id of the last successfully connected resumable provider.
type ProviderStore interface {
	Get(ctx context.Context) (provider.ID, error)
	Set(ctx context.Context, id provider.ID) error
	Clear(ctx context.Context) error
}

// DisconnectNotifier is implemented by handles whose transport can drop, e.g. the page reloading.
type DisconnectNotifier interface {
	OnDisconnect(fn func(err error)) (unsubscribe func())
}

const gateCheckTimeout = 15 * time.Second

// Manager owns the one Session of the process and the live provider handle behind it.
type Manager struct {
	registry *provider.Registry
	probe    provider.DeviceProbe
	chooser  provider.Chooser
	store    ProviderStore
	gate     Gate
	observer Observer
	metrics  metrics.Recorder

	connects singleflight.Group
	sequence atomic.Uint64

	mu         sync.Mutex
	session    Session
	accountSeq uint64
	chainSeq   uint64
	handle     provider.Provider
	unsubs     []func()
}

type Option func(*Manager)

func WithGate(g Gate) Option {
	return func(m *Manager) { m.gate = g }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

func NewManager(registry *provider.Registry, probe provider.DeviceProbe, chooser provider.Chooser,
	store ProviderStore, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		probe:    probe,
		chooser:  chooser,
		store:    store,
		observer: nopObserver{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Provider returns the live handle, nil when disconnected.
func (m *Manager) Provider() provider.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// IsConnected is true when a handle is attached and it reported an account.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil && m.session.HasAccount()
}

// Connect resumes the cached provider or, with force, asks the visitor to pick one.
// Concurrent callers share a single negotiation and its outcome.
func (m *Manager) Connect(ctx context.Context, force bool) (Session, error) {
	start := time.Now()
	v, err, shared := m.connects.Do("connect", func() (interface{}, error) {
		return m.connect(ctx, force)
	})
	if shared {
		log.Debugf("wallet - connect coalesced onto in-flight negotiation")
	}
	if err != nil {
		return Session{}, err
	}
	s := v.(Session)
	m.metrics.ObserveLatency("connect", time.Since(start), map[string]string{"provider": string(s.ProviderID)})
	return s, nil
}

func (m *Manager) connect(ctx context.Context, force bool) (Session, error) {
	if m.IsConnected() {
		return m.Session(), nil
	}
	s, err := m.negotiate(ctx, force)
	if err == nil {
		if s.Connected {
			m.metrics.IncCounter("connect_success", map[string]string{"provider": string(s.ProviderID)})
		}
		return s, nil
	}
	var deepLink *provider.DeepLinkError
	if errors.As(err, &deepLink) {
		log.Infof("wallet - redirecting visitor to %v", deepLink.URL)
		m.observer.DeepLink(deepLink.URL)
	}
	err = Classify(err)
	if errors.Is(err, ErrUserCancelled) {
		log.Infof("wallet - connect cancelled by user:%v", err)
		m.metrics.IncCounter("connect_cancelled", nil)
		return Session{}, err
	}
	log.Errorf("wallet - connect failed:%v", err)
	m.metrics.IncCounter("connect_failed", nil)
	m.observer.Alert(err)
	return Session{}, err
}

func (m *Manager) negotiate(ctx context.Context, force bool) (Session, error) {
	device, err := m.probe.Device(ctx)
	if err != nil {
		return Session{}, errors.Wrap(err, "probe device")
	}
	cached, err := m.store.Get(ctx)
	if err != nil {
		log.Warnf("wallet - read cached provider:%v", err)
		cached = ""
	}
	// a dropped relay or stale in-app id is never resumed but still prompts
	prompt := force
	if cached != "" && (cached.Relay() || (device.MobileOnlyInjected() && cached != provider.Injected)) {
		log.Debugf("wallet - dropping cached provider %v, prompting again", cached)
		m.clearCache(ctx)
		cached = ""
		prompt = true
	}
	if cached == "" && !prompt {
		return Session{}, nil
	}

	var desc provider.Descriptor
	if cached != "" && !prompt {
		d, ok := m.registry.Get(cached)
		if !ok {
			log.Warnf("wallet - cached provider %v no longer registered", cached)
			m.clearCache(ctx)
			return Session{}, nil
		}
		desc = d
	} else {
		options := m.registry.Options(device, force)
		if len(options) == 0 {
			return Session{}, errors.New("no wallet provider available for this device")
		}
		id, err := m.chooser.Choose(ctx, options)
		if err != nil {
			return Session{}, err
		}
		d, ok := m.registry.Get(id)
		if !ok {
			return Session{}, errors.Errorf("unknown provider %v", id)
		}
		desc = d
	}

	handle, err := desc.Connector.Connect(ctx, provider.ConnectRequest{Device: device, Force: force})
	if err != nil {
		return Session{}, err
	}
	id := resolveID(desc.ID, provider.FlagsOf(handle), device)
	m.attach(handle, id)

	// sequence numbers are taken before querying so events arriving meanwhile win
	seq := m.sequence.Inc()
	var accounts []string
	if err := provider.Call(ctx, handle, &accounts, "eth_accounts"); err != nil || len(accounts) == 0 {
		dropped, _ := m.detach()
		release(dropped, nil)
		if err != nil {
			return Session{}, err
		}
		return Session{}, errors.New("accounts received is empty")
	}
	account := common.HexToAddress(accounts[0])
	m.setAccount(seq, account)

	var chainHex string
	if err := provider.Call(ctx, handle, &chainHex, "eth_chainId"); err != nil {
		log.Warnf("wallet - read chain id from %v:%v", id, err)
	} else if chainID, err := parseChainID(chainHex); err == nil {
		m.setChain(seq, chainID)
	}
	if !m.current(handle) {
		log.Infof("wallet - %v dropped its accounts while connecting", id)
		return Session{}, errors.New("accounts received is empty")
	}

	if id.Resumable() {
		if err := m.store.Set(ctx, id); err != nil {
			log.Warnf("wallet - cache provider %v:%v", id, err)
		}
	} else {
		m.clearCache(ctx)
	}
	log.Infof("wallet - connected %v via %v", account.Hex(), id)
	go m.checkGate(account)
	return m.Session(), nil
}

// resolveID names a connected handle by the wallet behind it rather than by the option picked.
func resolveID(picked provider.ID, flags provider.Flags, device provider.Device) provider.ID {
	switch {
	case flags.IsMetaMask:
		if device.MobileOnlyInjected() {
			return provider.Injected
		}
		return provider.CustomMetaMask
	case flags.IsCoinbaseWallet:
		if device.MobileOnlyInjected() {
			return provider.Injected
		}
		return provider.CoinbaseWallet
	}
	return picked
}

// attach swaps in handle and registers exactly one account and one chain listener on it.
func (m *Manager) attach(handle provider.Provider, id provider.ID) {
	unsubs := []func(){
		handle.OnAccountsChanged(func(accounts []string) { m.onAccountsChanged(handle, accounts) }),
		handle.OnChainChanged(func(chainID string) { m.onChainChanged(handle, chainID) }),
	}
	if n, ok := handle.(DisconnectNotifier); ok {
		unsubs = append(unsubs, n.OnDisconnect(func(err error) { m.onTransportLost(handle, err) }))
	}

	m.mu.Lock()
	previous, previousUnsubs := m.handle, m.unsubs
	m.handle = handle
	m.unsubs = unsubs
	m.session.ProviderID = id
	m.session.Connected = true
	snapshot := m.session
	m.mu.Unlock()

	release(previous, previousUnsubs)
	m.observer.SessionChanged(snapshot)
}

// detach drops the handle and resets the session without touching the cache.
func (m *Manager) detach() (provider.Provider, bool) {
	seq := m.sequence.Inc()
	m.mu.Lock()
	handle, unsubs := m.handle, m.unsubs
	changed := handle != nil || m.session != (Session{})
	m.handle = nil
	m.unsubs = nil
	m.session = Session{}
	m.accountSeq = seq
	m.chainSeq = seq
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if changed {
		m.observer.SessionChanged(Session{})
	}
	return handle, changed
}

func release(handle provider.Provider, unsubs []func()) {
	for _, unsub := range unsubs {
		unsub()
	}
	if handle == nil {
		return
	}
	if c, ok := handle.(provider.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warnf("wallet - close replaced provider:%v", err)
		}
	}
}

// Disconnect closes the handle when it can be closed, clears the cached id and
// resets the session. Calling it while disconnected only re-clears the cache.
func (m *Manager) Disconnect(ctx context.Context) error {
	handle, changed := m.detach()
	if handle != nil {
		if c, ok := handle.(provider.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warnf("wallet - close provider:%v", err)
			}
		}
	}
	m.clearCache(ctx)
	if changed {
		log.Info("wallet - disconnected")
		m.metrics.IncCounter("disconnect", nil)
	}
	return nil
}

// CurrentAccount asks the wallet for its active account, falling back to the
// legacy enable() flow for wallets that refuse eth_requestAccounts.
func (m *Manager) CurrentAccount(ctx context.Context) (common.Address, error) {
	handle := m.Provider()
	if handle == nil {
		return common.Address{}, ErrNotConnected
	}
	seq := m.sequence.Inc()
	var accounts []string
	err := provider.Call(ctx, handle, &accounts, "eth_requestAccounts")
	if err != nil || len(accounts) == 0 {
		log.Debugf("wallet - eth_requestAccounts failed, trying enable:%v", err)
		if enabler, ok := handle.(provider.Enabler); ok {
			if _, err := enabler.Enable(ctx); err != nil {
				log.Warnf("wallet - enable:%v", err)
			}
		}
		accounts = nil
		if err := provider.Call(ctx, handle, &accounts, "eth_accounts"); err != nil {
			return common.Address{}, Classify(err)
		}
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoAccount
	}
	account := common.HexToAddress(accounts[0])
	m.setAccount(seq, account)
	return account, nil
}

// EnsureConnected connects with a prompt when needed and returns the active account.
func (m *Manager) EnsureConnected(ctx context.Context) (common.Address, error) {
	if !m.IsConnected() {
		if _, err := m.Connect(ctx, true); err != nil {
			return common.Address{}, err
		}
		if !m.IsConnected() {
			return common.Address{}, ErrNotConnected
		}
	}
	return m.CurrentAccount(ctx)
}

// SyncChain re-reads the chain id from the wallet.
func (m *Manager) SyncChain(ctx context.Context) (uint64, error) {
	handle := m.Provider()
	if handle == nil {
		return 0, ErrNotConnected
	}
	seq := m.sequence.Inc()
	var chainHex string
	if err := provider.Call(ctx, handle, &chainHex, "eth_chainId"); err != nil {
		return 0, err
	}
	chainID, err := parseChainID(chainHex)
	if err != nil {
		return 0, err
	}
	m.setChain(seq, chainID)
	return chainID, nil
}

func (m *Manager) current(handle provider.Provider) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle == handle
}

func (m *Manager) onAccountsChanged(handle provider.Provider, accounts []string) {
	seq := m.sequence.Inc()
	if !m.current(handle) {
		return
	}
	if len(accounts) == 0 {
		log.Info("wallet - provider reported no accounts, disconnecting")
		if err := m.Disconnect(context.Background()); err != nil {
			log.Warnf("wallet - implicit disconnect:%v", err)
		}
		m.observer.GateChanged(common.Address{}, false)
		return
	}
	account := common.HexToAddress(accounts[0])
	if m.setAccount(seq, account) {
		log.Infof("wallet - account changed to %v", account.Hex())
		go m.checkGate(account)
	}
}

func (m *Manager) onChainChanged(handle provider.Provider, chainHex string) {
	seq := m.sequence.Inc()
	if !m.current(handle) {
		return
	}
	chainID, err := parseChainID(chainHex)
	if err != nil {
		log.Warnf("wallet - ignoring malformed chain id %q:%v", chainHex, err)
		return
	}
	if m.setChain(seq, chainID) {
		log.Infof("wallet - chain changed to %d", chainID)
	}
}

func (m *Manager) onTransportLost(handle provider.Provider, err error) {
	if !m.current(handle) {
		return
	}
	log.Warnf("wallet - provider transport lost:%v", err)
	m.detach()
}

// setAccount applies an account observed at seq unless a newer observation already landed.
func (m *Manager) setAccount(seq uint64, account common.Address) bool {
	m.mu.Lock()
	if seq < m.accountSeq || m.handle == nil {
		m.mu.Unlock()
		log.Debugf("wallet - dropping stale account observation %v", account.Hex())
		return false
	}
	m.accountSeq = seq
	changed := m.session.Account != account
	m.session.Account = account
	snapshot := m.session
	m.mu.Unlock()
	if changed {
		m.observer.SessionChanged(snapshot)
	}
	return changed
}

func (m *Manager) setChain(seq uint64, chainID uint64) bool {
	m.mu.Lock()
	if seq < m.chainSeq || m.handle == nil {
		m.mu.Unlock()
		log.Debugf("wallet - dropping stale chain observation %d", chainID)
		return false
	}
	m.chainSeq = seq
	changed := m.session.ChainID != chainID
	m.session.ChainID = chainID
	snapshot := m.session
	m.mu.Unlock()
	if changed {
		m.observer.SessionChanged(snapshot)
	}
	return changed
}

func (m *Manager) checkGate(account common.Address) {
	if m.gate == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), gateCheckTimeout)
	defer cancel()
	unlocked := m.gate.Unlocked(ctx, account)
	if m.Session().Account != account {
		return
	}
	m.observer.GateChanged(account, unlocked)
}

func (m *Manager) clearCache(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		log.Warnf("wallet - clear cached provider:%v", err)
	}
}

// parseChainID accepts the hex quantity EIP-1193 mandates and the decimal strings some wallets send.
func parseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
