package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"moff.io/mint-widget/internal/provider"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b2"
)

var desktopWithInjected = provider.Device{Injected: true}

type fixture struct {
	registry *provider.Registry
	chooser  *fakeChooser
	store    *memoryStore
	observer *fakeObserver
	manager  *Manager
	handle   *fakeProvider
	connects *atomic.Int32
}

func newFixture(t *testing.T, device provider.Device, handle *fakeProvider) *fixture {
	t.Helper()
	f := &fixture{
		chooser:  &fakeChooser{pick: provider.CustomMetaMask},
		store:    &memoryStore{},
		observer: &fakeObserver{},
		handle:   handle,
		connects: atomic.NewInt32(0),
	}
	connector := provider.ConnectorFunc(func(ctx context.Context, req provider.ConnectRequest) (provider.Provider, error) {
		f.connects.Inc()
		return f.handle, nil
	})
	f.registry = provider.NewRegistry(
		provider.Descriptor{ID: provider.Injected, Kind: provider.KindInjected,
			Policy: provider.Policy{OnlyMobileInjected: true}, Connector: connector},
		provider.Descriptor{ID: provider.CustomMetaMask, Kind: provider.KindInjected,
			Policy: provider.Policy{NeedsInjectedOnDesktop: true, ForceOnlyWithoutInjected: true}, Connector: connector},
		provider.Descriptor{ID: provider.WalletConnect, Kind: provider.KindRelay, Connector: connector},
		provider.Descriptor{ID: provider.CoinbaseWallet, Kind: provider.KindHosted, Connector: connector},
	)
	f.manager = NewManager(f.registry, provider.StaticDevice(device), f.chooser, f.store,
		WithObserver(f.observer),
		WithGate(fakeGate{unlocked: map[common.Address]bool{common.HexToAddress(alice): true}}))
	return f
}

func TestConnectForcePromptsAndCachesResumable(t *testing.T) {
	handle := newFakeProvider([]string{alice}, "0x1")
	handle.flags = provider.Flags{IsMetaMask: true}
	f := newFixture(t, desktopWithInjected, handle)

	s, err := f.manager.Connect(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(alice), s.Account)
	assert.Equal(t, uint64(1), s.ChainID)
	assert.Equal(t, provider.CustomMetaMask, s.ProviderID)
	assert.True(t, s.Connected)
	assert.True(t, f.manager.IsConnected())
	assert.Equal(t, provider.CustomMetaMask, f.store.get())
	assert.Equal(t, 1, f.chooser.calls())

	accounts, chains := handle.ListenerCount()
	assert.Equal(t, 1, accounts)
	assert.Equal(t, 1, chains)

	assert.Eventually(t, func() bool {
		events := f.observer.gateEvents()
		return len(events) == 1 && events[0].unlocked
	}, time.Second, 10*time.Millisecond)
}

func TestConnectResolvesMetaMaskAsInjectedInsideMobileWallet(t *testing.T) {
	handle := newFakeProvider([]string{alice}, "0x1")
	handle.flags = provider.Flags{IsMetaMask: true}
	f := newFixture(t, provider.Device{Mobile: true, Injected: true}, handle)
	f.chooser.pick = provider.Injected

	s, err := f.manager.Connect(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, provider.Injected, s.ProviderID)
	assert.Equal(t, provider.Injected, f.store.get())
}

func TestConnectCachedRelayPromptsAgain(t *testing.T) {
	f := newFixture(t, desktopWithInjected, newFakeProvider([]string{alice}, "0x1"))
	f.store.id = provider.WalletConnect
	f.chooser.pick = provider.WalletConnect

	s, err := f.manager.Connect(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, s.Connected)
	assert.Equal(t, provider.WalletConnect, s.ProviderID)
	assert.Equal(t, 1, f.chooser.calls())
	assert.Equal(t, int32(1), f.connects.Load())
	assert.Empty(t, f.store.get())
}

func TestConnectCachedRelayDismissedIsCancelled(t *testing.T) {
	f := newFixture(t, desktopWithInjected, newFakeProvider([]string{alice}, "0x1"))
	f.store.id = provider.WalletConnect
	f.chooser.err = provider.ErrModalClosed

	_, err := f.manager.Connect(context.Background(), false)
	assert.ErrorIs(t, err, ErrUserCancelled)
	assert.Equal(t, 1, f.chooser.calls())
	assert.Equal(t, int32(0), f.connects.Load())
	assert.Empty(t, f.store.get())
	assert.Equal(t, 0, f.observer.alertCount())
}

func TestConnectRelayIsNotCached(t *testing.T) {
	f := newFixture(t, desktopWithInjected, newFakeProvider([]string{alice}, "0x1"))
	f.chooser.pick = provider.WalletConnect

	s, err := f.manager.Connect(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, provider.WalletConnect, s.ProviderID)
	assert.Empty(t, f.store.get())
}

func TestConnectResumesCachedWithoutPrompt(t *testing.T) {
	f := newFixture(t, desktopWithInjected, newFakeProvider([]string{alice}, "0x89"))
	f.store.id = provider.CoinbaseWallet

	s, err := f.manager.Connect(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, provider.CoinbaseWallet, s.ProviderID)
	assert.Equal(t, uint64(137), s.ChainID)
	assert.Equal(t, 0, f.chooser.calls())
}

func TestConnectWithoutCacheOrForceIsSilent(t *testing.T) {
	f := newFixture(t, desktopWithInjected, newFakeProvider([]string{alice}, "0x1"))
	s, err := f.manager.Connect(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, Session{}, s)
	assert.Equal(t, 0, f.chooser.calls())
}

func TestConnectDropsNonInjectedCacheInsideMobileWallet(t *testing.T) {
	f := newFixture(t, provider.Device{Mobile: true, Injected: true}, newFakeProvider([]string{alice}, "0x1"))
	f.store.id = provider.CustomMetaMask
	f.chooser.pick = provider.Injected

	s, err := f.manager.Connect(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, s.Connected)
	require.Equal(t, 1, f.chooser.calls())
	require.Len(t, f.chooser.offered[0], 1)
	assert.Equal(t, provider.Injected, f.chooser.offered[0][0].ID)
	assert.Equal(t, provider.Injected, f.store.get())
}

func TestConnectDesktopWithoutInjectedPairsRelayUncached(t *testing.T) {
	f := newFixture(t, provider.Device{}, newFakeProvider([]string{alice}, "0x1"))
	f.chooser.pick = provider.WalletConnect

	s, err := f.manager.Connect(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, provider.WalletConnect, s.ProviderID)
	assert.True(t, s.Connected)

	require.Equal(t, 1, f.chooser.calls())
	var offered []provider.ID
	for _, d := range f.chooser.offered[0] {
		offered = append(offered, d.ID)
	}
	assert.Equal(t, []provider.ID{provider.WalletConnect, provider.CoinbaseWallet}, offered)
	assert.Empty(t, f.store.get())
}

func TestConnectAbortsWhenAccountsDropMidway(t *testing.T) {
	handle := newFakeProvider([]string{alice}, "0x1")
	handle.flags = provider.Flags{IsMetaMask: true}
	handle.on("eth_accounts", func([]interface{}) (interface{}, error) {
		handle.EmitAccounts(nil)
		return []string{alice}, nil
	})
	f := newFixture(t, desktopWithInjected, handle)

	s, err := f.manager.Connect(context.Background(), true)
	assert.ErrorIs(t, err, ErrUserCancelled)
	assert.False(t, s.Connected)
	assert.False(t, f.manager.IsConnected())
	assert.Empty(t, f.store.get())
	assert.Equal(t, 0, f.observer.alertCount())
	for _, g := range f.observer.gateEvents() {
		assert.False(t, g.unlocked)
	}
}

func TestConcurrentConnectsShareOneNegotiation(t *testing.T) {
	handle := newFakeProvider([]string{alice}, "0x1")
	f := newFixture(t, desktopWithInjected, handle)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.registry.Register(provider.Descriptor{ID: provider.CustomMetaMask, Kind: provider.KindInjected,
		Connector: provider.ConnectorFunc(func(ctx context.Context, req provider.ConnectRequest) (provider.Provider, error) {
			f.connects.Inc()
			once.Do(func() { close(entered) })
			<-release
			return handle, nil
		})})

	const callers = 8
	results := make(chan Session, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s, err := f.manager.Connect(context.Background(), true)
		assert.NoError(t, err)
		results <- s
	}()
	<-entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.manager.Connect(context.Background(), true)
			assert.NoError(t, err)
			results <- s
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), f.connects.Load())
	assert.Equal(t, 1, f.chooser.calls())
	for s := range results {
		assert.Equal(t, common.HexToAddress(alice), s.Account)
	}
	accounts, chains := handle.ListenerCount()
	assert.Equal(t, 1, accounts)
	assert.Equal(t, 1, chains)
}

func TestAccountEventsLastWriteWins(t *testing.T) {
	handle := newFakeProvider([]string{alice}, "0x1")
	f := newFixture(t, desktopWithInjected, handle)
	_, err := f.manager.Connect(context.Background(), true)
	require.NoError(t, err)

	handle.EmitAccounts([]string{bob})
	handle.EmitAccounts([]string{alice})
	handle.EmitAccounts([]string{bob})
	assert.Equal(t, common.HexToAddress(bob), f.manager.Session().Account)

	// an observation taken before the latest event must not overwrite it
	assert.False(t, f.manager.setAccount(1, common.HexToAddress(alice)))
	assert.Equal(t, common.HexToAddress(bob), f.manager.Session().Account)

	handle.EmitChain("0x89")
	assert.Equal(t, uint64(137), f.manager.Session().ChainID)
	handle.EmitChain("not-a-chain")
	assert.Equal(t, uint64(137), f.manager.Session().ChainID)
}

func TestEmptyAccountsDisconnects(t *testing.T) {
	handle := newFakeProvider([]string{alice}, "0x1")
	f := newFixture(t, desktopWithInjected, handle)
	_, err := f.manager.Connect(context.Background(), true)
	require.NoError(t, err)
	require.NotEmpty(t, f.store.get())

	handle.EmitAccounts(nil)

	assert.False(t, f.manager.IsConnected())
	assert.Equal(t, Session{}, f.manager.Session())
	assert.Empty(t, f.store.get())
	assert.Equal(t, int32(1), handle.closed.Load())
	accounts, chains := handle.ListenerCount()
	assert.Zero(t, accounts)
	assert.Zero(t, chains)
	assert.Contains(t, f.observer.gateEvents(), gateEvent{common.Address{}, false})
}

func TestDisconnectIsIdempotent(t *testing.T) {
	handle := newFakeProvider([]string{alice}, "0x1")
	f := newFixture(t, desktopWithInjected, handle)
	_, err := f.manager.Connect(context.Background(), true)
	require.NoError(t, err)

	require.NoError(t, f.manager.Disconnect(context.Background()))
	require.NoError(t, f.manager.Disconnect(context.Background()))
	assert.Equal(t, int32(1), handle.closed.Load())
	assert.Equal(t, Session{}, f.manager.Session())
	assert.Nil(t, f.manager.Provider())
}

func TestCancellationIsNotAlerted(t *testing.T) {
	for _, cause := range []error{
		provider.ErrModalClosed,
		errors.New("User rejected the request."),
		errors.New("User closed modal"),
		&provider.RPCError{Code: provider.CodeUserRejected, Message: "denied"},
	} {
		f := newFixture(t, desktopWithInjected, newFakeProvider([]string{alice}, "0x1"))
		f.chooser.err = cause

		_, err := f.manager.Connect(context.Background(), true)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUserCancelled), cause.Error())
		assert.Zero(t, f.observer.alertCount(), cause.Error())
	}
}

func TestEmptyAccountsAfterConnectIsCancellation(t *testing.T) {
	handle := newFakeProvider(nil, "0x1")
	f := newFixture(t, desktopWithInjected, handle)

	_, err := f.manager.Connect(context.Background(), true)
	assert.True(t, errors.Is(err, ErrUserCancelled))
	assert.False(t, f.manager.IsConnected())
	assert.Zero(t, f.observer.alertCount())
}

func TestConnectFailureIsAlerted(t *testing.T) {
	f := newFixture(t, desktopWithInjected, nil)
	f.registry.Register(provider.Descriptor{ID: provider.CustomMetaMask,
		Connector: provider.ConnectorFunc(func(context.Context, provider.ConnectRequest) (provider.Provider, error) {
			return nil, errors.New("bridge unreachable")
		})})

	_, err := f.manager.Connect(context.Background(), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionFailed))
	assert.Equal(t, "bridge unreachable", err.Error())
	assert.Equal(t, 1, f.observer.alertCount())
}

func TestDeepLinkIsReportedAndCancelled(t *testing.T) {
	f := newFixture(t, provider.Device{Mobile: true}, nil)
	f.registry.Register(provider.Descriptor{ID: provider.CustomMetaMask,
		Connector: provider.ConnectorFunc(func(context.Context, provider.ConnectRequest) (provider.Provider, error) {
			return nil, &provider.DeepLinkError{URL: "https://metamask.app.link/dapp/example.com"}
		})})

	_, err := f.manager.Connect(context.Background(), true)
	assert.True(t, errors.Is(err, ErrUserCancelled))
	assert.Equal(t, []string{"https://metamask.app.link/dapp/example.com"}, f.observer.deepLinks)
	assert.Zero(t, f.observer.alertCount())
}

func TestMobileInjectedOffersOnlyInjected(t *testing.T) {
	f := newFixture(t, provider.Device{Mobile: true, Injected: true}, newFakeProvider([]string{alice}, "0x1"))
	f.chooser.pick = provider.Injected
	_, err := f.manager.Connect(context.Background(), true)
	require.NoError(t, err)

	require.Len(t, f.chooser.offered, 1)
	require.Len(t, f.chooser.offered[0], 1)
	assert.Equal(t, provider.Injected, f.chooser.offered[0][0].ID)
}

func TestCurrentAccountFallsBackToEnable(t *testing.T) {
	handle := newFakeProvider([]string{alice}, "0x1")
	f := newFixture(t, desktopWithInjected, handle)
	_, err := f.manager.Connect(context.Background(), true)
	require.NoError(t, err)

	handle.on("eth_requestAccounts", func([]interface{}) (interface{}, error) {
		return nil, errors.New("method not supported")
	})
	handle.answer("eth_accounts", []string{bob})

	account, err := f.manager.CurrentAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(bob), account)
	assert.Equal(t, int32(1), handle.enabled.Load())
	assert.Equal(t, common.HexToAddress(bob), f.manager.Session().Account)
}

func TestEnsureConnectedConnectsWhenNeeded(t *testing.T) {
	f := newFixture(t, desktopWithInjected, newFakeProvider([]string{alice}, "0x1"))
	account, err := f.manager.EnsureConnected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(alice), account)

	_, err = NewManager(f.registry, provider.StaticDevice{}, &fakeChooser{err: provider.ErrModalClosed}, &memoryStore{}).
		EnsureConnected(context.Background())
	assert.True(t, errors.Is(err, ErrUserCancelled))
}

func TestShortAccount(t *testing.T) {
	s := Session{Account: common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")}
	assert.Equal(t, "0x1234...5678", s.ShortAccount())
	assert.Empty(t, Session{}.ShortAccount())
}

func TestParseChainID(t *testing.T) {
	for in, want := range map[string]uint64{"0x1": 1, "0x89": 137, "0x01": 1, "137": 137} {
		got, err := parseChainID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseChainID("0xzz")
	assert.Error(t, err)
}
