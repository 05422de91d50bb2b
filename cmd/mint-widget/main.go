package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"moff.io/mint-widget/internal/cache"
	"moff.io/mint-widget/internal/chains"
	"moff.io/mint-widget/internal/config"
	"moff.io/mint-widget/internal/contract"
	"moff.io/mint-widget/internal/gating"
	server "moff.io/mint-widget/internal/http"
	"moff.io/mint-widget/internal/metrics"
	"moff.io/mint-widget/internal/mint"
	"moff.io/mint-widget/internal/notify"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/internal/provider/bridge"
	"moff.io/mint-widget/internal/provider/hosted"
	"moff.io/mint-widget/internal/starter"
	"moff.io/mint-widget/internal/tx"
	"moff.io/mint-widget/internal/wallet"
	"moff.io/mint-widget/internal/walletconnect"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

const metaMaskLogo = "https://raw.githubusercontent.com/MetaMask/brand-resources/master/SVG/metamask-fox.svg"

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	cfg := config.Global
	log.SetLevelName(cfg.LogLevel)
	setupReporters(&cfg.Alarm)
	defer errors.FlushSentry(2 * time.Second)

	if err := cache.Init(&cfg.Redis); err != nil {
		log.Fatal(err)
	}
	defer cache.Close()

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheusRecorder()
		recorder, metricsHandler = prom, prom.Handler()
	}

	catalog := chains.FromConfig(cfg.Networks)
	network, err := catalog.Lookup(cfg.Contract.ChainID)
	if err != nil {
		log.Fatal(errors.Wrap(err, "contract chain must be one of the configured networks"))
	}
	chain, err := ethclient.Dial(network.RPCURL)
	if err != nil {
		log.Fatal(errors.WrapAndReport(err, "dial contract chain"))
	}
	defer chain.Close()

	binding, err := newBinding(cfg, chain)
	if err != nil {
		log.Fatal(err)
	}
	proInsightPrice, err := contract.ParseEther(cfg.Mint.ProInsightPrice)
	if err != nil {
		log.Fatal(errors.Wrap(err, "pro insight price"))
	}

	bus := notify.NewBus(0, recorder)
	chooser := notify.NewChooser(bus, 0)
	hub := bridge.NewHub(bridge.WithPageURL(cfg.App.PageURL))
	registry := newRegistry(cfg, hub, bus, catalog)

	store := cache.NewMemoryStore()
	if cache.Redis != nil {
		store = cache.NewRedisStore(cache.Redis, cfg.App.ID, 0)
	}
	gate := gating.NewClient(gating.Options{
		SessionURL:          cfg.Backend.SessionURL,
		UpdateStatusURL:     cfg.Backend.UpdateStatusURL,
		ScoreURL:            cfg.Backend.ScoreURL,
		Timeout:             cfg.Backend.Timeout,
		RatePerSecond:       cfg.Backend.RatePerSecond,
		PerAccountPerMinute: cfg.Backend.PerAccountLimit,
	}, cache.RateLimiter)

	manager := wallet.NewManager(registry, hub, chooser, store,
		wallet.WithGate(gate), wallet.WithObserver(bus), wallet.WithMetrics(recorder))
	switcher := wallet.NewSwitcher(manager, catalog)
	dispatcher := tx.NewDispatcher(chain, bus, tx.Options{
		PollInterval:  cfg.Mint.ReceiptPoll,
		RedirectURL:   cfg.Mint.RedirectURL,
		RedirectDelay: cfg.Mint.RedirectDelay,
		MaxWatchers:   cfg.Mint.MaxWatchers,
	}, recorder)
	service := mint.NewService(manager, switcher, binding, dispatcher, gate, bus, mint.Options{
		ChainID:         cfg.Contract.ChainID,
		DefaultGasLimit: cfg.Mint.DefaultGasLimit,
		GasSlippage:     cfg.Mint.GasLimitSlippage,
		ProInsightPrice: proInsightPrice,
		HideCounter:     cfg.Mint.HideCounter,
	})

	srv := server.NewServer(cfg.Server, cfg.Metrics.Path, server.Services{
		Manager:  manager,
		Switcher: switcher,
		Mint:     service,
		Hub:      hub,
		Bus:      bus,
		Chooser:  chooser,
		Metrics:  metricsHandler,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	starter.Start(ctx, srv)
	<-ctx.Done()
	log.Info("shutting down")
	starter.Stop(starter.StopFunc(dispatcher.Close), srv)
}

func setupReporters(alarm *config.Alarm) {
	if alarm.SentryDSN != "" {
		if err := errors.NewSentryReporter(alarm.SentryDSN); err != nil {
			log.Warnf("sentry reporter disabled:%v", err)
		}
	}
	if alarm.LarkWebhook != "" {
		errors.NewLarkReporter(alarm.LarkWebhook, alarm.LarkTitle, alarm.Silent)
	}
	if alarm.DingTalkWebhook != "" {
		errors.NewDingTalkReporter(alarm.DingTalkWebhook, alarm.DingTalkSecret, alarm.Silent)
	}
}

func newBinding(cfg *config.Configuration, chain contract.ChainReader) (*contract.Binding, error) {
	raw, err := cfg.Contract.ABIJSON()
	if err != nil {
		return nil, errors.Wrap(err, "read contract abi")
	}
	parsed, err := contract.ParseABI(raw)
	if err != nil {
		return nil, err
	}
	return contract.NewBinding(
		common.HexToAddress(cfg.Contract.Address),
		contract.NewResolver(parsed, cfg.Contract.Methods),
		chain,
		contract.Options{PriceConstant: cfg.Mint.Price, MaxPerMint: cfg.Mint.MaxPerMint},
	), nil
}

// newRegistry registers the wallet options in the order the chooser shows them.
func newRegistry(cfg *config.Configuration, hub *bridge.Hub, bus *notify.Bus, catalog *chains.Catalog) *provider.Registry {
	registry := provider.NewRegistry(
		provider.Descriptor{
			ID:        provider.Injected,
			Kind:      provider.KindInjected,
			Display:   provider.Display{Name: "Browser wallet", Description: "Connect with the wallet of this browser"},
			Policy:    provider.Policy{OnlyMobileInjected: true},
			Connector: hub.Connector(bridge.TargetDefault),
		},
		provider.Descriptor{
			ID:        provider.CustomMetaMask,
			Kind:      provider.KindInjected,
			Display:   provider.Display{Name: "MetaMask", Description: "Connect to your MetaMask wallet", Logo: metaMaskLogo},
			Policy:    provider.Policy{NeedsInjectedOnDesktop: true, ForceOnlyWithoutInjected: true},
			Connector: hub.Connector(bridge.TargetMetaMask),
		},
	)
	meta := walletconnect.ClientMeta{
		Name:        cfg.App.Name,
		Description: cfg.App.Description,
		URL:         cfg.App.PageURL,
		Icons:       cfg.App.Icons,
	}
	relay := walletconnect.Options{
		BridgeURL:   cfg.Relay.BridgeURL,
		ReadTimeout: cfg.Relay.ReadTimeout,
		Meta:        meta,
		RPC:         catalog.RPCMap(),
	}
	if !cfg.Relay.Disabled {
		registry.Register(provider.Descriptor{
			ID:        provider.WalletConnect,
			Kind:      provider.KindRelay,
			Display:   provider.Display{Name: "WalletConnect", Description: "Connect Rainbow, Trust, Ledger, Gnosis, or scan QR code"},
			Connector: walletconnect.NewConnector(relay, bus.ShowPairing),
		})
		if cfg.Relay.FakeMetaMask {
			mobile := relay
			mobile.Links = []string{"metamask"}
			registry.Register(provider.Descriptor{
				ID:        provider.CustomFakeMetaMask,
				Kind:      provider.KindRelay,
				Display:   provider.Display{Name: "MetaMask", Description: "Connect MetaMask mobile wallet via QR code", Logo: metaMaskLogo},
				Connector: walletconnect.NewConnector(mobile, bus.ShowPairing),
			})
		}
	}
	if !cfg.Hosted.Disabled && cfg.Hosted.RPCURL != "" {
		appName := cfg.Hosted.AppName
		if appName == "" {
			appName = cfg.App.Name
		}
		registry.Register(provider.Descriptor{
			ID:      provider.CoinbaseWallet,
			Kind:    provider.KindHosted,
			Display: provider.Display{Name: "Coinbase Wallet", Description: "Connect with Coinbase Wallet"},
			Connector: hosted.NewConnector(hosted.Options{
				AppName:  appName,
				Endpoint: cfg.Hosted.RPCURL,
				DarkMode: cfg.Hosted.DarkMode,
			}),
		})
	}
	return registry
}
