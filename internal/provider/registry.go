package provider

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"moff.io/mint-widget/pkg/errors"
)

// ID names a provider option. Only resumable ids are ever cached.
type ID string

const (
	Injected           ID = "injected"
	WalletConnect      ID = "walletconnect"
	CoinbaseWallet     ID = "coinbasewallet"
	CustomMetaMask     ID = "custom-metamask"
	CustomFakeMetaMask ID = "custom-fake-metamask"
)

// Resumable ids may be persisted and silently reconnected on the next load.
func (id ID) Resumable() bool {
	switch id {
	case Injected, CoinbaseWallet, CustomMetaMask:
		return true
	}
	return false
}

// Relay ids pair through a QR code and are never resumed.
func (id ID) Relay() bool {
	return id == WalletConnect || id == CustomFakeMetaMask
}

// Kind tags how a descriptor's connector reaches the wallet.
type Kind int

const (
	KindInjected Kind = iota
	KindRelay
	KindHosted
)

func (k Kind) String() string {
	switch k {
	case KindInjected:
		return "injected"
	case KindRelay:
		return "relay"
	case KindHosted:
		return "hosted"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Display struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Logo        string `json:"logo,omitempty"`
}

// Policy decides when a descriptor is offered for a device.
type Policy struct {
	// OnlyMobileInjected options appear exclusively on mobile browsers with an injected provider.
	OnlyMobileInjected bool
	// NeedsInjectedOnDesktop options are dropped on desktop browsers without an injected provider.
	NeedsInjectedOnDesktop bool
	// ForceOnlyWithoutInjected options are offered on mobile without injected provider only for an explicit connect.
	ForceOnlyWithoutInjected bool
}

// Device is what the page reports about the visitor's browser.
type Device struct {
	Mobile        bool   `json:"mobile"`
	Injected      bool   `json:"injected"`
	InjectedFlags Flags  `json:"injectedFlags"`
	PageURL       string `json:"pageUrl"`
}

// MobileOnlyInjected is a mobile browser with an injected provider, typically a wallet's in-app browser.
func (d Device) MobileOnlyInjected() bool {
	return d.Mobile && d.Injected
}

var mobileUserAgent = regexp.MustCompile(`(?i)android|webos|iphone|ipad|ipod|blackberry|iemobile|opera mini|mobile`)

// DetectMobile classifies a user agent.
func DetectMobile(userAgent string) bool {
	return mobileUserAgent.MatchString(userAgent)
}

// DeviceProbe reports the current device context.
type DeviceProbe interface {
	Device(ctx context.Context) (Device, error)
}

// StaticDevice is a DeviceProbe for a fixed context.
type StaticDevice Device

func (s StaticDevice) Device(context.Context) (Device, error) {
	return Device(s), nil
}

type ConnectRequest struct {
	Device Device
	Force  bool
}

// Connector negotiates a live handle for one descriptor.
type Connector interface {
	Connect(ctx context.Context, req ConnectRequest) (Provider, error)
}

type ConnectorFunc func(ctx context.Context, req ConnectRequest) (Provider, error)

func (f ConnectorFunc) Connect(ctx context.Context, req ConnectRequest) (Provider, error) {
	return f(ctx, req)
}

// Descriptor is one option offered to the visitor.
type Descriptor struct {
	ID        ID        `json:"id"`
	Kind      Kind      `json:"-"`
	Display   Display   `json:"display"`
	Policy    Policy    `json:"-"`
	Connector Connector `json:"-"`
}

func (d *Descriptor) offered(device Device, force bool) bool {
	if device.MobileOnlyInjected() {
		return d.Policy.OnlyMobileInjected
	}
	if d.Policy.OnlyMobileInjected {
		return false
	}
	if !device.Mobile && !device.Injected && d.Policy.NeedsInjectedOnDesktop {
		return false
	}
	if device.Mobile && !device.Injected && d.Policy.ForceOnlyWithoutInjected && !force {
		return false
	}
	return true
}

// ErrModalClosed carries the exact message wallets libraries use for a dismissed chooser.
var ErrModalClosed = errors.New("Modal closed by user")

// Chooser presents options to the visitor and returns the picked id.
type Chooser interface {
	Choose(ctx context.Context, options []Descriptor) (ID, error)
}

// DeepLinkError ends a connect attempt by sending the visitor to a wallet app.
type DeepLinkError struct {
	URL string
}

func (e *DeepLinkError) Error() string {
	return "User closed modal: redirected to " + e.URL
}

// Registry holds the static provider options in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []ID
	descs map[ID]Descriptor
}

func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{descs: make(map[ID]Descriptor)}
	for _, d := range descs {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descs[d.ID]; !ok {
		r.order = append(r.order, d.ID)
	}
	r.descs[d.ID] = d
}

func (r *Registry) Get(id ID) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[id]
	return d, ok
}

// Options returns the descriptors offered for device. On a mobile browser with an
// injected provider only the injected option is offered; on desktop without one the
// custom MetaMask option is dropped.
func (r *Registry) Options(device Device, force bool) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		d := r.descs[id]
		if d.offered(device, force) {
			out = append(out, d)
		}
	}
	return out
}
