package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/mint-widget/internal/metrics"
	"moff.io/mint-widget/internal/tx"
	"moff.io/mint-widget/internal/wallet"
	"moff.io/mint-widget/internal/walletconnect"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

// Event names delivered to subscribers.
const (
	SessionChanged       = "sessionChanged"
	GateChanged          = "gateChanged"
	TransactionHash      = "transactionHash"
	TransactionConfirmed = "transactionConfirmed"
	TransactionFailed    = "transactionFailed"
	TransactionRejected  = "transactionRejected"
	Alert                = "alert"
	DeepLink             = "deepLink"
	Redirect             = "redirect"
	RelayPairing         = "relayPairing"
	ChooseProvider       = "chooseProvider"
)

const defaultBuffer = 32

type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	At   time.Time   `json:"at"`
}

type gate struct {
	Account  common.Address `json:"account"`
	Unlocked bool           `json:"unlocked"`
}

type alert struct {
	Message string `json:"message"`
}

type link struct {
	URL string `json:"url"`
}

// Bus fans notifications out to every subscriber. A subscriber that can't keep up loses events, the publisher never blocks.
type Bus struct {
	buffer  int
	metrics metrics.Recorder

	mu   sync.RWMutex
	next uint64
	subs map[uint64]chan Event
	last map[string]Event
}

func NewBus(buffer int, recorder metrics.Recorder) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Bus{
		buffer:  buffer,
		metrics: recorder,
		subs:    make(map[uint64]chan Event),
		last:    make(map[string]Event),
	}
}

// Subscribe returns a channel of events, primed with the latest session and gate state.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	for _, typ := range []string{SessionChanged, GateChanged} {
		if ev, ok := b.last[typ]; ok {
			ch <- ev
		}
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers an event to every subscriber.
func (b *Bus) Publish(typ string, data interface{}) {
	ev := Event{Type: typ, Data: data, At: time.Now()}
	b.mu.Lock()
	if typ == SessionChanged || typ == GateChanged {
		b.last[typ] = ev
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("notify - subscriber %d is full, dropping %v", id, typ)
			b.metrics.IncCounter("event_dropped", nil)
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) SessionChanged(s wallet.Session) {
	b.Publish(SessionChanged, s)
}

func (b *Bus) GateChanged(account common.Address, unlocked bool) {
	b.Publish(GateChanged, gate{Account: account, Unlocked: unlocked})
}

// Alert is the one place user facing failures surface; the error also goes to the configured reporters.
func (b *Bus) Alert(err error) {
	if err == nil {
		return
	}
	log.Errorf("notify - alert:%v", err)
	errors.Report(err)
	b.metrics.IncCounter("alert", nil)
	b.Publish(Alert, alert{Message: err.Error()})
}

func (b *Bus) DeepLink(url string) {
	b.Publish(DeepLink, link{URL: url})
}

func (b *Bus) TransactionHash(s tx.Snapshot) {
	b.Publish(TransactionHash, s)
}

func (b *Bus) TransactionConfirmed(s tx.Snapshot) {
	b.Publish(TransactionConfirmed, s)
}

func (b *Bus) TransactionFailed(s tx.Snapshot) {
	b.Publish(TransactionFailed, s)
}

func (b *Bus) TransactionRejected(s tx.Snapshot) {
	b.Publish(TransactionRejected, s)
}

func (b *Bus) Redirect(url string) {
	b.Publish(Redirect, link{URL: url})
}

// ShowPairing is a walletconnect.DisplayFn.
func (b *Bus) ShowPairing(_ context.Context, p walletconnect.Pairing) error {
	if b.Subscribers() == 0 {
		return errors.New("no page listening to show the pairing code")
	}
	b.Publish(RelayPairing, p)
	return nil
}

var (
	_ wallet.Observer        = (*Bus)(nil)
	_ tx.Observer            = (*Bus)(nil)
	_ walletconnect.DisplayFn = (*Bus)(nil).ShowPairing
)
