package tx

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"moff.io/mint-widget/internal/metrics"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/concurrent"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

const (
	defaultPollInterval  = time.Second
	defaultRedirectDelay = 800 * time.Millisecond
	defaultMaxWatchers   = 8
)

var errReverted = errors.New("transaction reverted")

// ReceiptReader looks up mined receipts; ethclient.Client satisfies it.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Observer receives lifecycle notifications. Implementations must not block.
type Observer interface {
	TransactionHash(Snapshot)
	TransactionConfirmed(Snapshot)
	TransactionFailed(Snapshot)
	TransactionRejected(Snapshot)
	Alert(err error)
	Redirect(url string)
}

type nopObserver struct{}

func (nopObserver) TransactionHash(Snapshot)      {}
func (nopObserver) TransactionConfirmed(Snapshot) {}
func (nopObserver) TransactionFailed(Snapshot)    {}
func (nopObserver) TransactionRejected(Snapshot)  {}
func (nopObserver) Alert(error)                   {}
func (nopObserver) Redirect(string)               {}

type Options struct {
	PollInterval   time.Duration
	RedirectURL    string
	RedirectDelay  time.Duration
	MaxWatchers    int
	ConfirmTimeout time.Duration
}

// Dispatcher submits prepared transactions through a wallet and watches them to one confirmation.
type Dispatcher struct {
	receipts ReceiptReader
	observer Observer
	metrics  metrics.Recorder
	opts     Options
	watchers concurrent.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(receipts ReceiptReader, observer Observer, opts Options, recorder metrics.Recorder) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = defaultRedirectDelay
	}
	if opts.MaxWatchers <= 0 {
		opts.MaxWatchers = defaultMaxWatchers
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		receipts: receipts,
		observer: observer,
		metrics:  recorder,
		opts:     opts,
		watchers: concurrent.NewLimiter(opts.MaxWatchers),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit returns at once; signing, hash and confirmation are reported through the handle and the observer.
func (d *Dispatcher) Submit(p provider.Provider, params Params, label string) *Handle {
	h := newHandle(label)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(p, params, h)
	}()
	return h
}

// Close stops every watcher and waits for them to return.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) run(p provider.Provider, params Params, h *Handle) {
	start := time.Now()
	labels := map[string]string{"provider": h.label}

	var hash common.Hash
	err := provider.Call(d.ctx, p, &hash, "eth_sendTransaction", params.args())
	if err != nil {
		d.submitFailed(h, err)
		return
	}
	if err := h.setHash(hash); err != nil {
		log.Errorf("tx - %v set hash %v:%v", h.id, hash.Hex(), err)
		return
	}
	log.Infof("tx - %v %v submitted as %v", h.label, h.id, hash.Hex())
	d.metrics.IncCounter("tx_submitted", labels)
	d.observer.TransactionHash(h.Snapshot())

	receipt, err := d.awaitReceipt(hash)
	if err != nil {
		log.Errorf("tx - %v waiting for %v:%v", h.id, hash.Hex(), err)
		d.fail(h, errors.Wrap(err, "wait for confirmation"))
		return
	}
	if receipt.Status == types.ReceiptStatusFailed {
		log.Warnf("tx - %v %v reverted in block %v", h.id, hash.Hex(), receipt.BlockNumber)
		d.fail(h, errReverted)
		return
	}
	if err := h.move(Confirmed, nil); err != nil {
		log.Errorf("tx - %v:%v", h.id, err)
		return
	}
	d.metrics.IncCounter("tx_confirmed", labels)
	d.metrics.ObserveLatency("tx_confirm", time.Since(start), labels)
	log.Infof("tx - %v confirmed in block %v", hash.Hex(), receipt.BlockNumber)
	d.observer.TransactionConfirmed(h.Snapshot())

	if url := d.opts.RedirectURL; url != "" {
		time.AfterFunc(d.opts.RedirectDelay, func() { d.observer.Redirect(url) })
	}
}

func (d *Dispatcher) submitFailed(h *Handle, err error) {
	code, message := provider.ParseError(err)
	if code == provider.CodeUserRejected {
		log.Infof("tx - %v rejected by user", h.id)
		d.metrics.IncCounter("tx_rejected", map[string]string{"provider": h.label})
		if err := h.move(RejectedByUser, err); err == nil {
			d.observer.TransactionRejected(h.Snapshot())
		}
		return
	}
	log.Errorf("tx - %v submission failed, code %d:%v", h.id, code, message)
	d.fail(h, &SubmissionError{Code: code, Message: message, Err: err})
}

func (d *Dispatcher) fail(h *Handle, err error) {
	if moveErr := h.move(Failed, err); moveErr != nil {
		log.Errorf("tx - %v:%v", h.id, moveErr)
		return
	}
	d.metrics.IncCounter("tx_failed", map[string]string{"provider": h.label})
	d.observer.TransactionFailed(h.Snapshot())
	d.observer.Alert(err)
}

// awaitReceipt polls until the transaction is mined, holding one watcher slot.
func (d *Dispatcher) awaitReceipt(hash common.Hash) (*types.Receipt, error) {
	ctx := d.ctx
	if d.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.ConfirmTimeout)
		defer cancel()
	}
	if err := d.watchers.AddContext(ctx); err != nil {
		return nil, err
	}
	defer d.watchers.Done()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := d.receipts.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			log.Warnf("tx - receipt lookup for %v:%v", hash.Hex(), err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
