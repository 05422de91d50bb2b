package notify

import (
	"context"
	"sync"
	"time"

	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

var (
	ErrNoPendingChoice = errors.New("no provider choice pending")
	ErrUnknownChoice   = errors.New("provider was not offered")
)

const defaultChooseTimeout = 5 * time.Minute

type choice struct {
	options []provider.Descriptor
	picked  chan provider.ID
}

// Chooser asks the page to show the provider modal and waits for the visitor's pick.
type Chooser struct {
	bus     *Bus
	timeout time.Duration

	mu      sync.Mutex
	pending *choice
}

func NewChooser(bus *Bus, timeout time.Duration) *Chooser {
	if timeout <= 0 {
		timeout = defaultChooseTimeout
	}
	return &Chooser{bus: bus, timeout: timeout}
}

// Choose implements provider.Chooser. Dismissing the modal or letting it time out
// ends with provider.ErrModalClosed.
func (c *Chooser) Choose(ctx context.Context, options []provider.Descriptor) (provider.ID, error) {
	ch := &choice{options: options, picked: make(chan provider.ID, 1)}
	c.mu.Lock()
	if c.pending != nil {
		close(c.pending.picked)
	}
	c.pending = ch
	c.mu.Unlock()
	defer c.clear(ch)

	c.bus.Publish(ChooseProvider, options)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case id, ok := <-ch.picked:
		if !ok || id == "" {
			return "", provider.ErrModalClosed
		}
		log.Debugf("notify - visitor picked %v", id)
		return id, nil
	case <-timer.C:
		return "", provider.ErrModalClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pick delivers the visitor's choice, an empty id closes the modal.
func (c *Chooser) Pick(id provider.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return ErrNoPendingChoice
	}
	if id != "" && !offered(c.pending.options, id) {
		return errors.Wrapf(ErrUnknownChoice, "%v", id)
	}
	c.pending.picked <- id
	c.pending = nil
	return nil
}

// Pending returns the options of the open modal.
func (c *Chooser) Pending() ([]provider.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil, false
	}
	return c.pending.options, true
}

func (c *Chooser) clear(ch *choice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == ch {
		c.pending = nil
	}
}

func offered(options []provider.Descriptor, id provider.ID) bool {
	for _, d := range options {
		if d.ID == id {
			return true
		}
	}
	return false
}
