package tx

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"moff.io/mint-widget/pkg/errors"
)

// State is a position in the transaction lifecycle.
type State int32

const (
	PendingSignature State = iota
	PendingConfirmation
	Confirmed
	Failed
	RejectedByUser
)

var stateNames = map[State]string{
	PendingSignature:    "pending-signature",
	PendingConfirmation: "pending-confirmation",
	Confirmed:           "confirmed",
	Failed:              "failed",
	RejectedByUser:      "rejected-by-user",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Confirmed || s == Failed || s == RejectedByUser
}

// allowed lists the forward transitions out of each state.
var allowed = map[State][]State{
	PendingSignature:    {PendingConfirmation, Failed, RejectedByUser},
	PendingConfirmation: {Confirmed, Failed},
}

func canMove(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	ErrSubmissionFailed = errors.New("transaction submission failed")
	ErrHashAlreadySet   = errors.New("transaction hash already set")
	ErrBadTransition    = errors.New("transaction state can't move backwards")
)

// SubmissionError carries the wallet's code and message for a failed submission.
type SubmissionError struct {
	Code    int
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	return e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmissionFailed
}

// Snapshot is a point in time copy of a Handle.
type Snapshot struct {
	ID    string      `json:"id"`
	Label string      `json:"label"`
	Hash  common.Hash `json:"hash"`
	State State       `json:"state"`
	Error string      `json:"error,omitempty"`
}

// Handle tracks one submitted transaction.
type Handle struct {
	id    string
	label string

	mu        sync.Mutex
	state     State
	hash      common.Hash
	err       error
	listeners []func(Snapshot)
	done      chan struct{}
}

func newHandle(label string) *Handle {
	return &Handle{id: uuid.NewString(), label: label, state: PendingSignature, done: make(chan struct{})}
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Hash is zero until the wallet returned it.
func (h *Handle) Hash() common.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hash
}

// Err is the failure of a failed or rejected transaction.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Handle) snapshotLocked() Snapshot {
	s := Snapshot{ID: h.id, Label: h.label, Hash: h.hash, State: h.state}
	if h.err != nil {
		s.Error = h.err.Error()
	}
	return s
}

// Done is closed once the handle reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the transaction settles or ctx ends.
func (h *Handle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.done:
		return h.State(), h.Err()
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
}

// Subscribe calls fn on every transition. A handle that already settled calls fn once with its final snapshot.
func (h *Handle) Subscribe(fn func(Snapshot)) {
	h.mu.Lock()
	if h.state.Terminal() {
		s := h.snapshotLocked()
		h.mu.Unlock()
		fn(s)
		return
	}
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func (h *Handle) setHash(hash common.Hash) error {
	h.mu.Lock()
	if h.hash != (common.Hash{}) {
		h.mu.Unlock()
		return ErrHashAlreadySet
	}
	h.hash = hash
	h.mu.Unlock()
	return h.move(PendingConfirmation, nil)
}

func (h *Handle) move(to State, err error) error {
	h.mu.Lock()
	if !canMove(h.state, to) {
		from := h.state
		h.mu.Unlock()
		return errors.Wrapf(ErrBadTransition, "%v -> %v", from, to)
	}
	h.state = to
	h.err = err
	s := h.snapshotLocked()
	listeners := append([]func(Snapshot){}, h.listeners...)
	if to.Terminal() {
		h.listeners = nil
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
	if to.Terminal() {
		close(h.done)
	}
	return nil
}
