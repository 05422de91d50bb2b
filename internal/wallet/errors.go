package wallet

import (
	"strings"

	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
)

var (
	ErrUserCancelled    = errors.New("user cancelled")
	ErrConnectionFailed = errors.New("wallet connection failed")
	ErrSwitchRejected   = errors.New("network switch rejected")
	ErrChainAdded       = errors.New("network registered with wallet, switch again to use it")
	ErrNotConnected     = errors.New("wallet not connected")
	ErrNoAccount        = errors.New("wallet returned no account")
)

// cancelMessages are substrings wallets and modal libraries use when the visitor backs out.
var cancelMessages = []string{
	"Modal closed by user",
	"User rejected the request",
	"User closed modal",
	"accounts received is empty",
}

// IsCancellation reports whether err means the visitor dismissed or rejected the prompt.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserCancelled) {
		return true
	}
	code, msg := provider.ParseError(err)
	if code == provider.CodeUserRejected {
		return true
	}
	for _, m := range cancelMessages {
		if strings.Contains(msg, m) || strings.Contains(err.Error(), m) {
			return true
		}
	}
	return false
}

// Error keeps the wallet's raw message while matching one of the package kinds with errors.Is.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Classify maps a connect failure to ErrUserCancelled or ErrConnectionFailed.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if IsCancellation(err) {
		return &Error{Kind: ErrUserCancelled, Err: err}
	}
	return &Error{Kind: ErrConnectionFailed, Err: err}
}
