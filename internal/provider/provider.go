package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/tidwall/gjson"
	"moff.io/mint-widget/pkg/errors"
)

// EIP-1193 and wallet specific error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
)

// Provider is the EIP-1193 surface every wallet handle exposes.
type Provider interface {
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
	OnAccountsChanged(fn func(accounts []string)) (unsubscribe func())
	OnChainChanged(fn func(chainID string)) (unsubscribe func())
}

// Closer is implemented by handles holding a transport that must be torn down.
type Closer interface {
	Close() error
}

// Enabler is implemented by legacy handles that need enable() before accounts are readable.
type Enabler interface {
	Enable(ctx context.Context) ([]string, error)
}

// Flags identify the wallet behind an injected handle.
type Flags struct {
	IsMetaMask       bool `json:"isMetaMask"`
	IsCoinbaseWallet bool `json:"isCoinbaseWallet"`
}

type Flagged interface {
	Flags() Flags
}

// FlagsOf returns the handle flags, zero when the handle does not expose any.
func FlagsOf(p Provider) Flags {
	if f, ok := p.(Flagged); ok {
		return f.Flags()
	}
	return Flags{}
}

// Call performs a request and decodes the result into out.
func Call(ctx context.Context, p Provider, out interface{}, method string, params ...interface{}) error {
	raw, err := p.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s result", method)
	}
	return nil
}

// RPCError is a JSON-RPC error object returned by a wallet.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// ErrorCode makes RPCError satisfy go-ethereum's rpc.Error.
func (e *RPCError) ErrorCode() int {
	return e.Code
}

func (e *RPCError) ErrorData() interface{} {
	return e.Data
}

var _ rpc.Error = (*RPCError)(nil)

// ParseError extracts the wallet code and message from err. Wallets sometimes
// wrap the real error as JSON inside the message ("Internal JSON-RPC error.\n{...}"),
// in that case the embedded code and message win.
func ParseError(err error) (code int, message string) {
	if err == nil {
		return 0, ""
	}
	message = err.Error()
	var coded rpc.Error
	if errors.As(err, &coded) {
		code = coded.ErrorCode()
		message = coded.Error()
	}
	if i := strings.Index(message, "{"); i >= 0 && gjson.Valid(message[i:]) {
		embedded := gjson.Parse(message[i:])
		if c := embedded.Get("code"); c.Exists() {
			code = int(c.Int())
		}
		if m := embedded.Get("message"); m.Exists() && m.String() != "" {
			message = m.String()
		}
	}
	return code, message
}

// IsCode reports whether err carries the given wallet error code.
func IsCode(err error, code int) bool {
	c, _ := ParseError(err)
	return c == code
}
