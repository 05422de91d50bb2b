package contract

import (
	"math/big"

	"github.com/shopspring/decimal"
	"moff.io/mint-widget/pkg/errors"
)

const etherDecimals = 18

var ErrInvalidAmount = errors.New("amount should be a non-negative number in ETH (or native token)")

// ParseEther converts a decimal ETH amount such as "0.0001" to wei.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q", amount)
	}
	if d.IsNegative() {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q", amount)
	}
	return d.Shift(etherDecimals).BigInt(), nil
}

// FormatEther renders wei as ETH rounded to places decimals, trailing zeros trimmed.
func FormatEther(wei *big.Int, places int32) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).Round(places).String()
}
