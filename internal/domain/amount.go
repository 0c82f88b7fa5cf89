package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals between wei and ether.
const EtherDecimals = 18

var errNegativeAmount = errors.New("amount must not be negative")

// FormatUnits renders a base-unit amount as a decimal string. Whole values
// keep one fractional digit ("1.0") so the output parses back unambiguously.
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return ""
	}
	s := decimal.NewFromBigInt(amount, -decimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// FormatEther renders a wei amount in ether.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

// ParseUnits converts a decimal string into base units. It rejects values
// that carry more precision than decimals allows.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, errNegativeAmount
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q exceeds %d decimals", s, decimals)
	}
	return shifted.BigInt(), nil
}

// ParseEther converts an ether decimal string into wei.
func ParseEther(s string) (*big.Int, error) {
	return ParseUnits(s, EtherDecimals)
}
