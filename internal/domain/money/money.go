// Package money holds the shared value objects: Money as an
// (amount, currency) pair and the postal Address.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in a single currency. The zero value is an amount of
// zero with no currency; aggregates validate currency agreement at their
// entry points, after which arithmetic assumes matching currencies.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// New returns a Money with the given amount and currency.
func New(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add returns m + o. Currencies must already agree.
func (m Money) Add(o Money) Money {
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.currencyOr(o)}
}

// Sub returns m − o. Currencies must already agree.
func (m Money) Sub(o Money) Money {
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.currencyOr(o)}
}

// MulInt returns m scaled by a whole quantity.
func (m Money) MulInt(n int64) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(n)), Currency: m.Currency}
}

// FloorZero clamps a negative amount to zero.
func (m Money) FloorZero() Money {
	if m.Amount.IsNegative() {
		return Zero(m.Currency)
	}
	return m
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// Equal reports amount and currency equality.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

// SameCurrency reports whether o is denominated in m's currency. A zero-value
// Money (no currency yet) is compatible with anything.
func (m Money) SameCurrency(o Money) bool {
	return m.Currency == "" || o.Currency == "" || m.Currency == o.Currency
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}

func (m Money) currencyOr(o Money) string {
	if m.Currency != "" {
		return m.Currency
	}
	return o.Currency
}

// Address is a postal address value object. Compared by value; orders keep a
// shipping address and optionally a distinct billing address.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IsZero reports whether no field of the address is set.
func (a Address) IsZero() bool {
	return a == Address{}
}
