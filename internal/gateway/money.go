package gateway

import (
	"strings"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/shopspring/decimal"
)

// currencyExponents lists ISO 4217 currencies whose minor unit is not 1/100
var currencyExponents = map[string]int32{
	"BIF": 0,
	"CLP": 0,
	"DJF": 0,
	"GNF": 0,
	"ISK": 0,
	"JPY": 0,
	"KMF": 0,
	"KRW": 0,
	"PYG": 0,
	"RWF": 0,
	"UGX": 0,
	"VND": 0,
	"VUV": 0,
	"XAF": 0,
	"XOF": 0,
	"XPF": 0,
	"BHD": 3,
	"JOD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// Exponent returns the number of minor-unit digits of a currency
func Exponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ToMinorUnits converts a major-unit amount to the integer the gateway
// expects (250.00 USD -> 25000). Amounts with more precision than the
// currency allows are rejected rather than rounded.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, domain.NewValidationError("amount", "cannot be negative")
	}

	scaled := amount.Shift(Exponent(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, domain.NewValidationError("amount", "has more decimal places than "+strings.ToUpper(currency)+" allows")
	}
	if !scaled.BigInt().IsInt64() {
		return 0, domain.NewValidationError("amount", "is too large")
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits converts a gateway integer amount back to major units
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}
