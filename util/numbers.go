package util

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var errEmpty = errors.New("empty value")

// ParseDecimal parses a decimal string as delivered by the Cosmos REST API.
// Large integers and 18-digit fractions are kept exact.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errEmpty
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// ParseFloat converts a decimal string into float64.
func ParseFloat(s string) (float64, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// ParseInt converts an integral decimal string into int64. Values with a
// fractional part or outside the int64 range are rejected.
func ParseInt(s string) (int64, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("value %q is not an integer", s)
	}
	if !d.BigInt().IsInt64() {
		return 0, fmt.Errorf("value %q overflows int64", s)
	}
	return d.IntPart(), nil
}

// ParseSeconds converts a protobuf JSON duration ("3600s") or a bare integer
// ("3600") into whole seconds. Go duration strings such as "1h" are accepted
// as long as they amount to a whole number of seconds.
func ParseSeconds(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errEmpty
	}

	if n, err := ParseInt(strings.TrimSuffix(s, "s")); err == nil {
		return n, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d%time.Second != 0 {
		return 0, fmt.Errorf("duration %q is not a whole number of seconds", s)
	}
	return int64(d / time.Second), nil
}

// ParseBool accepts JSON booleans and their string forms.
func ParseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, errEmpty
	}
	return strconv.ParseBool(s)
}
