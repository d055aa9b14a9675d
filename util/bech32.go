package util

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

const validatorSuffix = "valoper"

// ValidatorPrefix returns the operator address prefix for an account prefix,
// e.g. "cosmos" -> "cosmosvaloper".
func ValidatorPrefix(accountPrefix string) string {
	return accountPrefix + validatorSuffix
}

// CheckAddress decodes a bech32 address and verifies its human readable part.
func CheckAddress(address, expectedPrefix string) error {
	hrp, _, err := bech32.Decode(address)
	if err != nil {
		return fmt.Errorf("failed to decode bech32 address: %w", err)
	}

	if hrp != expectedPrefix {
		return fmt.Errorf("address prefix mismatch: expected %s, got %s", expectedPrefix, hrp)
	}

	return nil
}
