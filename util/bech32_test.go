package util

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeAddress(t *testing.T, hrp string) string {
	t.Helper()
	data, err := bech32.ConvertBits(bytes.Repeat([]byte{0x42}, 20), 8, 5, true)
	require.NoError(t, err)
	addr, err := bech32.Encode(hrp, data)
	require.NoError(t, err)
	return addr
}

func TestCheckAddress(t *testing.T) {
	account := encodeAddress(t, "bitsong")
	operator := encodeAddress(t, ValidatorPrefix("bitsong"))

	assert.NoError(t, CheckAddress(account, "bitsong"))
	assert.NoError(t, CheckAddress(operator, "bitsongvaloper"))

	err := CheckAddress(account, "cosmos")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prefix mismatch")

	err = CheckAddress("addressA1", "bitsong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
