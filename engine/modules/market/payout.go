package market

import (
	"encoding/binary"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
)

// ComputePayout applies the buyback spread to a market price:
// price - floor(price * spreadBps / 10000). All steps are overflow-checked.
func ComputePayout(price uint64, spreadBps uint64) (uint64, error) {
	scaled, err := core.CheckedMul(price, spreadBps)
	if err != nil {
		return 0, err
	}
	return core.CheckedSub(price, scaled/10_000)
}

// IsPriceStale reports whether a price timestamp has aged out of the
// acceptance window relative to now.
func IsPriceStale(priceTimestamp, now int64) bool {
	return now-priceTimestamp > core.MaxPriceAgeSeconds
}

// PriceMessage builds the byte string the oracle signs for a price update:
// inventory hash, little-endian price, little-endian timestamp, hashed.
func PriceMessage(inventoryIDHash core.Hash32, price uint64, timestamp int64) [32]byte {
	msg := make([]byte, 0, 32+8+8)
	msg = append(msg, inventoryIDHash[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, price)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(timestamp))
	return crypto.Keccak256(msg)
}
