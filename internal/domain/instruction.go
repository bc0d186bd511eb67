package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Instruction discriminators of the risk-engine program.
const (
	crankDiscriminator     byte = 0x03
	pushPriceDiscriminator byte = 0x05
)

// PermissionlessCaller is the caller-index sentinel meaning "no registered
// caller slot, anyone may crank".
const PermissionlessCaller uint16 = 65535

// SysClockAddress is the chain's clock sysvar, required by the crank
// instruction.
const SysClockAddress Address = "0100000000000000000000000000000000000000000000000000000000000000"

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Address  Address
	Writable bool
	Signer   bool
}

// Instruction is anything the submitter can encode and send.
type Instruction interface {
	Encode() []byte
	Accounts() []AccountMeta
}

// CrankInstruction advances a market's risk-engine state: marking,
// liquidation sweep, funding accrual.
type CrankInstruction struct {
	Payer       Address
	Market      Address
	Oracle      Address
	CallerIndex uint16
	AllowPanic  bool
}

// Encode lays the instruction out little-endian:
// [discriminator u8][callerIndex u16][allowPanic u8].
func (ix CrankInstruction) Encode() []byte {
	buf := make([]byte, 4)
	buf[0] = crankDiscriminator
	binary.LittleEndian.PutUint16(buf[1:3], ix.CallerIndex)
	if ix.AllowPanic {
		buf[3] = 1
	}
	return buf
}

func (ix CrankInstruction) Accounts() []AccountMeta {
	return []AccountMeta{
		{Address: ix.Payer, Writable: true, Signer: true},
		{Address: ix.Market, Writable: true},
		{Address: SysClockAddress},
		{Address: ix.Oracle},
	}
}

// PushPriceInstruction writes an admin-oracle price into the market account.
type PushPriceInstruction struct {
	Payer            Address
	Market           Address
	PriceE6          int64
	TimestampSeconds uint64
}

// Encode lays the instruction out little-endian:
// [discriminator u8][priceE6 u64][timestampSeconds u64].
func (ix PushPriceInstruction) Encode() []byte {
	buf := make([]byte, 17)
	buf[0] = pushPriceDiscriminator
	binary.LittleEndian.PutUint64(buf[1:9], uint64(ix.PriceE6))
	binary.LittleEndian.PutUint64(buf[9:17], ix.TimestampSeconds)
	return buf
}

func (ix PushPriceInstruction) Accounts() []AccountMeta {
	return []AccountMeta{
		{Address: ix.Payer, Writable: true, Signer: true},
		{Address: ix.Market, Writable: true},
	}
}

// DeriveIndexOracle returns the deterministic oracle account for an
// external-oracle market, keyed by its index feed id.
func DeriveIndexOracle(feed FeedID) Address {
	h := sha256.New()
	h.Write([]byte("index-oracle"))
	h.Write(feed[:])
	return Address(hex.EncodeToString(h.Sum(nil)))
}
