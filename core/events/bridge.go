package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"xbchain/core/types"
)

const (
	// TypeBridgeDeposit is emitted when a confirmed foreign deposit credits a
	// bridged asset.
	TypeBridgeDeposit = "bridge.deposit"
	// TypeWithdrawalApplied is emitted when a withdrawal application enters
	// the pending queue and its funds are locked.
	TypeWithdrawalApplied = "bridge.withdrawal.applied"
	// TypeWithdrawalFinished is emitted when a pending withdrawal leaves the
	// queue, either settled on the foreign chain or revoked.
	TypeWithdrawalFinished = "bridge.withdrawal.finished"
	// TypeHeaderConfirmed is emitted when a foreign header crosses the
	// confirmation threshold.
	TypeHeaderConfirmed = "bridge.header.confirmed"
)

// BridgeDeposit records a bridged asset issuance for a confirmed foreign
// deposit transaction.
type BridgeDeposit struct {
	Recipient [20]byte
	Token     string
	Amount    *big.Int
}

func (BridgeDeposit) EventType() string { return TypeBridgeDeposit }

func (e BridgeDeposit) Event() *types.Event {
	return &types.Event{Type: TypeBridgeDeposit, Attributes: map[string]string{
		"recipient": formatAccount(e.Recipient),
		"token":     strings.ToUpper(e.Token),
		"amount":    formatAmount(e.Amount),
	}}
}

// WithdrawalApplied carries the full application so the emitted event remains
// a sufficient audit record once the application itself is deleted.
type WithdrawalApplied struct {
	ID        uint32
	Applicant [20]byte
	Chain     string
	Token     string
	Amount    *big.Int
	Address   string
	Memo      []byte
	CreatedAt uint64
}

func (WithdrawalApplied) EventType() string { return TypeWithdrawalApplied }

func (e WithdrawalApplied) Event() *types.Event {
	attrs := map[string]string{
		"id":        strconv.FormatUint(uint64(e.ID), 10),
		"applicant": formatAccount(e.Applicant),
		"chain":     e.Chain,
		"token":     strings.ToUpper(e.Token),
		"amount":    formatAmount(e.Amount),
		"address":   e.Address,
		"createdAt": strconv.FormatUint(e.CreatedAt, 10),
		"state":     "applying",
	}
	if len(e.Memo) > 0 {
		attrs["memo"] = "0x" + hex.EncodeToString(e.Memo)
	}
	return &types.Event{Type: TypeWithdrawalApplied, Attributes: attrs}
}

// WithdrawalFinished records the exactly-once release of a withdrawal lock.
type WithdrawalFinished struct {
	ID      uint32
	Success bool
}

func (WithdrawalFinished) EventType() string { return TypeWithdrawalFinished }

func (e WithdrawalFinished) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawalFinished, Attributes: map[string]string{
		"id":      strconv.FormatUint(uint64(e.ID), 10),
		"success": strconv.FormatBool(e.Success),
	}}
}

// HeaderConfirmed marks a foreign header's transition into the finalized
// region of the tracked chain.
type HeaderConfirmed struct {
	Hash   chainhash.Hash
	Height uint64
}

func (HeaderConfirmed) EventType() string { return TypeHeaderConfirmed }

func (e HeaderConfirmed) Event() *types.Event {
	return &types.Event{Type: TypeHeaderConfirmed, Attributes: map[string]string{
		"hash":   e.Hash.String(),
		"height": strconv.FormatUint(e.Height, 10),
	}}
}

func formatAccount(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
