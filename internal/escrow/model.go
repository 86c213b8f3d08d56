package escrow

import (
	"net/http"
	"time"

	"github.com/hien22444/WDP-LM-sub000/internal/pkg/apperror"
)

var (
	ErrNotFound           = apperror.New(http.StatusNotFound, "escrow account not found")
	ErrPaymentRequired    = apperror.New(http.StatusPaymentRequired, "booking must be paid before funds can be held")
	ErrAlreadyHeld        = apperror.New(http.StatusConflict, "funds are already held for this booking")
	ErrNotHeld            = apperror.New(http.StatusConflict, "no funds are held for this booking")
	ErrInsufficientHeld   = apperror.New(http.StatusConflict, "amount exceeds held funds")
	ErrFrozen             = apperror.New(http.StatusConflict, "escrow is frozen by an open dispute")
	ErrNotFrozen          = apperror.New(http.StatusConflict, "escrow is not frozen")
	ErrAlreadySettled     = apperror.New(http.StatusConflict, "escrow is already settled")
	ErrInvalidAmount      = apperror.New(http.StatusBadRequest, "amount must be positive")
	ErrAccountBlocked     = apperror.New(http.StatusConflict, "escrow account is blocked pending administrative review")
	ErrInvariantViolation = apperror.New(http.StatusInternalServerError, "escrow conservation invariant violated")

	// errStaleVersion is returned by repositories when the account changed since it was read.
	errStaleVersion = apperror.New(http.StatusConflict, "escrow account was modified concurrently")
)

type Kind string

const (
	KindHold     Kind = "hold"
	KindRelease  Kind = "release"
	KindRefund   Kind = "refund"
	KindFee      Kind = "fee"
	KindVoid     Kind = "void"
	KindFreeze   Kind = "freeze"
	KindUnfreeze Kind = "unfreeze"
)

// Account is the escrow record of one booking. Amounts are in minor currency units.
type Account struct {
	BookingID  string
	ProviderID string
	Price      int64
	Held       int64
	Released   int64
	Refunded   int64
	Frozen     bool
	Broken     bool
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Settled reports whether every unit of the price has left escrow.
func (a *Account) Settled() bool {
	return a.Held == 0 && a.Released+a.Refunded == a.Price
}

// Entry is one immutable line of the ledger journal.
type Entry struct {
	ID        int64
	BookingID string
	Kind      Kind
	Amount    int64
	Reason    string
	Actor     string
	CreatedAt time.Time
}

// mutation is the unit persisted atomically by a repository: the new account state
// guarded by the version it was derived from, its journal entry, and the provider credit.
type mutation struct {
	expectedVersion int64
	account         Account
	entry           Entry
	credit          int64
}

// conserved checks held_before == released_delta + refunded_delta + held_after, with
// hold and void accounting for funds entering escrow.
func conserved(kind Kind, before, after *Account) bool {
	if after.Held < 0 || after.Released < 0 || after.Refunded < 0 {
		return false
	}
	if after.Held+after.Released+after.Refunded > after.Price || after.Price != before.Price {
		return false
	}

	dRel := after.Released - before.Released
	dRef := after.Refunded - before.Refunded
	if dRel < 0 || dRef < 0 {
		return false
	}

	switch kind {
	case KindHold:
		return before.Held == 0 && after.Held == after.Price && dRel == 0 && dRef == 0
	case KindVoid:
		return before.Held == 0 && after.Held == 0 && dRel == 0 && dRef == after.Price
	default:
		return before.Held == dRel+dRef+after.Held
	}
}

// providerShare is the part of a released amount credited to the provider after the platform fee.
func providerShare(amount, feePercent int64) int64 {
	return amount * (100 - feePercent) / 100
}
