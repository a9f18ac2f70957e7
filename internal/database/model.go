package database

import "time"

// WithdrawStatus is the lifecycle state of a WithdrawRequest.
type WithdrawStatus string

// DepositStatus is the lifecycle state of a DepositRequest.
type DepositStatus string

// PaymentStatus is the lifecycle state of an outgoing Payment.
type PaymentStatus string

const (
	WithdrawCreated       WithdrawStatus = "CREATED"
	WithdrawVerified      WithdrawStatus = "VERIFIED"
	WithdrawRejected      WithdrawStatus = "REJECTED"
	WithdrawQueued        WithdrawStatus = "QUEUED"
	WithdrawPaid          WithdrawStatus = "PAID"
	WithdrawPaymentFailed WithdrawStatus = "PAYMENT_FAILED"
)

const (
	DepositCreated DepositStatus = "CREATED"
	DepositPaid    DepositStatus = "PAID"
	DepositSettled DepositStatus = "SETTLED"
	DepositFailed  DepositStatus = "PAYMENT_FAILED"
)

const (
	PaymentInitiated PaymentStatus = "INITIATED"
	PaymentInFlight  PaymentStatus = "IN_FLIGHT"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// WithdrawRequest is a single lnurlw handshake, keyed by k1 (spec.md §3).
type WithdrawRequest struct {
	K1           string
	UserID       string
	ClearnetURL  string
	Lnurl        string
	Lnurlw       string
	Status       WithdrawStatus
	Reason       *string
	PaymentHash  *string
	Bolt11       *string
	Amount       *int64
	Destination  *string
	TSCreated    time.Time
	TSInvoice    *time.Time
	TSPaid       *time.Time
	Redeemed     bool
}

// DepositRequest is a single lnurlp handshake, keyed by payment_hash once
// an invoice has been issued.
type DepositRequest struct {
	PaymentHash string
	UserID      string
	Status      DepositStatus
	Amount      *int64
	TSCreated   time.Time
}

// Invoice is a decoded or operator-issued Lightning invoice (spec.md §3).
type Invoice struct {
	PaymentHash      string
	Bolt11           string
	Destination      string
	NumSatoshis      int64
	Timestamp        int64
	Expiry           int64
	Description      string
	DescriptionHash  string
	FallbackAddr     string
	CltvExpiry       int64
	RouteHints       string // serialized
	PaymentAddr      string
	Features         string // serialized
	Preimage         *string
	State            *string
}

// Payment is an outgoing Lightning payment tracked against a WithdrawRequest.
type Payment struct {
	PaymentHash   string
	UserID        string
	Preimage      *string
	ValueSat      int64
	Status        PaymentStatus
	FeeSat        *int64
	TSCreate      time.Time
	FailureReason *string
}

// Transaction is an immutable, append-only ledger entry recorded on
// successful settlement of either a withdraw or a deposit.
type Transaction struct {
	UserID      string
	PaymentHash string
	Amount      int64
	TSCreate    time.Time
}

// Balance is the authoritative, non-negative satoshi balance for a user
// (spec.md §3, invariant 1). It is only ever mutated inside the same
// transaction as the ledger entry that justifies the change.
type Balance struct {
	UserID string
	Amount int64
}

// LockedBalance reserves funds against an in-flight outgoing payment so
// that concurrent RedeemWithdraw calls against the same balance cannot
// double-spend it; it is deleted once the payment resolves, either by
// FinalizePayment (success) or FailPayment (credited back).
type LockedBalance struct {
	PaymentHash string
	Amount      int64
}

// ErrNotFound is returned by lookups that found no matching row.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }
