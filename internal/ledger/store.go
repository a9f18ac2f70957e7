// Package ledger implements the durable half of the gateway: the
// relational store that holds withdraw/deposit requests, invoices,
// payments, locked balances, and the append-only transaction log.
//
// The critical path is Store.RedeemWithdraw, which must transition a
// WithdrawRequest from VERIFIED to QUEUED, debit the user's balance, and
// reserve a LockedBalance row as a single atomic unit. At most one
// concurrent caller may win that transition for a given k1; the
// guarantee comes from SERIALIZABLE isolation and row locking on the
// balances row, not from any in-process mutex.
package ledger

import (
	"lnurl-gateway/internal/database"
	"lnurl-gateway/pkg/logger"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Sentinel errors returned by Store operations (spec.md §4.A failure policy).
var (
	ErrDuplicateK1        = errors.New("k1 already exists")
	ErrNotFound           = errors.New("request not found")
	ErrConflict           = errors.New("conflicting concurrent write")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrUnavailable        = errors.New("ledger store unavailable")
)

// Store is the LedgerStore component (spec.md §4.A). All multi-statement
// operations run inside a single database transaction.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a database.DB connection pool as a Store.
func New(db *database.DB) *Store {
	return &Store{pool: db.Pool()}
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrDuplicateK1
		case "23514", "23502", "23503": // check/not-null/fk violation
			return ErrConstraintViolation
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrConflict
		}
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, err)
}

// CreateWithdrawRequest inserts a new WithdrawRequest with status=CREATED.
func (s *Store) CreateWithdrawRequest(ctx context.Context, req *database.WithdrawRequest) error {
	const q = `
		INSERT INTO withdraw_requests
			(k1, userid, clearnet_url, lnurl, lnurlw, status, ts_created, redeemed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)
	`
	_, err := s.pool.Exec(ctx, q, req.K1, req.UserID, req.ClearnetURL, req.Lnurl, req.Lnurlw, req.Status, req.TSCreated)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

// GetWithdrawRequest returns the row keyed by k1, or ErrNotFound.
func (s *Store) GetWithdrawRequest(ctx context.Context, k1 string) (*database.WithdrawRequest, error) {
	const q = `
		SELECT k1, userid, clearnet_url, lnurl, lnurlw, status, reason,
		       payment_hash, bolt11, amount, destination,
		       ts_created, ts_invoice, ts_paid, redeemed
		FROM withdraw_requests WHERE k1 = $1
	`
	row := s.pool.QueryRow(ctx, q, k1)
	req := &database.WithdrawRequest{}
	err := row.Scan(&req.K1, &req.UserID, &req.ClearnetURL, &req.Lnurl, &req.Lnurlw, &req.Status, &req.Reason,
		&req.PaymentHash, &req.Bolt11, &req.Amount, &req.Destination,
		&req.TSCreated, &req.TSInvoice, &req.TSPaid, &req.Redeemed)
	if err != nil {
		return nil, mapPgError(err)
	}
	return req, nil
}

// CountPendingWithdraws returns the number of withdraw requests for userid
// that are neither terminal nor older than the pending window (spec.md §4.A).
func (s *Store) CountPendingWithdraws(ctx context.Context, userid string, window time.Duration) (int, error) {
	const q = `
		SELECT COUNT(*) FROM withdraw_requests
		WHERE userid = $1
		AND status NOT IN ('PAID', 'REJECTED', 'PAYMENT_FAILED')
		AND ts_created > $2
	`
	var count int
	cutoff := time.Now().UTC().Add(-window)
	if err := s.pool.QueryRow(ctx, q, userid, cutoff).Scan(&count); err != nil {
		return 0, mapPgError(err)
	}
	return count, nil
}

// MarkWithdrawRejected is idempotent on k1: it sets status=REJECTED and
// records the decoded invoice's fields for audit even though the request
// never reaches QUEUED.
func (s *Store) MarkWithdrawRejected(ctx context.Context, k1 string, inv *database.Invoice, reason string) error {
	const q = `
		UPDATE withdraw_requests
		SET redeemed = true,
		    payment_hash = $2,
		    bolt11 = $3,
		    ts_invoice = now(),
		    amount = $4,
		    destination = $5,
		    status = 'REJECTED',
		    reason = $6
		WHERE k1 = $1
	`
	_, err := s.pool.Exec(ctx, q, k1, inv.PaymentHash, inv.Bolt11, inv.NumSatoshis, inv.Destination, reason)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

// RedeemWithdraw is the atomic heart of the system (spec.md §4.A). It
// transitions a WithdrawRequest from VERIFIED to QUEUED, debits the
// user's balance, reserves a LockedBalance row, and creates the Payment
// and Invoice rows — all inside one SERIALIZABLE transaction. Returns
// (nil, nil) if no eligible VERIFIED row exists (already redeemed by a
// concurrent caller, wrong k1, or insufficient balance).
func (s *Store) RedeemWithdraw(ctx context.Context, k1 string, inv *database.Invoice) (redeemed *database.WithdrawRequest, err error) {
	// A serialization failure means a concurrent redeem got to these rows
	// first; report it the same way as an absent VERIFIED row.
	defer func() {
		if errors.Is(err, ErrConflict) {
			redeemed, err = nil, nil
		}
	}()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	const selectQ = `
		SELECT k1, userid, clearnet_url, lnurl, lnurlw, status, reason,
		       payment_hash, bolt11, amount, destination,
		       ts_created, ts_invoice, ts_paid, redeemed
		FROM withdraw_requests
		WHERE k1 = $1 AND status = 'VERIFIED'
		FOR UPDATE
	`
	row := tx.QueryRow(ctx, selectQ, k1)
	req := &database.WithdrawRequest{}
	err = row.Scan(&req.K1, &req.UserID, &req.ClearnetURL, &req.Lnurl, &req.Lnurlw, &req.Status, &req.Reason,
		&req.PaymentHash, &req.Bolt11, &req.Amount, &req.Destination,
		&req.TSCreated, &req.TSInvoice, &req.TSPaid, &req.Redeemed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapPgError(err)
	}

	const updateQ = `
		UPDATE withdraw_requests
		SET redeemed = true,
		    payment_hash = $2,
		    bolt11 = $3,
		    ts_invoice = now(),
		    amount = $4,
		    destination = $5,
		    status = 'QUEUED'
		WHERE k1 = $1
	`
	if _, err := tx.Exec(ctx, updateQ, k1, inv.PaymentHash, inv.Bolt11, inv.NumSatoshis, inv.Destination); err != nil {
		return nil, mapPgError(err)
	}

	// Debit, guarded by the balances check constraint (amount >= 0); a
	// violation aborts the whole transaction and surfaces as (nil, nil)
	// to the caller, same as an absent VERIFIED row.
	const debitQ = `UPDATE balances SET amount = amount - $2 WHERE userid = $1`
	tag, err := tx.Exec(ctx, debitQ, req.UserID, inv.NumSatoshis)
	if err != nil {
		if errors.Is(mapPgError(err), ErrConstraintViolation) {
			return nil, nil
		}
		return nil, mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}

	const lockQ = `
		INSERT INTO locked_balances (payment_hash, amount)
		VALUES ($1, $2)
		ON CONFLICT (payment_hash) DO NOTHING
	`
	if _, err := tx.Exec(ctx, lockQ, inv.PaymentHash, inv.NumSatoshis); err != nil {
		return nil, mapPgError(err)
	}

	const invoiceQ = `
		INSERT INTO withdraw_invoices
			(payment_hash, bolt11, destination, num_satoshis, timestamp, expiry,
			 description, description_hash, fallback_addr, cltv_expiry,
			 route_hints, payment_addr, features)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (payment_hash) DO NOTHING
	`
	if _, err := tx.Exec(ctx, invoiceQ, inv.PaymentHash, inv.Bolt11, inv.Destination, inv.NumSatoshis,
		inv.Timestamp, inv.Expiry, inv.Description, inv.DescriptionHash, inv.FallbackAddr,
		inv.CltvExpiry, inv.RouteHints, inv.PaymentAddr, inv.Features); err != nil {
		return nil, mapPgError(err)
	}

	const paymentQ = `
		INSERT INTO withdraw_payments (payment_hash, userid, value_sat, status, ts_create)
		VALUES ($1, $2, $3, 'INITIATED', now())
		ON CONFLICT (payment_hash) DO NOTHING
	`
	if _, err := tx.Exec(ctx, paymentQ, inv.PaymentHash, req.UserID, inv.NumSatoshis); err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err)
	}

	req.Status = database.WithdrawQueued
	req.PaymentHash = &inv.PaymentHash
	req.Bolt11 = &inv.Bolt11
	req.Amount = &inv.NumSatoshis
	req.Destination = &inv.Destination
	req.Redeemed = true
	return req, nil
}

// Selector identifies a single WithdrawRequest row for UpdateWithdrawStatus.
type Selector struct {
	K1          string
	PaymentHash string
}

// UpdateWithdrawStatus updates a single row's status, keyed by k1 or
// payment_hash (spec.md §4.A).
func (s *Store) UpdateWithdrawStatus(ctx context.Context, sel Selector, status database.WithdrawStatus, reason string) error {
	var q string
	var key string
	if sel.PaymentHash != "" {
		q = `UPDATE withdraw_requests SET status = $2, reason = $3 WHERE payment_hash = $1`
		key = sel.PaymentHash
	} else {
		q = `UPDATE withdraw_requests SET status = $2, reason = $3 WHERE k1 = $1`
		key = sel.K1
	}
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	_, err := s.pool.Exec(ctx, q, key, status, reasonPtr)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

// FinalizePayment marks a successful outgoing payment (spec.md §4.A):
// updates the Payment row, deletes the matching LockedBalance, appends a
// withdraw Transaction, and sets the WithdrawRequest to PAID. Idempotent
// on payment_hash: a second delivery of the same SUCCEEDED event finds
// nothing left to delete or insert and leaves the ledger unchanged.
func (s *Store) FinalizePayment(ctx context.Context, paymentHash, preimage string, feeSat int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	const paymentQ = `
		UPDATE withdraw_payments
		SET preimage = $2, fee_sat = $3, status = 'SUCCEEDED'
		WHERE payment_hash = $1
	`
	if _, err := tx.Exec(ctx, paymentQ, paymentHash, preimage, feeSat); err != nil {
		return mapPgError(err)
	}

	const lockQ = `DELETE FROM locked_balances WHERE payment_hash = $1`
	if _, err := tx.Exec(ctx, lockQ, paymentHash); err != nil {
		return mapPgError(err)
	}

	const txQ = `
		INSERT INTO withdraw_transactions (payment_hash, userid, amount, ts_create)
		SELECT payment_hash, userid, amount, now()
		FROM withdraw_requests
		WHERE payment_hash = $1
		ON CONFLICT (payment_hash) DO NOTHING
	`
	if _, err := tx.Exec(ctx, txQ, paymentHash); err != nil {
		return mapPgError(err)
	}

	const reqQ = `UPDATE withdraw_requests SET status = 'PAID' WHERE payment_hash = $1`
	if _, err := tx.Exec(ctx, reqQ, paymentHash); err != nil {
		return mapPgError(err)
	}

	const invQ = `UPDATE withdraw_invoices SET preimage = $2 WHERE payment_hash = $1`
	if _, err := tx.Exec(ctx, invQ, paymentHash, preimage); err != nil {
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	logger.Info("withdraw finalized", zap.String("payment_hash", paymentHash), zap.Int64("fee_sat", feeSat))
	return nil
}

// FailPayment releases a failed outgoing payment: marks the Payment and
// WithdrawRequest as failed, deletes the LockedBalance row, and credits
// the reserved amount back onto the user's Balance. Idempotent: if the
// LockedBalance row is already gone the credit-back is a no-op.
func (s *Store) FailPayment(ctx context.Context, paymentHash, failureReason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	var amount int64
	var userid string
	const lockedQ = `SELECT amount FROM locked_balances WHERE payment_hash = $1`
	err = tx.QueryRow(ctx, lockedQ, paymentHash).Scan(&amount)
	hadLock := true
	if errors.Is(err, pgx.ErrNoRows) {
		hadLock = false
	} else if err != nil {
		return mapPgError(err)
	}

	const userQ = `SELECT userid FROM withdraw_requests WHERE payment_hash = $1`
	if err := tx.QueryRow(ctx, userQ, paymentHash).Scan(&userid); err != nil {
		return mapPgError(err)
	}

	const paymentQ = `UPDATE withdraw_payments SET status = 'FAILED', failure_reason = $2 WHERE payment_hash = $1`
	if _, err := tx.Exec(ctx, paymentQ, paymentHash, failureReason); err != nil {
		return mapPgError(err)
	}

	const reqQ = `UPDATE withdraw_requests SET status = 'PAYMENT_FAILED' WHERE payment_hash = $1`
	if _, err := tx.Exec(ctx, reqQ, paymentHash); err != nil {
		return mapPgError(err)
	}

	if hadLock {
		const deleteLockQ = `DELETE FROM locked_balances WHERE payment_hash = $1`
		if _, err := tx.Exec(ctx, deleteLockQ, paymentHash); err != nil {
			return mapPgError(err)
		}
		const creditQ = `UPDATE balances SET amount = amount + $2 WHERE userid = $1`
		if _, err := tx.Exec(ctx, creditQ, userid, amount); err != nil {
			return mapPgError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	logger.Info("withdraw payment failed", zap.String("payment_hash", paymentHash), zap.String("reason", failureReason))
	return nil
}

// CreateDepositRequest inserts the DepositRequest and its Invoice
// atomically (spec.md §4.A).
func (s *Store) CreateDepositRequest(ctx context.Context, req *database.DepositRequest, inv *database.Invoice) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	const invQ = `
		INSERT INTO deposit_invoices
			(payment_hash, bolt11, destination, num_satoshis, timestamp, expiry,
			 description, description_hash, fallback_addr, cltv_expiry,
			 route_hints, payment_addr, features)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if _, err := tx.Exec(ctx, invQ, inv.PaymentHash, inv.Bolt11, inv.Destination, inv.NumSatoshis,
		inv.Timestamp, inv.Expiry, inv.Description, inv.DescriptionHash, inv.FallbackAddr,
		inv.CltvExpiry, inv.RouteHints, inv.PaymentAddr, inv.Features); err != nil {
		return mapPgError(err)
	}

	const reqQ = `
		INSERT INTO deposit_requests (payment_hash, userid, status, amount, ts_created)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, reqQ, req.PaymentHash, req.UserID, req.Status, req.Amount, req.TSCreated); err != nil {
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// DepositFinalize credits the user's Balance, appends a deposit
// Transaction, and marks both the deposit Invoice and DepositRequest
// settled. Idempotent on payment_hash: a replayed SETTLED event finds
// the invoice already in state=SETTLED and the transaction insert is a
// conflict no-op, so the balance is credited exactly once.
func (s *Store) DepositFinalize(ctx context.Context, inv *database.Invoice) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	var alreadySettled bool
	const checkQ = `SELECT COALESCE(state = 'SETTLED', false) FROM deposit_invoices WHERE payment_hash = $1`
	if err := tx.QueryRow(ctx, checkQ, inv.PaymentHash).Scan(&alreadySettled); err != nil {
		return mapPgError(err)
	}
	if alreadySettled {
		return tx.Commit(ctx)
	}

	const invQ = `UPDATE deposit_invoices SET state = 'SETTLED' WHERE payment_hash = $1`
	if _, err := tx.Exec(ctx, invQ, inv.PaymentHash); err != nil {
		return mapPgError(err)
	}

	const txQ = `
		INSERT INTO deposit_transactions (payment_hash, userid, amount, ts_create)
		SELECT $1, userid, $2, now()
		FROM deposit_requests
		WHERE payment_hash = $1
		ON CONFLICT (payment_hash) DO NOTHING
	`
	if _, err := tx.Exec(ctx, txQ, inv.PaymentHash, inv.NumSatoshis); err != nil {
		return mapPgError(err)
	}

	const creditQ = `
		UPDATE balances
		SET amount = amount + $2
		FROM deposit_requests
		WHERE balances.userid = deposit_requests.userid
		AND deposit_requests.payment_hash = $1
	`
	if _, err := tx.Exec(ctx, creditQ, inv.PaymentHash, inv.NumSatoshis); err != nil {
		return mapPgError(err)
	}

	const reqQ = `UPDATE deposit_requests SET status = 'SETTLED' WHERE payment_hash = $1`
	if _, err := tx.Exec(ctx, reqQ, inv.PaymentHash); err != nil {
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// GetBalance returns the authoritative committed balance for userid.
func (s *Store) GetBalance(ctx context.Context, userid string) (int64, error) {
	const q = `SELECT amount FROM balances WHERE userid = $1`
	var amount int64
	if err := s.pool.QueryRow(ctx, q, userid).Scan(&amount); err != nil {
		return 0, mapPgError(err)
	}
	return amount, nil
}
