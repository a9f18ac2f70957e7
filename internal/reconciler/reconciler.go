// Package reconciler wires the two long-lived LND event streams
// (lnnode.TrackPayments, lnnode.PaidInvoicesStream) into LedgerStore, each
// under its own supervisor.Supervise loop (spec.md §4.E). These are the
// only two places in the gateway that observe payment/invoice settlement;
// everything else about RequestFlow is request/response.
package reconciler

import (
	"lnurl-gateway/internal/database"
	"lnurl-gateway/internal/lnnode"
	"lnurl-gateway/internal/supervisor"
	"lnurl-gateway/pkg/logger"
	"context"

	"go.uber.org/zap"
)

// PaymentStream is the slice of lnnode.Client's behavior the payment
// reconciler depends on.
type PaymentStream interface {
	TrackPayments(ctx context.Context) (<-chan lnnode.PaymentEvent, error)
}

// InvoiceStream is the slice of lnnode.Client's behavior the deposit
// reconciler depends on.
type InvoiceStream interface {
	PaidInvoicesStream(ctx context.Context) (<-chan *database.Invoice, error)
}

// PaymentLedger is the slice of ledger.Store's behavior the payment
// reconciler depends on; *ledger.Store satisfies it unmodified.
type PaymentLedger interface {
	FinalizePayment(ctx context.Context, paymentHash, preimage string, feeSat int64) error
	FailPayment(ctx context.Context, paymentHash, failureReason string) error
}

// DepositLedger is the slice of ledger.Store's behavior the deposit
// reconciler depends on; *ledger.Store satisfies it unmodified.
type DepositLedger interface {
	DepositFinalize(ctx context.Context, inv *database.Invoice) error
}

// RunPaymentReconciler consumes TrackPayments under supervision and
// applies SUCCEEDED/FAILED events to LedgerStore (spec.md §4.A
// FinalizePayment/FailPayment). IN_FLIGHT and INITIATED events carry no
// ledger action — they exist only so callers watching the raw stream can
// observe progress. Blocks until ctx is cancelled.
func RunPaymentReconciler(ctx context.Context, node PaymentStream, store PaymentLedger) {
	supervisor.Supervise(ctx, "track_payments", func(ctx context.Context) error {
		events, err := node.TrackPayments(ctx)
		if err != nil {
			return err
		}
		for event := range events {
			switch event.Status {
			case database.PaymentSucceeded:
				if err := store.FinalizePayment(ctx, event.PaymentHash, event.Preimage, event.FeeSat); err != nil {
					logger.Error("failed to finalize payment", zap.String("payment_hash", event.PaymentHash), zap.Error(err))
				}
			case database.PaymentFailed:
				if err := store.FailPayment(ctx, event.PaymentHash, event.FailureReason); err != nil {
					logger.Error("failed to fail payment", zap.String("payment_hash", event.PaymentHash), zap.Error(err))
				}
			}
		}
		return nil
	})
}

// RunDepositReconciler consumes PaidInvoicesStream under supervision and
// credits balances for invoices that reach state SETTLED (spec.md §4.A
// DepositFinalize). Blocks until ctx is cancelled.
func RunDepositReconciler(ctx context.Context, node InvoiceStream, store DepositLedger) {
	supervisor.Supervise(ctx, "paid_invoices", func(ctx context.Context) error {
		invoices, err := node.PaidInvoicesStream(ctx)
		if err != nil {
			return err
		}
		for inv := range invoices {
			if inv.State == nil || *inv.State != "SETTLED" {
				continue
			}
			if err := store.DepositFinalize(ctx, inv); err != nil {
				logger.Error("failed to finalize deposit", zap.String("payment_hash", inv.PaymentHash), zap.Error(err))
			}
		}
		return nil
	})
}
