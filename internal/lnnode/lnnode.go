// Package lnnode implements NodeClient (spec.md §4.C): a thin wrapper
// over an LND gRPC connection exposing invoice decode/create, fire-and-
// forget outbound payment, and the two long-lived event streams
// StreamSupervisor consumes. Unlike the teacher's lnd.Client, PayInvoice
// here never blocks draining the payment stream itself — that would tie
// payment completion to the lifetime of the HTTP request that triggered
// it. Outcomes are observed exclusively through TrackPayments.
package lnnode

import (
	"lnurl-gateway/internal/database"
	"lnurl-gateway/pkg/logger"
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Config is the LND connection configuration (spec.md §6 "Configuration").
type Config struct {
	GRPCHost              string
	GRPCPort              string
	TLSCertPath           string
	MacaroonPath          string
	Network               string
	PaymentTimeoutSeconds int
}

type macaroonCredential struct {
	macaroon string
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool { return true }

// Client is the concrete NodeClient implementation over LND's gRPC API.
type Client struct {
	conn         *grpc.ClientConn
	lnClient     lnrpc.LightningClient
	routerClient routerrpc.RouterClient
	cfg          Config
}

// NewClient dials LND over TLS+macaroon and validates the connection with
// a GetInfo call, same fail-fast posture as the teacher's lnd.NewClient.
func NewClient(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("lnnode: could not load tls cert from %s: %w", cfg.TLSCertPath, err)
	}

	macaroonBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("lnnode: failed to read macaroon %s: %w", cfg.MacaroonPath, err)
	}
	macCreds := macaroonCredential{macaroon: hex.EncodeToString(macaroonBytes)}

	url := cfg.GRPCHost + ":" + cfg.GRPCPort
	conn, err := grpc.NewClient(url, grpc.WithTransportCredentials(creds), grpc.WithPerRPCCredentials(macCreds))
	if err != nil {
		return nil, fmt.Errorf("lnnode: could not dial %s: %w", url, err)
	}

	lnClient := lnrpc.NewLightningClient(conn)
	info, err := lnClient.GetInfo(context.Background(), &lnrpc.GetInfoRequest{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("lnnode: failed to connect to LND (is it running? wallet unlocked?): %w", err)
	}
	logger.Info("connected to LND",
		zap.String("alias", info.Alias),
		zap.String("pubkey", info.IdentityPubkey),
		zap.Uint32("block_height", info.BlockHeight),
		zap.Bool("synced_to_chain", info.SyncedToChain),
	)
	if !info.SyncedToChain {
		logger.Warn("LND is not synced to chain; payments may fail until sync completes")
	}

	return &Client{
		conn:         conn,
		lnClient:     lnClient,
		routerClient: routerrpc.NewRouterClient(conn),
		cfg:          cfg,
	}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func toLedgerInvoice(destination, paymentHash, bolt11, description, descriptionHash, paymentAddr string,
	numSatoshis, timestamp, expiry, cltvExpiry int64) *database.Invoice {
	return &database.Invoice{
		PaymentHash:     paymentHash,
		Bolt11:          bolt11,
		Destination:     destination,
		NumSatoshis:     numSatoshis,
		Timestamp:       timestamp,
		Expiry:          expiry,
		Description:     description,
		DescriptionHash: descriptionHash,
		CltvExpiry:      cltvExpiry,
		PaymentAddr:     paymentAddr,
	}
}

// DecodeInvoice parses and validates a BOLT-11 string (spec.md §4.C).
// Returns (nil, nil) whenever DecodePayReq fails, whether LND rejected the
// invoice as malformed or the call failed in transport; it never returns a
// non-nil error.
func (c *Client) DecodeInvoice(ctx context.Context, bolt11 string) (*database.Invoice, error) {
	resp, err := c.lnClient.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: bolt11})
	if err != nil {
		return nil, nil
	}
	inv := toLedgerInvoice(resp.Destination, resp.PaymentHash, bolt11, resp.Description,
		resp.DescriptionHash, resp.PaymentAddr, resp.NumSatoshis, resp.Timestamp, resp.Expiry, resp.CltvExpiry)
	return inv, nil
}

// CreateInvoice produces a new invoice payable to the operator's node
// (spec.md §4.C, used by Deposit 3 — IssueDepositInvoice).
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, description string) (*database.Invoice, error) {
	added, err := c.lnClient.AddInvoice(ctx, &lnrpc.Invoice{
		Value: amountSats,
		Memo:  description,
	})
	if err != nil {
		return nil, nil
	}
	return c.DecodeInvoice(ctx, added.PaymentRequest)
}

// PayInvoice initiates an outgoing payment and returns immediately; it
// does not wait for SUCCEEDED/FAILED. The request is handed to LND's
// router and its outcome is observed exclusively via TrackPayments —
// this is the enqueue-then-forget shape spec.md §9 requires in place of
// a handler that blocks on payment completion.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string, feeLimitSats int64) error {
	req := &routerrpc.SendPaymentRequest{
		PaymentRequest: bolt11,
		TimeoutSeconds: int32(c.cfg.PaymentTimeoutSeconds),
		FeeLimitSat:    feeLimitSats,
	}
	stream, err := c.routerClient.SendPaymentV2(ctx, req)
	if err != nil {
		return fmt.Errorf("lnnode: failed to initiate payment: %w", err)
	}
	// Drain the stream in the background purely to free the gRPC resources
	// tied to it; the ledger never learns the outcome from here.
	go func() {
		for {
			if _, err := stream.Recv(); err != nil {
				return
			}
		}
	}()
	return nil
}

// PaymentEvent is one element of the track_payments lazy sequence
// (spec.md §4.C).
type PaymentEvent struct {
	PaymentHash   string
	Preimage      string
	ValueSat      int64
	Status        database.PaymentStatus
	FeeSat        int64
	FailureReason string
}

func mapPaymentStatus(s lnrpc.Payment_PaymentStatus) database.PaymentStatus {
	switch s {
	case lnrpc.Payment_SUCCEEDED:
		return database.PaymentSucceeded
	case lnrpc.Payment_FAILED:
		return database.PaymentFailed
	case lnrpc.Payment_IN_FLIGHT:
		return database.PaymentInFlight
	default:
		return database.PaymentInitiated
	}
}

// TrackPayments returns an infinite, restartable channel of payment
// status updates (spec.md §4.C). The channel is closed when ctx is
// cancelled or the underlying stream ends; StreamSupervisor is
// responsible for reopening it.
func (c *Client) TrackPayments(ctx context.Context) (<-chan PaymentEvent, error) {
	stream, err := c.routerClient.TrackPayments(ctx, &routerrpc.TrackPaymentsRequest{NoInflightUpdates: false})
	if err != nil {
		return nil, fmt.Errorf("lnnode: failed to open payment tracking stream: %w", err)
	}

	out := make(chan PaymentEvent)
	go func() {
		defer close(out)
		for {
			payment, err := stream.Recv()
			if err != nil {
				return
			}
			event := PaymentEvent{
				PaymentHash:     payment.PaymentHash,
				Preimage:        payment.PaymentPreimage,
				ValueSat:        payment.ValueSat,
				Status:          mapPaymentStatus(payment.Status),
				FeeSat:          payment.FeeSat,
				FailureReason:   payment.FailureReason.String(),
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PaidInvoicesStream returns an infinite, restartable channel of invoice
// updates; the core acts only on state == SETTLED (spec.md §4.C).
func (c *Client) PaidInvoicesStream(ctx context.Context) (<-chan *database.Invoice, error) {
	stream, err := c.lnClient.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		return nil, fmt.Errorf("lnnode: failed to open invoice subscription: %w", err)
	}

	out := make(chan *database.Invoice)
	go func() {
		defer close(out)
		for {
			upd, err := stream.Recv()
			if err != nil {
				return
			}
			state := upd.State.String()
			// Incoming invoices have no meaningful "destination" — the
			// payee is always this node itself.
			inv := toLedgerInvoice("", hex.EncodeToString(upd.RHash), upd.PaymentRequest, upd.Memo,
				"", hex.EncodeToString(upd.PaymentAddr), upd.Value, upd.CreationDate, upd.Expiry, upd.CltvExpiry)
			inv.State = &state
			if preimage := hex.EncodeToString(upd.RPreimage); preimage != "" {
				inv.Preimage = &preimage
			}
			select {
			case out <- inv:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

