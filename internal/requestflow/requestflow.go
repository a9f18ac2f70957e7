// Package requestflow implements RequestFlow (spec.md §4.D): the six
// operations of the LNURL-withdraw/LNURL-pay handshake. Each is an
// independent entry point reachable from the HTTP boundary; Flow
// orchestrates LedgerStore, SessionCache, NodeClient, RateLimiter,
// ChallengeMint, and LnurlCodec under that contract the same way the
// teacher's card.Service orchestrates its repositories and lndClient.
package requestflow

import (
	"lnurl-gateway/internal/database"
	"lnurl-gateway/internal/ledger"
	"lnurl-gateway/internal/challenge"
	"lnurl-gateway/internal/lnurlcodec"
	"lnurl-gateway/internal/ratelimit"
	"lnurl-gateway/internal/sessioncache"
	"lnurl-gateway/pkg/logger"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// NodeClient is the slice of lnnode.Client's behavior RequestFlow depends
// on (spec.md §4.C: "Abstract over a Lightning node"). Declaring it here,
// scoped to what Flow actually calls, keeps requestflow testable without
// a live LND connection; *lnnode.Client satisfies it unmodified.
type NodeClient interface {
	DecodeInvoice(ctx context.Context, bolt11 string) (*database.Invoice, error)
	CreateInvoice(ctx context.Context, amountSats int64, description string) (*database.Invoice, error)
	PayInvoice(ctx context.Context, bolt11 string, feeLimitSats int64) error
}

// Errors returned by Flow operations that a caller (the HTTP layer) maps
// onto the exact LNURL/error response shapes in spec.md §6.
var (
	ErrInvalidToken         = errors.New("invalid token")
	ErrRateLimited          = errors.New("please try in a few minutes")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrPendingRequestExists = errors.New("user has pending requests")
	ErrRequestExpired       = errors.New("request expired")
	ErrInvalidWithdraw      = errors.New("invalid withdraw request")
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvoiceDecodeFailed  = errors.New("invoice decode error")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvoiceGeneration    = errors.New("error generating invoice")
)

// Config carries the public URL scheme/domain and the LNURL protocol
// constants (spec.md §6 "Configuration").
type Config struct {
	Schema              string
	Domain              string
	MinWithdrawSats     int64
	FeeLimitSats        int64
	MinSendableSats     int64
	MaxSendableSats     int64
	ChallengeTTL        time.Duration
	PendingWindow       time.Duration
}

// Flow is the concrete RequestFlow implementation. It holds no mutable
// state of its own; every durable or cached fact lives in Store or
// Cache, following the teacher's pattern of a stateless Service struct
// wired to injected repositories.
type Flow struct {
	cfg     Config
	store   *ledger.Store
	cache   *sessioncache.Cache
	node    NodeClient
	limiter *ratelimit.Limiter
}

// New wires a Flow from its dependencies, mirroring card.NewService's
// constructor-injection shape.
func New(cfg Config, store *ledger.Store, cache *sessioncache.Cache, node NodeClient, limiter *ratelimit.Limiter) *Flow {
	return &Flow{cfg: cfg, store: store, cache: cache, node: node, limiter: limiter}
}

// CreateLnurlResponse is the JSON body returned by both "/request"
// endpoints (spec.md §6).
type CreateLnurlResponse struct {
	Lnurl  string `json:"lnurl"`
	Lnurlw string `json:"lnurlw,omitempty"`
	Lnurlp string `json:"lnurlp,omitempty"`
}

// CreateWithdrawRequest implements Withdraw 1 (spec.md §4.D).
func (f *Flow) CreateWithdrawRequest(ctx context.Context, userid string) (*CreateLnurlResponse, error) {
	limited, err := f.limiter.Register(ctx, userid)
	if err != nil {
		return nil, fmt.Errorf("requestflow: rate limiter check: %w", err)
	}
	if limited {
		return nil, ErrRateLimited
	}

	balance, ok, err := f.cache.GetBalanceSnapshot(ctx, userid)
	if err != nil {
		return nil, fmt.Errorf("requestflow: read balance snapshot: %w", err)
	}
	if !ok {
		return nil, ErrInvalidToken
	}
	if balance < f.cfg.MinWithdrawSats {
		return nil, ErrInsufficientBalance
	}

	pending, err := f.store.CountPendingWithdraws(ctx, userid, f.cfg.PendingWindow)
	if err != nil {
		return nil, fmt.Errorf("requestflow: count pending withdraws: %w", err)
	}
	if pending > 0 {
		return nil, ErrPendingRequestExists
	}

	k1, err := challenge.Mint()
	if err != nil {
		return nil, fmt.Errorf("requestflow: mint challenge: %w", err)
	}

	clearnetURL := f.cfg.Schema + f.cfg.Domain + "/withdraw/ln/cb?k1=" + k1
	bech32URL, err := lnurlcodec.Encode(clearnetURL)
	if err != nil {
		return nil, fmt.Errorf("requestflow: encode lnurl: %w", err)
	}
	lnurlLegacy := "lightning:" + bech32URL
	lnurlw := "lnurlw://" + f.cfg.Domain + "/withdraw/ln/cb?k1=" + k1

	req := &database.WithdrawRequest{
		K1:          k1,
		UserID:      userid,
		ClearnetURL: clearnetURL,
		Lnurl:       lnurlLegacy,
		Lnurlw:      lnurlw,
		Status:      database.WithdrawCreated,
		TSCreated:   time.Now().UTC(),
	}
	if err := f.store.CreateWithdrawRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("requestflow: persist withdraw request: %w", err)
	}
	if err := f.cache.SetChallenge(ctx, k1, userid); err != nil {
		return nil, fmt.Errorf("requestflow: cache challenge: %w", err)
	}

	return &CreateLnurlResponse{Lnurl: lnurlLegacy, Lnurlw: lnurlw}, nil
}

// LnurlwCallback implements Withdraw 2 (spec.md §4.D). It returns the
// LUD-03 response directly rather than an error for every rejection
// reason, since the LNURL contract answers with a 200 body either way;
// the sentinel errors here carry only the reason text through to the
// HTTP layer's error envelope.
func (f *Flow) LnurlwCallback(ctx context.Context, k1 string) (*lnurlcodec.LnurlWithdrawResponse, error) {
	userid, err := f.cache.GetChallenge(ctx, k1)
	if err != nil {
		return nil, fmt.Errorf("requestflow: read challenge: %w", err)
	}
	if userid == "" {
		return nil, ErrRequestExpired
	}

	req, err := f.store.GetWithdrawRequest(ctx, k1)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("requestflow: read withdraw request: %w", err)
	}
	if req == nil || (req.Status != database.WithdrawCreated && req.Status != database.WithdrawVerified) {
		return nil, ErrInvalidWithdraw
	}

	balance, ok, err := f.cache.GetBalanceSnapshot(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("requestflow: read balance snapshot: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	if balance < f.cfg.MinWithdrawSats {
		return nil, ErrInsufficientBalance
	}

	// Idempotent: a repeated callback for an already-VERIFIED request is
	// legal and must still succeed, so this transition is a no-op when
	// the row has already moved past CREATED.
	if req.Status == database.WithdrawCreated {
		if err := f.store.UpdateWithdrawStatus(ctx, ledger.Selector{K1: k1}, database.WithdrawVerified, ""); err != nil {
			return nil, fmt.Errorf("requestflow: transition to verified: %w", err)
		}
	}

	callback := f.cfg.Schema + f.cfg.Domain + "/withdraw"
	resp := lnurlcodec.NewWithdrawResponse(callback, k1, balance, f.cfg.MinWithdrawSats, "Some withdraw description")
	return &resp, nil
}

// SubmitInvoice implements Withdraw 3 (spec.md §4.D). The session-lock
// unlock is deferred so it fires regardless of which return path is
// taken (spec.md §5 "Session lock").
func (f *Flow) SubmitInvoice(ctx context.Context, k1, bolt11 string) error {
	userid, err := f.cache.GetChallenge(ctx, k1)
	if err != nil {
		return fmt.Errorf("requestflow: read challenge: %w", err)
	}
	if userid == "" {
		return ErrRequestExpired
	}

	invoice, err := f.node.DecodeInvoice(ctx, bolt11)
	if err != nil {
		return fmt.Errorf("requestflow: decode invoice: %w", err)
	}
	if invoice == nil {
		return ErrInvoiceDecodeFailed
	}

	if err := f.cache.SetSessionStatus(ctx, userid, true); err != nil {
		return fmt.Errorf("requestflow: lock session: %w", err)
	}
	defer func() {
		if unlockErr := f.cache.Unlock(context.WithoutCancel(ctx), userid); unlockErr != nil {
			logger.Warn("requestflow: failed to unlock session after submit_invoice",
				zap.String("userid", userid), zap.Error(unlockErr))
		}
	}()

	balance, ok, err := f.cache.GetBalanceSnapshot(ctx, userid)
	if err != nil {
		return fmt.Errorf("requestflow: read balance snapshot: %w", err)
	}
	if !ok {
		if markErr := f.store.MarkWithdrawRejected(ctx, k1, invoice, "No session"); markErr != nil {
			logger.Warn("requestflow: failed to record bad invoice", zap.Error(markErr))
		}
		return ErrSessionNotFound
	}
	if invoice.NumSatoshis > balance || invoice.NumSatoshis < f.cfg.MinWithdrawSats {
		if markErr := f.store.MarkWithdrawRejected(ctx, k1, invoice, "Insufficient balance"); markErr != nil {
			logger.Warn("requestflow: failed to record rejected invoice", zap.Error(markErr))
		}
		return ErrInsufficientBalance
	}

	redeemed, err := f.store.RedeemWithdraw(ctx, k1, invoice)
	if err != nil {
		return fmt.Errorf("requestflow: redeem withdraw: %w", err)
	}
	if redeemed == nil {
		return ErrInvalidRequest
	}

	// Fire-and-forget: the ledger learns the outcome exclusively from
	// StreamSupervisor's TrackPayments consumer, never from this call.
	if err := f.node.PayInvoice(ctx, bolt11, f.cfg.FeeLimitSats); err != nil {
		logger.Error("requestflow: failed to initiate payment after successful redeem",
			zap.String("k1", k1), zap.String("payment_hash", invoice.PaymentHash), zap.Error(err))
		return fmt.Errorf("requestflow: initiate payment: %w", err)
	}

	return nil
}

// CreateDepositRequest implements Deposit 1 (spec.md §4.D): symmetric to
// Withdraw 1 but without balance/pending checks. Unlike Withdraw 1,
// nothing is persisted to LedgerStore here — DepositRequest is keyed by
// payment_hash (spec.md §3), which does not exist until IssueDepositInvoice
// obtains one from NodeClient; the challenge cache alone bridges k1 to
// userid until then. This is the corrected routing REDESIGN FLAGS #2
// calls for: the source's `create_withdraw_request` call for a deposit
// object never had a legitimate row to create in the first place.
func (f *Flow) CreateDepositRequest(ctx context.Context, userid string) (*CreateLnurlResponse, error) {
	k1, err := challenge.Mint()
	if err != nil {
		return nil, fmt.Errorf("requestflow: mint challenge: %w", err)
	}

	clearnetURL := f.cfg.Schema + f.cfg.Domain + "/deposit/ln?k1=" + k1
	bech32URL, err := lnurlcodec.Encode(clearnetURL)
	if err != nil {
		return nil, fmt.Errorf("requestflow: encode lnurl: %w", err)
	}
	lnurlp := "lnurlp://" + f.cfg.Domain + "/deposit/ln?k1=" + k1

	if err := f.cache.SetChallenge(ctx, k1, userid); err != nil {
		return nil, fmt.Errorf("requestflow: cache challenge: %w", err)
	}

	return &CreateLnurlResponse{Lnurl: bech32URL, Lnurlp: lnurlp}, nil
}

// LnurlpCallback implements Deposit 2 (spec.md §4.D): a static LUD-06
// response that never mutates state.
func (f *Flow) LnurlpCallback(k1 string) lnurlcodec.LnurlPayResponse {
	callback := f.cfg.Schema + f.cfg.Domain + "/deposit?k1=" + k1
	metadata := `[["text/plain","Some deposit description"]]`
	return lnurlcodec.NewPayResponse(callback, f.cfg.MinSendableSats, f.cfg.MaxSendableSats, metadata)
}

// IssueDepositInvoice implements Deposit 3 (spec.md §4.D).
func (f *Flow) IssueDepositInvoice(ctx context.Context, k1 string, amountSats int64) (*lnurlcodec.LnurlPayActionResponse, error) {
	userid, err := f.cache.GetChallenge(ctx, k1)
	if err != nil {
		return nil, fmt.Errorf("requestflow: read challenge: %w", err)
	}
	if userid == "" {
		return nil, ErrInvalidRequest
	}

	invoice, err := f.node.CreateInvoice(ctx, amountSats, "Deposit to "+f.cfg.Domain)
	if err != nil {
		return nil, fmt.Errorf("requestflow: create invoice: %w", err)
	}
	if invoice == nil {
		return nil, ErrInvoiceGeneration
	}

	req := &database.DepositRequest{
		PaymentHash: invoice.PaymentHash,
		UserID:      userid,
		Status:      database.DepositCreated,
		Amount:      &amountSats,
		TSCreated:   time.Now().UTC(),
	}
	if err := f.store.CreateDepositRequest(ctx, req, invoice); err != nil {
		return nil, fmt.Errorf("requestflow: persist deposit invoice: %w", err)
	}

	resp := lnurlcodec.NewPayActionResponse(invoice.Bolt11, lnurlcodec.NewMessageAction("Thank you!"))
	return &resp, nil
}
