//go:build integration

package ledger

import (
	"lnurl-gateway/internal/database"
	"lnurl-gateway/pkg/logger"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func setupTestStore(t *testing.T) (*Store, *database.DB) {
	t.Helper()
	db := database.SetupTestDB(t)
	return New(db), db
}

func seedBalance(t *testing.T, db *database.DB, userid string, amount int64) {
	t.Helper()
	_, err := db.Pool().Exec(context.Background(),
		`INSERT INTO balances (userid, amount) VALUES ($1, $2)`, userid, amount)
	require.NoError(t, err)
}

func seedWithdrawRequest(t *testing.T, store *Store, k1, userid string, status database.WithdrawStatus) {
	t.Helper()
	req := &database.WithdrawRequest{
		K1:          k1,
		UserID:      userid,
		ClearnetURL: "https://fancy.domain/withdraw/ln/cb",
		Lnurl:       "lnurl1dummy",
		Lnurlw:      "https://fancy.domain/withdraw/ln/cb?k1=" + k1,
		Status:      database.WithdrawCreated,
		TSCreated:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateWithdrawRequest(context.Background(), req))
	if status != database.WithdrawCreated {
		require.NoError(t, store.UpdateWithdrawStatus(context.Background(), Selector{K1: k1}, status, ""))
	}
}

func TestStore_RedeemWithdraw_RequiresVerifiedStatus(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	seedBalance(t, db, "user01", 1_000_000)
	seedWithdrawRequest(t, store, "k1created", "user01", database.WithdrawCreated)

	inv := &database.Invoice{PaymentHash: "hash1", Bolt11: "lnbc1...", Destination: "03abc", NumSatoshis: 50000}
	req, err := store.RedeemWithdraw(ctx, "k1created", inv)
	require.NoError(t, err)
	assert.Nil(t, req, "redeem must refuse a request that never reached VERIFIED")
}

func TestStore_RedeemWithdraw_DebitsBalanceAndLocksFunds(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	seedBalance(t, db, "user01", 1_000_000)
	seedWithdrawRequest(t, store, "k1verified", "user01", database.WithdrawVerified)

	inv := &database.Invoice{PaymentHash: "hash2", Bolt11: "lnbc1...", Destination: "03abc", NumSatoshis: 60000}
	req, err := store.RedeemWithdraw(ctx, "k1verified", inv)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, database.WithdrawQueued, req.Status)

	balance, err := store.GetBalance(ctx, "user01")
	require.NoError(t, err)
	assert.Equal(t, int64(940000), balance)

	var locked int64
	err = db.Pool().QueryRow(ctx, `SELECT amount FROM locked_balances WHERE payment_hash = $1`, inv.PaymentHash).Scan(&locked)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), locked)
}

func TestStore_RedeemWithdraw_RefusesInsufficientBalance(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	seedBalance(t, db, "user01", 1000)
	seedWithdrawRequest(t, store, "k1poor", "user01", database.WithdrawVerified)

	inv := &database.Invoice{PaymentHash: "hash3", Bolt11: "lnbc1...", Destination: "03abc", NumSatoshis: 50000}
	req, err := store.RedeemWithdraw(ctx, "k1poor", inv)
	require.NoError(t, err)
	assert.Nil(t, req)

	balance, err := store.GetBalance(ctx, "user01")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance, "a refused redeem must never touch the balance")
}

// TestStore_RedeemWithdraw_ConcurrentCallersAtMostOneWins drives many
// concurrent redeem attempts against the same k1 with distinct invoices
// and asserts exactly one commits — the property the database-level
// serialization exists to guarantee instead of an in-process lock.
func TestStore_RedeemWithdraw_ConcurrentCallersAtMostOneWins(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	seedBalance(t, db, "user01", 1_000_000)
	seedWithdrawRequest(t, store, "k1race", "user01", database.WithdrawVerified)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]*database.WithdrawRequest, attempts)
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv := &database.Invoice{
				PaymentHash: "race-hash-" + string(rune('a'+i)),
				Bolt11:      "lnbc1...",
				Destination: "03abc",
				NumSatoshis: 10000,
			}
			results[i], errs[i] = store.RedeemWithdraw(ctx, "k1race", inv)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := 0; i < attempts; i++ {
		if errs[i] == nil && results[i] != nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent redeem attempt against the same k1 must win")
}

func TestStore_FinalizePayment_IsIdempotent(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	seedBalance(t, db, "user01", 1_000_000)
	seedWithdrawRequest(t, store, "k1final", "user01", database.WithdrawVerified)

	inv := &database.Invoice{PaymentHash: "hash-final", Bolt11: "lnbc1...", Destination: "03abc", NumSatoshis: 10000}
	_, err := store.RedeemWithdraw(ctx, "k1final", inv)
	require.NoError(t, err)

	require.NoError(t, store.FinalizePayment(ctx, inv.PaymentHash, "preimage123", 5))
	require.NoError(t, store.FinalizePayment(ctx, inv.PaymentHash, "preimage123", 5), "replaying the same settlement must be a no-op")

	var txCount int
	err = db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM withdraw_transactions WHERE payment_hash = $1`, inv.PaymentHash).Scan(&txCount)
	require.NoError(t, err)
	assert.Equal(t, 1, txCount, "a replayed settlement must not duplicate the ledger entry")

	var lockedCount int
	err = db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM locked_balances WHERE payment_hash = $1`, inv.PaymentHash).Scan(&lockedCount)
	require.NoError(t, err)
	assert.Equal(t, 0, lockedCount)
}

func TestStore_FailPayment_CreditsBalanceBack(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	seedBalance(t, db, "user01", 1_000_000)
	seedWithdrawRequest(t, store, "k1fail", "user01", database.WithdrawVerified)

	inv := &database.Invoice{PaymentHash: "hash-fail", Bolt11: "lnbc1...", Destination: "03abc", NumSatoshis: 25000}
	_, err := store.RedeemWithdraw(ctx, "k1fail", inv)
	require.NoError(t, err)

	balanceAfterRedeem, err := store.GetBalance(ctx, "user01")
	require.NoError(t, err)
	assert.Equal(t, int64(975000), balanceAfterRedeem)

	require.NoError(t, store.FailPayment(ctx, inv.PaymentHash, "no route"))

	balanceAfterFail, err := store.GetBalance(ctx, "user01")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), balanceAfterFail, "a failed payment must credit the reserved amount back")

	// Replaying the failure must not credit twice.
	require.NoError(t, store.FailPayment(ctx, inv.PaymentHash, "no route"))
	balanceAfterRetry, err := store.GetBalance(ctx, "user01")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), balanceAfterRetry)
}

func TestStore_DepositFinalize_CreditsBalanceOnce(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	seedBalance(t, db, "user01", 0)

	inv := &database.Invoice{
		PaymentHash: "deposit-hash-1",
		Bolt11:      "lnbc1...",
		Destination: "03abc",
		NumSatoshis: 15000,
	}
	depReq := &database.DepositRequest{
		PaymentHash: inv.PaymentHash,
		UserID:      "user01",
		Status:      database.DepositCreated,
		TSCreated:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateDepositRequest(ctx, depReq, inv))

	require.NoError(t, store.DepositFinalize(ctx, inv))
	require.NoError(t, store.DepositFinalize(ctx, inv), "a replayed settlement notification must not double-credit")

	balance, err := store.GetBalance(ctx, "user01")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), balance)
}

func TestStore_CountPendingWithdraws_IgnoresTerminalStates(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	ctx := context.Background()
	seedBalance(t, db, "user01", 1_000_000)
	seedWithdrawRequest(t, store, "k1pending1", "user01", database.WithdrawCreated)
	seedWithdrawRequest(t, store, "k1pending2", "user01", database.WithdrawVerified)
	seedWithdrawRequest(t, store, "k1done", "user01", database.WithdrawPaid)

	count, err := store.CountPendingWithdraws(ctx, "user01", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
