//go:build integration

package httpapi

import (
	"lnurl-gateway/internal/auth"
	"lnurl-gateway/internal/database"
	"lnurl-gateway/internal/ledger"
	"lnurl-gateway/internal/ratelimit"
	"lnurl-gateway/internal/requestflow"
	"lnurl-gateway/internal/sessioncache"
	"lnurl-gateway/pkg/cache"
	"lnurl-gateway/pkg/logger"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { _ = logger.Init("development") }

const testSecret = "test-jwt-secret"

type fakeNode struct{}

func (f *fakeNode) DecodeInvoice(ctx context.Context, bolt11 string) (*database.Invoice, error) {
	return nil, nil
}
func (f *fakeNode) CreateInvoice(ctx context.Context, amountSats int64, description string) (*database.Invoice, error) {
	return nil, nil
}
func (f *fakeNode) PayInvoice(ctx context.Context, bolt11 string, feeLimitSats int64) error {
	return nil
}

func setupTestServer(t *testing.T) (*Server, *database.DB) {
	t.Helper()
	require.NoError(t, cache.Init(cache.Config{Host: "localhost", Port: "6379", DB: 4}))
	t.Cleanup(func() { _ = cache.Client.FlushDB(context.Background()).Err() })

	db := database.SetupTestDB(t)
	store := ledger.New(db)
	flow := requestflow.New(requestflow.Config{
		Schema: "https://", Domain: "fancy.domain",
		MinWithdrawSats: 50000, FeeLimitSats: 10000,
		MinSendableSats: 10000, MaxSendableSats: 100_000_000,
		ChallengeTTL: 600 * time.Second, PendingWindow: 5 * time.Minute,
	}, store, sessioncache.New(), &fakeNode{}, ratelimit.New(60*time.Second))

	verifier := auth.NewVerifier(testSecret, "HS256")
	return NewServer(flow, verifier), db
}

func bearerFor(t *testing.T, userid string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userid,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestHandleWithdrawRequest_RejectsMissingBearerToken(t *testing.T) {
	srv, db := setupTestServer(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	req := httptest.NewRequest(http.MethodGet, "/withdraw/ln/request", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWithdrawRequest_SucceedsWithValidBearerAndBalance(t *testing.T) {
	srv, db := setupTestServer(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	userid := uuid.New().String()
	_, err := db.Pool().Exec(context.Background(), `INSERT INTO balances (userid, amount) VALUES ($1, $2)`, userid, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, sessioncache.New().SetBalanceSnapshot(context.Background(), userid, 1_000_000))

	req := httptest.NewRequest(http.MethodGet, "/withdraw/ln/request", nil)
	req.Header.Set("Authorization", bearerFor(t, userid))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body["lnurl"], "lightning:LNURL1")
	assert.Contains(t, body["lnurlw"], "k1=")
}

func TestHandleWithdrawCallback_RejectsMalformedK1(t *testing.T) {
	srv, db := setupTestServer(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	req := httptest.NewRequest(http.MethodGet, "/withdraw/ln/cb?"+url.Values{"k1": {"not-hex"}}.Encode(), nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ERROR", body["status"])
}

func TestHandleDepositCallback_IsStaticAndNeedsNoAuth(t *testing.T) {
	srv, db := setupTestServer(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	k1 := strings.Repeat("a", 64)
	req := httptest.NewRequest(http.MethodGet, "/deposit/ln/cb?"+url.Values{"k1": {k1}}.Encode(), nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "payRequest", body["tag"])
}

func TestHandleDeposit_RejectsAmountBelowMinimum(t *testing.T) {
	srv, db := setupTestServer(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	k1 := strings.Repeat("a", 64)
	req := httptest.NewRequest(http.MethodGet, "/deposit/ln?"+url.Values{"k1": {k1}, "amount": {"100"}}.Encode(), nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ERROR", body["status"])
}
