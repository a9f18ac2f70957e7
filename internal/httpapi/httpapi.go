// Package httpapi is the thin stdlib net/http boundary spec.md §6
// describes: six GET endpoints parsing query parameters and the bearer
// token, calling straight into requestflow.Flow, and translating results
// into the exact LUD-03/06/09 JSON shapes. No HTTP framework is used —
// the teacher itself never imports one, relying on net/http directly.
package httpapi

import (
	"lnurl-gateway/internal/auth"
	"lnurl-gateway/internal/requestflow"
	"lnurl-gateway/pkg/logger"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Server holds the dependencies the six handlers share.
type Server struct {
	flow     *requestflow.Flow
	verifier *auth.Verifier
}

// NewServer wires a Server from its dependencies.
func NewServer(flow *requestflow.Flow, verifier *auth.Verifier) *Server {
	return &Server{flow: flow, verifier: verifier}
}

// Routes returns the six-endpoint mux spec.md §6 defines, ready to be
// served directly or wrapped by the caller (e.g. with request logging).
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/withdraw/ln/request", s.handleWithdrawRequest)
	mux.HandleFunc("/withdraw/ln/cb", s.handleWithdrawCallback)
	mux.HandleFunc("/withdraw/ln", s.handleWithdraw)
	mux.HandleFunc("/deposit/ln/request", s.handleDepositRequest)
	mux.HandleFunc("/deposit/ln/cb", s.handleDepositCallback)
	mux.HandleFunc("/deposit/ln", s.handleDeposit)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("httpapi: failed to encode response body", zap.Error(err))
	}
}

// writeError answers a non-LNURL endpoint (the two "/request" routes)
// with a plain 400 and a short message, per spec.md §7: InputInvalid,
// AuthMissing, RateLimited and Precondition are "HTTP 400 ... otherwise".
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeLnurlError answers an LNURL endpoint with the {"status":"ERROR",
// "reason":...} envelope spec.md §6 requires, always as HTTP 200 — the
// LNURL contract communicates failure in the body, not the status line.
func writeLnurlError(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ERROR", "reason": reason})
}

// authenticate extracts and verifies the bearer token, writing the
// AuthMissing 400 response itself on failure. Returns ("", false) when
// the caller should stop handling the request.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	data, err := s.verifier.Decode(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token")
		return "", false
	}
	if data == nil {
		writeError(w, http.StatusBadRequest, "missing or invalid token")
		return "", false
	}
	return data.UserID, true
}

func (s *Server) handleWithdrawRequest(w http.ResponseWriter, r *http.Request) {
	userid, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	resp, err := s.flow.CreateWithdrawRequest(r.Context(), userid)
	if err != nil {
		writeError(w, http.StatusBadRequest, requestErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWithdrawCallback(w http.ResponseWriter, r *http.Request) {
	k1 := r.URL.Query().Get("k1")
	if !hex64.MatchString(k1) {
		writeLnurlError(w, "Invalid k1")
		return
	}

	resp, err := s.flow.LnurlwCallback(r.Context(), k1)
	if err != nil {
		writeLnurlError(w, requestErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	k1 := r.URL.Query().Get("k1")
	pr := r.URL.Query().Get("pr")
	if !hex64.MatchString(k1) || pr == "" {
		writeLnurlError(w, "Invalid request")
		return
	}

	if err := s.flow.SubmitInvoice(r.Context(), k1, pr); err != nil {
		writeLnurlError(w, requestErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleDepositRequest(w http.ResponseWriter, r *http.Request) {
	userid, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	resp, err := s.flow.CreateDepositRequest(r.Context(), userid)
	if err != nil {
		writeError(w, http.StatusBadRequest, requestErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDepositCallback(w http.ResponseWriter, r *http.Request) {
	k1 := r.URL.Query().Get("k1")
	if !hex64.MatchString(k1) {
		writeLnurlError(w, "Invalid k1")
		return
	}
	writeJSON(w, http.StatusOK, s.flow.LnurlpCallback(k1))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	k1 := r.URL.Query().Get("k1")
	if !hex64.MatchString(k1) {
		writeLnurlError(w, "Invalid k1")
		return
	}

	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount <= 100000 {
		writeLnurlError(w, "Invalid amount")
		return
	}

	resp, err := s.flow.IssueDepositInvoice(r.Context(), k1, amount)
	if err != nil {
		writeLnurlError(w, requestErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// requestErrorMessage maps a requestflow sentinel error onto the short,
// non-sensitive user-visible text spec.md §7 requires; anything
// unrecognized (a Transient failure) collapses to a generic message so
// internal detail is never echoed back to the caller.
func requestErrorMessage(err error) string {
	switch {
	case errors.Is(err, requestflow.ErrInvalidToken):
		return "invalid token"
	case errors.Is(err, requestflow.ErrRateLimited):
		return "Please try in a few minutes"
	case errors.Is(err, requestflow.ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, requestflow.ErrPendingRequestExists):
		return "User has pending requests"
	case errors.Is(err, requestflow.ErrRequestExpired):
		return "Request expired"
	case errors.Is(err, requestflow.ErrInvalidWithdraw):
		return "Invalid withdraw request"
	case errors.Is(err, requestflow.ErrSessionNotFound):
		return "No session"
	case errors.Is(err, requestflow.ErrInvoiceDecodeFailed):
		return "Could not decode invoice"
	case errors.Is(err, requestflow.ErrInvalidRequest):
		return "Invalid request"
	case errors.Is(err, requestflow.ErrInvoiceGeneration):
		return "Error generating invoice"
	default:
		logger.Error("httpapi: unmapped requestflow error", zap.Error(err))
		return "Internal error"
	}
}
