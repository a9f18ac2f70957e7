// Package lnurlcodec implements LnurlCodec: bech32 encoding of the LNURL
// string form (spec.md §4.H) plus the JSON wire DTOs for the LUD-03
// (withdraw), LUD-06 (pay), and LUD-09 (success action) schemas. Field
// names are bit-exact per spec.md §6 — external wallets parse these by
// name, not position.
package lnurlcodec

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const hrp = "lnurl"

// Encode bech32-encodes url as an upper-case "LNURL1..." string, per the
// LNURL convention of upper-casing the QR-transport form. Callers embed
// the result directly, e.g. "lightning:" + Encode(url).
func Encode(url string) (string, error) {
	converted, err := bech32.ConvertBits([]byte(url), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("lnurlcodec: convert bits: %w", err)
	}
	encoded, err := bech32.Encode(hrp, converted)
	if err != nil {
		return "", fmt.Errorf("lnurlcodec: bech32 encode: %w", err)
	}
	return strings.ToUpper(encoded), nil
}

// Decode reverses Encode, recovering the original URL from a bech32
// "lnurl1..." string. Accepts either case, as bech32 itself does, and
// strings longer than bech32's 90-character limit, which LNURLs exceed.
func Decode(lnurl string) (string, error) {
	gotHRP, data, err := bech32.DecodeNoLimit(lnurl)
	if err != nil {
		return "", fmt.Errorf("lnurlcodec: bech32 decode: %w", err)
	}
	if gotHRP != hrp {
		return "", fmt.Errorf("lnurlcodec: unexpected human-readable part %q", gotHRP)
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("lnurlcodec: convert bits: %w", err)
	}
	return string(converted), nil
}

// LnurlErrorResponse is the LNURL-family error envelope returned by every
// callback endpoint on failure.
type LnurlErrorResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// NewError builds a populated LnurlErrorResponse.
func NewError(reason string) LnurlErrorResponse {
	return LnurlErrorResponse{Status: "ERROR", Reason: reason}
}

// LnurlSuccessResponse is the bare {"status":"OK"} envelope.
type LnurlSuccessResponse struct {
	Status string `json:"status"`
}

// NewSuccess builds a populated LnurlSuccessResponse.
func NewSuccess() LnurlSuccessResponse {
	return LnurlSuccessResponse{Status: "OK"}
}

// LnurlWithdrawResponse is the LUD-03 withdraw-request response.
type LnurlWithdrawResponse struct {
	Tag                string `json:"tag"`
	Callback           string `json:"callback"`
	K1                 string `json:"k1"`
	MaxWithdrawable    int64  `json:"maxWithdrawable"`
	MinWithdrawable    int64  `json:"minWithdrawable"`
	DefaultDescription string `json:"defaultDescription"`
}

// NewWithdrawResponse builds a populated LnurlWithdrawResponse; tag is
// always "withdrawRequest" per LUD-03.
func NewWithdrawResponse(callback, k1 string, maxWithdrawable, minWithdrawable int64, description string) LnurlWithdrawResponse {
	return LnurlWithdrawResponse{
		Tag:                "withdrawRequest",
		Callback:           callback,
		K1:                 k1,
		MaxWithdrawable:    maxWithdrawable,
		MinWithdrawable:    minWithdrawable,
		DefaultDescription: description,
	}
}

// LnurlPayResponse is the LUD-06 pay-request response.
type LnurlPayResponse struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Metadata    string `json:"metadata"`
}

// NewPayResponse builds a populated LnurlPayResponse; tag is always
// "payRequest" per LUD-06. metadata is passed through already-serialized
// (a JSON array of [mimetype, content] pairs, itself JSON-encoded as a
// string) since its content is a RequestFlow concern, not LnurlCodec's.
func NewPayResponse(callback string, minSendable, maxSendable int64, metadata string) LnurlPayResponse {
	return LnurlPayResponse{
		Tag:         "payRequest",
		Callback:    callback,
		MinSendable: minSendable,
		MaxSendable: maxSendable,
		Metadata:    metadata,
	}
}

// LnurlSuccessAction is the LUD-09 successAction object embedded in a
// LnurlPayActionResponse.
type LnurlSuccessAction struct {
	Tag     string `json:"tag"`
	Message string `json:"message,omitempty"`
}

// NewMessageAction builds a "message" successAction, the only tag kind
// RequestFlow issues.
func NewMessageAction(message string) LnurlSuccessAction {
	return LnurlSuccessAction{Tag: "message", Message: message}
}

// LnurlPayActionResponse is the LUD-06 invoice response returned from the
// pay callback once a wallet has requested an amount.
type LnurlPayActionResponse struct {
	Pr            string             `json:"pr"`
	SuccessAction LnurlSuccessAction `json:"successAction"`
}

// NewPayActionResponse builds a populated LnurlPayActionResponse.
func NewPayActionResponse(bolt11 string, action LnurlSuccessAction) LnurlPayActionResponse {
	return LnurlPayActionResponse{Pr: bolt11, SuccessAction: action}
}
