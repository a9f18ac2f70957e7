package lnurlcodec

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_ProducesUppercaseLnurlPrefix(t *testing.T) {
	encoded, err := Encode("https://fancy.domain/withdraw/ln/cb?k1=abc123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "LNURL1"))
	assert.Equal(t, strings.ToUpper(encoded), encoded)
}

func TestRoundTrip_DecodeEncodeIsIdentity(t *testing.T) {
	urls := []string{
		"https://fancy.domain/withdraw/ln/cb?k1=" + strings.Repeat("a", 64),
		"https://fancy.domain/deposit/ln/cb?k1=" + strings.Repeat("f", 64),
		"https://fancy.domain/",
	}
	for _, url := range urls {
		encoded, err := Encode(url)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, url, decoded)

		reEncoded, err := Encode(decoded)
		require.NoError(t, err)
		assert.Equal(t, encoded, reEncoded, "encode(decode(s)) must equal s for a well-formed LNURL string")
	}
}

func TestDecode_RejectsWrongHumanReadablePart(t *testing.T) {
	// bc1... is a valid bech32 string but carries the "bc" HRP, not "lnurl".
	_, err := Decode("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
	assert.Error(t, err)
}

func TestDecode_RejectsMalformedString(t *testing.T) {
	_, err := Decode("not-bech32-at-all")
	assert.Error(t, err)
}

func TestNewWithdrawResponse_FieldNamesMatchLUD03(t *testing.T) {
	resp := NewWithdrawResponse("https://fancy.domain/withdraw", "k1value", 1_000_000, 50000, "Some withdraw description")
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))

	for _, field := range []string{"tag", "callback", "k1", "maxWithdrawable", "minWithdrawable", "defaultDescription"} {
		assert.Contains(t, m, field)
	}
	assert.Equal(t, "withdrawRequest", m["tag"])
}

func TestNewPayResponse_FieldNamesMatchLUD06(t *testing.T) {
	resp := NewPayResponse("https://fancy.domain/deposit?k1=x", 10000, 100_000_000, `[["text/plain","Deposit to fancy.domain"]]`)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))

	for _, field := range []string{"tag", "callback", "minSendable", "maxSendable", "metadata"} {
		assert.Contains(t, m, field)
	}
	assert.Equal(t, "payRequest", m["tag"])
}

func TestNewPayActionResponse_FieldNamesMatchLUD09(t *testing.T) {
	resp := NewPayActionResponse("lnbc1...", NewMessageAction("Thank you!"))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "lnbc1...", m["pr"])

	action := m["successAction"].(map[string]interface{})
	assert.Equal(t, "message", action["tag"])
	assert.Equal(t, "Thank you!", action["message"])
}

func TestNewError_And_NewSuccess(t *testing.T) {
	errResp := NewError("Request expired")
	assert.Equal(t, "ERROR", errResp.Status)
	assert.Equal(t, "Request expired", errResp.Reason)

	ok := NewSuccess()
	assert.Equal(t, "OK", ok.Status)
}
