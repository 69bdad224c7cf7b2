package apns

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "fe15a27d5df3c34778defb1f4f3980265cc52c0c047682223be59fb68500a9d2"

func TestNewUnknownField(t *testing.T) {
	_, err := New(map[string]any{"alert": "hi", "snooze": true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.Contains(t, err.Error(), "snooze")
}

func TestNewAppliesFields(t *testing.T) {
	n, err := New(map[string]any{
		"device_token": testToken,
		"identifier":   42,
		"expiry":       int64(1700000000),
		"alert":        "hello",
		"badge":        3,
		"sound":        "chime.aiff",
	})
	require.NoError(t, err)
	payload, err := n.Payload()
	require.NoError(t, err)
	assert.Equal(t, `{"aps":{"alert":"hello","badge":3,"sound":"chime.aiff"}}`, string(payload))
	assert.Equal(t, uint32(42), n.Identifier())
}

func TestValidateRequiresAlertOrBadge(t *testing.T) {
	n, err := New(map[string]any{"sound": "chime.aiff"})
	require.NoError(t, err)
	assert.ErrorIs(t, n.Validate(), ErrNoPayload)
	assert.False(t, n.Valid())

	n.SetAlert("hi")
	assert.NoError(t, n.Validate())
	assert.True(t, n.Valid())

	n.SetAlert(nil)
	assert.ErrorIs(t, n.Validate(), ErrNoPayload)

	n.SetBadge(1)
	assert.NoError(t, n.Validate())
}

func TestValidateSizeCeiling(t *testing.T) {
	n := &Notification{}
	n.SetAlert("x")
	payload, err := n.Payload()
	require.NoError(t, err)
	overhead := len(payload) - 1

	// Exactly at the ceiling passes.
	n.SetAlert(strings.Repeat("x", MaxPayloadSize-overhead))
	payload, err = n.Payload()
	require.NoError(t, err)
	require.Len(t, payload, MaxPayloadSize)
	assert.NoError(t, n.Validate())

	// One byte over fails.
	n.SetAlert(strings.Repeat("x", MaxPayloadSize-overhead+1))
	err = n.Validate()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.False(t, n.Valid())
}

func TestPayloadShape(t *testing.T) {
	n := &Notification{}
	n.SetAlert("hi")
	n.SetBadge(2)
	n.SetSound("default")
	n.SetContentAvailable(true)
	n.SetCategory("INVITE")
	n.SetGroup("friends")

	payload, err := n.Payload()
	require.NoError(t, err)
	assert.Equal(t,
		`{"aps":{"alert":"hi","badge":2,"sound":"default","content-available":1,"category":"INVITE","group":"friends"}}`,
		string(payload))
}

func TestPayloadOmitsFalsyFields(t *testing.T) {
	n := &Notification{}
	n.SetAlert("hi")
	n.SetBadge(0)
	n.SetSound("")
	n.SetContentAvailable(false)
	n.SetExtra(nil)

	payload, err := n.Payload()
	require.NoError(t, err)
	assert.Equal(t, `{"aps":{"alert":"hi"}}`, string(payload))
}

func TestStructuredAlertPassesThrough(t *testing.T) {
	n := &Notification{}
	n.SetAlert(map[string]any{"body": "hi"})
	payload, err := n.Payload()
	require.NoError(t, err)
	assert.Equal(t, `{"aps":{"alert":{"body":"hi"}}}`, string(payload))
}

func TestCustomMergePrecedence(t *testing.T) {
	n := &Notification{}
	n.SetAlert("hi")
	n.SetCustom(map[string]any{
		"thread": "t-1",
		"aps":    map[string]any{"alert": "override"},
	})

	payload, err := n.Payload()
	require.NoError(t, err)
	// custom wins on collision, and its value replaces aps in place.
	assert.Equal(t, `{"aps":{"alert":"override"},"thread":"t-1"}`, string(payload))
}

func TestIdempotentReencoding(t *testing.T) {
	n := &Notification{}
	n.SetDeviceToken(testToken)
	n.SetAlert("same")
	n.SetCustom(map[string]any{"b": 2, "a": 1, "c": 3})

	first, err := n.ToBytes()
	require.NoError(t, err)
	second, err := n.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCacheInvalidation(t *testing.T) {
	n := &Notification{}
	n.SetAlert("before")
	payload, err := n.Payload()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "before")

	n.SetAlert("after")
	payload, err = n.Payload()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "after")
	assert.NotContains(t, string(payload), "before")

	n.SetSound("ding")
	payload, err = n.Payload()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "ding")

	n.SetCustom(map[string]any{"k": "v"})
	payload, err = n.Payload()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"k":"v"`)
}

func TestTruncateConvergence(t *testing.T) {
	n := &Notification{}
	n.SetAlert("x")
	minimal, err := n.Payload()
	require.NoError(t, err)
	overhead := len(minimal) - 1

	// Push the body to exactly 2200 bytes via the alert alone.
	originalAlertSize := 2200 - overhead
	n.SetAlert(strings.Repeat("x", originalAlertSize))
	payload, err := n.Payload()
	require.NoError(t, err)
	require.Len(t, payload, 2200)
	require.ErrorIs(t, n.Validate(), ErrPayloadTooLarge)

	require.NoError(t, n.Truncate("alert"))
	payload, err = n.Payload()
	require.NoError(t, err)
	assert.NoError(t, n.Validate())

	wantMax := MaxPayloadSize - (2200 - originalAlertSize)
	alert, err := n.stringField("alert")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(alert), wantMax)
}

func TestTruncateExhaustion(t *testing.T) {
	n := &Notification{}
	n.SetAlert("short")
	n.SetData(strings.Repeat("y", MaxPayloadSize+100))

	require.NoError(t, n.Truncate("alert"))
	payload, err := n.Payload()
	require.NoError(t, err)
	// The rest of the body already blows the budget, so alert is cleared.
	assert.NotContains(t, string(payload), "alert")
}

func TestTruncateEscapedAlert(t *testing.T) {
	// Quotes escape to 2 bytes, control characters to 6, so these alerts
	// occupy far more of the body than their raw length suggests.
	cases := map[string]string{
		"all-quotes":    strings.Repeat(`"`, 3000),
		"quotes-first":  strings.Repeat(`"`, 1500) + strings.Repeat("x", 1500),
		"quotes-last":   strings.Repeat("x", 1500) + strings.Repeat(`"`, 1500),
		"control-first": strings.Repeat("\x01", 1000) + strings.Repeat("x", 2000),
		"mixed":         strings.Repeat("a\"b\x02", 800),
	}
	for name, alert := range cases {
		t.Run(name, func(t *testing.T) {
			n := &Notification{}
			n.SetAlert(alert)
			n.SetCustom(map[string]any{"filler": strings.Repeat("f", 300)})
			require.ErrorIs(t, n.Validate(), ErrPayloadTooLarge)

			require.NoError(t, n.Truncate("alert"))
			require.NoError(t, n.Validate())

			payload, err := n.Payload()
			require.NoError(t, err)
			assert.LessOrEqual(t, len(payload), MaxPayloadSize)
			// Trimming stops at the first fit, so the body ends up within
			// one escaped character of the ceiling.
			assert.Greater(t, len(payload), MaxPayloadSize-7)

			// The non-alert remainder leaves plenty of budget, so the
			// alert is shortened, not cleared.
			truncated, err := n.stringField("alert")
			require.NoError(t, err)
			assert.NotEmpty(t, truncated)
		})
	}
}

func TestTruncatePreservesValidUTF8(t *testing.T) {
	n := &Notification{}
	// Odd prefix length so the byte cut lands mid-rune in the é run.
	prefix := strings.Repeat("x", MaxPayloadSize-29)
	n.SetAlert(prefix + strings.Repeat("é", 40))

	require.NoError(t, n.Truncate("alert"))
	alert, err := n.stringField("alert")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(alert, prefix))
	assert.True(t, len(alert) > 0)
	assert.True(t, strings.ToValidUTF8(alert, "") == alert)
}

func TestTruncateUnknownField(t *testing.T) {
	n := &Notification{}
	n.SetAlert("hi")
	assert.ErrorIs(t, n.Truncate("bogus"), ErrUnknownField)
}

func TestToBytesFrameLayout(t *testing.T) {
	token := strings.Repeat("abcd", 16)
	n, err := New(map[string]any{
		"device_token": token,
		"identifier":   7,
		"expiry":       int64(1700000000),
		"alert":        "Hi",
	})
	require.NoError(t, err)

	frame, err := n.ToBytes()
	require.NoError(t, err)

	wantPayload := `{"aps":{"alert":"Hi"}}`
	require.Len(t, frame, 1+4+4+2+32+2+len(wantPayload))

	assert.Equal(t, byte(0x01), frame[0])
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(frame[1:5]))
	assert.Equal(t, uint32(1700000000), binary.BigEndian.Uint32(frame[5:9]))
	assert.Equal(t, uint16(32), binary.BigEndian.Uint16(frame[9:11]))

	rawToken, err := hex.DecodeString(token)
	require.NoError(t, err)
	assert.Equal(t, rawToken, frame[11:43])

	assert.Equal(t, uint16(len(wantPayload)), binary.BigEndian.Uint16(frame[43:45]))
	assert.Equal(t, wantPayload, string(frame[45:]))
}

func TestToBytesZeroExpiry(t *testing.T) {
	n := &Notification{}
	n.SetDeviceToken(testToken)
	n.SetAlert("hi")

	frame, err := n.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(frame[5:9]))
}

func TestToBytesStripsTokenWhitespace(t *testing.T) {
	spaced := testToken[:8] + " " + testToken[8:16] + "\t" + testToken[16:]
	n := &Notification{}
	n.SetDeviceToken(spaced)
	n.SetAlert("hi")

	frame, err := n.ToBytes()
	require.NoError(t, err)
	rawToken, err := hex.DecodeString(testToken)
	require.NoError(t, err)
	assert.Equal(t, rawToken, frame[11:43])
}

func TestToBytesRejectsBadTokens(t *testing.T) {
	cases := map[string]string{
		"non-hex":   strings.Repeat("zz", 32),
		"too-short": "abcd1234",
		"too-long":  strings.Repeat("ab", 40),
		"empty":     "",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			n := &Notification{}
			n.SetDeviceToken(token)
			n.SetAlert("hi")
			_, err := n.ToBytes()
			assert.ErrorIs(t, err, ErrInvalidDeviceToken)
		})
	}
}

func TestToBytesRequiresValidNotification(t *testing.T) {
	n := &Notification{}
	n.SetDeviceToken(testToken)
	_, err := n.ToBytes()
	assert.ErrorIs(t, err, ErrNoPayload)
}

func TestExpiryTruncatedToSeconds(t *testing.T) {
	n := &Notification{}
	n.SetDeviceToken(testToken)
	n.SetAlert("hi")
	n.SetExpiry(time.Unix(1700000000, 999_000_000))

	frame, err := n.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, uint32(1700000000), binary.BigEndian.Uint32(frame[5:9]))
}
