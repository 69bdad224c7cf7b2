package apns

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedbackBytes(t *testing.T, timestamp uint32, hexToken string) []byte {
	t.Helper()
	raw, err := hex.DecodeString(hexToken)
	require.NoError(t, err)
	buf := binary.BigEndian.AppendUint32(nil, timestamp)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(raw)))
	return append(buf, raw...)
}

func TestParseFeedback(t *testing.T) {
	first := strings.Repeat("ab", 32)
	second := strings.Repeat("cd", 32)
	data := append(feedbackBytes(t, 1700000000, first), feedbackBytes(t, 1700000100, second)...)

	tuples, err := ParseFeedback(data)
	require.NoError(t, err)
	require.Len(t, tuples, 2)
	assert.Equal(t, first, tuples[0].DeviceToken)
	assert.Equal(t, int64(1700000000), tuples[0].Timestamp.Unix())
	assert.Equal(t, second, tuples[1].DeviceToken)
	assert.Equal(t, int64(1700000100), tuples[1].Timestamp.Unix())
}

func TestParseFeedbackEmpty(t *testing.T) {
	tuples, err := ParseFeedback(nil)
	require.NoError(t, err)
	assert.Empty(t, tuples)
}

func TestParseFeedbackTruncated(t *testing.T) {
	whole := feedbackBytes(t, 1700000000, strings.Repeat("ab", 32))

	_, err := ParseFeedback(whole[:3])
	assert.Error(t, err)

	_, err = ParseFeedback(whole[:len(whole)-5])
	assert.Error(t, err)
}
