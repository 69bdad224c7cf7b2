package apns

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// FeedbackTuple is one entry from the gateway's feedback stream: a device
// token the gateway could not deliver to, and when it gave up.
type FeedbackTuple struct {
	Timestamp   time.Time
	DeviceToken string // hex-encoded
}

const feedbackHeaderLen = 6 // 4B timestamp + 2B token length

// ParseFeedback decodes the byte stream returned by the feedback service:
// repeated tuples of big-endian uint32 timestamp, big-endian uint16 token
// length, and the raw token bytes. A tuple cut short by the stream is an
// error rather than silently dropped.
func ParseFeedback(data []byte) ([]FeedbackTuple, error) {
	var tuples []FeedbackTuple
	for len(data) > 0 {
		if len(data) < feedbackHeaderLen {
			return nil, fmt.Errorf("apns: truncated feedback tuple header (%d bytes left)", len(data))
		}
		timestamp := binary.BigEndian.Uint32(data[0:4])
		tokenLen := int(binary.BigEndian.Uint16(data[4:6]))
		if len(data) < feedbackHeaderLen+tokenLen {
			return nil, fmt.Errorf("apns: truncated feedback token (want %d bytes, %d left)", tokenLen, len(data)-feedbackHeaderLen)
		}
		token := data[feedbackHeaderLen : feedbackHeaderLen+tokenLen]
		tuples = append(tuples, FeedbackTuple{
			Timestamp:   time.Unix(int64(timestamp), 0).UTC(),
			DeviceToken: hex.EncodeToString(token),
		})
		data = data[feedbackHeaderLen+tokenLen:]
	}
	return tuples, nil
}
