// Package apns encodes push notifications into the legacy binary frame
// understood by the push gateway.
package apns

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxPayloadSize is the ceiling the gateway enforces on the encoded JSON body.
const MaxPayloadSize = 2048

const (
	// pushCommand identifies the legacy binary push frame.
	pushCommand = 0x01
	// tokenLength is the width of the raw device token in the frame.
	tokenLength = 32
)

// Notification holds the fields of one push notification and serializes them
// into a wire-ready byte buffer. The encoded JSON body is cached between
// calls and recomputed whenever a payload-affecting field is reassigned.
//
// A Notification is not safe for concurrent use; give each logical
// notification its own instance.
type Notification struct {
	deviceToken string
	identifier  uint32
	expiry      time.Time

	alert            any
	badge            int
	sound            string
	contentAvailable bool
	category         string

	extra        any
	mapValue     any
	hash         any
	data         any
	typeValue    any
	privateGroup any
	group        any
	conversation any

	custom map[string]any

	payload []byte // cached encoded body, nil when stale
}

// New builds a Notification from a field-name → value map, applying each
// entry as if the matching setter had been called. Unrecognized keys fail
// with ErrUnknownField.
func New(fields map[string]any) (*Notification, error) {
	n := &Notification{}
	for key, value := range fields {
		if err := n.set(key, value); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *Notification) set(key string, value any) error {
	switch key {
	case "device_token":
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		n.SetDeviceToken(s)
	case "identifier":
		id, err := asUint32(key, value)
		if err != nil {
			return err
		}
		n.SetIdentifier(id)
	case "expiry":
		t, err := asTime(key, value)
		if err != nil {
			return err
		}
		n.SetExpiry(t)
	case "alert":
		n.SetAlert(value)
	case "badge":
		b, err := asInt(key, value)
		if err != nil {
			return err
		}
		n.SetBadge(b)
	case "sound":
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		n.SetSound(s)
	case "content_available":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("apns: field %q: expected bool, got %T", key, value)
		}
		n.SetContentAvailable(b)
	case "category":
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		n.SetCategory(s)
	case "extra":
		n.SetExtra(value)
	case "map":
		n.SetMap(value)
	case "hash":
		n.SetHash(value)
	case "data":
		n.SetData(value)
	case "type":
		n.SetType(value)
	case "private_group":
		n.SetPrivateGroup(value)
	case "group":
		n.SetGroup(value)
	case "conversation":
		n.SetConversation(value)
	case "custom":
		m, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("apns: field %q: expected map[string]any, got %T", key, value)
		}
		n.SetCustom(m)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	return nil
}

// SetDeviceToken stores the hex-encoded device token. Whitespace is
// tolerated and stripped at frame time.
func (n *Notification) SetDeviceToken(token string) { n.deviceToken = token }

// SetIdentifier stores the caller-chosen correlation number.
func (n *Notification) SetIdentifier(id uint32) { n.identifier = id }

// SetExpiry stores the point in time the gateway may discard the
// notification. The zero time means no expiry.
func (n *Notification) SetExpiry(t time.Time) { n.expiry = t }

// Identifier returns the correlation number carried in the frame.
func (n *Notification) Identifier() uint32 { return n.identifier }

// Payload-affecting setters below invalidate the cached encoded body.

func (n *Notification) SetAlert(alert any) { n.alert = alert; n.invalidate() }

func (n *Notification) SetBadge(badge int) { n.badge = badge; n.invalidate() }

func (n *Notification) SetSound(sound string) { n.sound = sound; n.invalidate() }

func (n *Notification) SetContentAvailable(v bool) { n.contentAvailable = v; n.invalidate() }

func (n *Notification) SetCategory(category string) { n.category = category; n.invalidate() }

func (n *Notification) SetExtra(v any) { n.extra = v; n.invalidate() }

func (n *Notification) SetMap(v any) { n.mapValue = v; n.invalidate() }

func (n *Notification) SetHash(v any) { n.hash = v; n.invalidate() }

func (n *Notification) SetData(v any) { n.data = v; n.invalidate() }

func (n *Notification) SetType(v any) { n.typeValue = v; n.invalidate() }

func (n *Notification) SetPrivateGroup(v any) { n.privateGroup = v; n.invalidate() }

func (n *Notification) SetGroup(v any) { n.group = v; n.invalidate() }

func (n *Notification) SetConversation(v any) { n.conversation = v; n.invalidate() }

func (n *Notification) SetCustom(m map[string]any) { n.custom = m; n.invalidate() }

func (n *Notification) invalidate() { n.payload = nil }

// Payload returns the compact JSON body, recomputing it if a
// payload-affecting field changed since the last call.
func (n *Notification) Payload() ([]byte, error) {
	if n.payload != nil {
		return n.payload, nil
	}
	encoded, err := n.encodePayload()
	if err != nil {
		return nil, err
	}
	n.payload = encoded
	return encoded, nil
}

func (n *Notification) encodePayload() ([]byte, error) {
	aps := newObject()
	if truthy(n.alert) {
		aps.set("alert", n.alert)
	}
	if n.badge != 0 {
		aps.set("badge", n.badge)
	}
	if n.sound != "" {
		aps.set("sound", n.sound)
	}
	if n.contentAvailable {
		// The protocol wants the literal integer 1, not a boolean.
		aps.set("content-available", 1)
	}
	if n.category != "" {
		aps.set("category", n.category)
	}
	for _, field := range []struct {
		key   string
		value any
	}{
		{"extra", n.extra},
		{"map", n.mapValue},
		{"hash", n.hash},
		{"data", n.data},
		{"type", n.typeValue},
		{"private_group", n.privateGroup},
		{"group", n.group},
		{"conversation", n.conversation},
	} {
		if truthy(field.value) {
			aps.set(field.key, field.value)
		}
	}

	outer := newObject()
	outer.set("aps", aps)
	// Custom keys land at the outer level and win on collision. Sorted so
	// repeated encodes of the same fields are byte-identical.
	keys := make([]string, 0, len(n.custom))
	for key := range n.custom {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		outer.set(key, n.custom[key])
	}
	return outer.MarshalJSON()
}

// Validate checks the notification against the gateway's protocol rules:
// it must carry an alert or a badge, and its encoded body must fit the
// ceiling.
func (n *Notification) Validate() error {
	if !truthy(n.alert) && n.badge == 0 {
		return ErrNoPayload
	}
	payload, err := n.Payload()
	if err != nil {
		return err
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	return nil
}

// Valid reports whether Validate would succeed.
func (n *Notification) Valid() bool {
	return n.Validate() == nil
}

// Truncate shrinks the named string field so the encoded body fits the
// ceiling, clearing it entirely when the rest of the payload already fills
// the budget. The field's share of the budget is measured in encoded bytes:
// JSON escaping can make a value contribute up to six bytes per character,
// so raw length would understate its footprint and over-truncate. It is a
// single-shot adjustment; the caller re-validates afterwards.
func (n *Notification) Truncate(field string) error {
	value, err := n.stringField(field)
	if err != nil {
		return err
	}
	// Derive the body fresh rather than trusting a possibly-stale cache;
	// the budget math below is only sound against the current fields.
	n.invalidate()
	payload, err := n.Payload()
	if err != nil {
		return err
	}
	fieldSize := encodedLen(value)
	maxFieldSize := MaxPayloadSize - (len(payload) - fieldSize)
	if maxFieldSize <= 0 {
		return n.setStringField(field, "")
	}
	if fieldSize > maxFieldSize {
		return n.setStringField(field, truncateEncoded(value, maxFieldSize))
	}
	return nil
}

// encodedLen is the number of bytes value occupies inside its JSON string
// literal: escaped, without the surrounding quotes.
func encodedLen(value string) int {
	encoded, err := json.Marshal(value)
	if err != nil {
		return len(value)
	}
	return len(encoded) - 2
}

// truncateEncoded cuts value so its escaped form fits in max bytes. The
// escaped form is never shorter than the raw one, so a raw byte cut is a
// safe starting point; whole runes are then trimmed until the encoding fits.
func truncateEncoded(value string, max int) string {
	value = truncateBytes(value, max)
	for len(value) > 0 && encodedLen(value) > max {
		_, size := utf8.DecodeLastRuneInString(value)
		value = value[:len(value)-size]
	}
	return value
}

func (n *Notification) stringField(field string) (string, error) {
	var value any
	switch field {
	case "alert":
		value = n.alert
	case "sound":
		value = n.sound
	case "category":
		value = n.category
	case "extra":
		value = n.extra
	case "map":
		value = n.mapValue
	case "hash":
		value = n.hash
	case "data":
		value = n.data
	case "type":
		value = n.typeValue
	case "private_group":
		value = n.privateGroup
	case "group":
		value = n.group
	case "conversation":
		value = n.conversation
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("apns: field %q holds %T, only string fields can be truncated", field, value)
	}
	return s, nil
}

func (n *Notification) setStringField(field, value string) error {
	switch field {
	case "alert":
		n.SetAlert(value)
	case "sound":
		n.SetSound(value)
	case "category":
		n.SetCategory(value)
	case "extra":
		n.SetExtra(value)
	case "map":
		n.SetMap(value)
	case "hash":
		n.SetHash(value)
	case "data":
		n.SetData(value)
	case "type":
		n.SetType(value)
	case "private_group":
		n.SetPrivateGroup(value)
	case "group":
		n.SetGroup(value)
	case "conversation":
		n.SetConversation(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// truncateBytes cuts s to at most max bytes, trimming any trailing partial
// rune so the JSON encoder never sees invalid UTF-8.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// ToBytes validates the notification and serializes it into the legacy
// binary frame. All multi-byte integers are big-endian:
//
//	1B command | 4B identifier | 4B expiry | 2B token length |
//	32B device token | 2B payload length | payload
func (n *Notification) ToBytes() ([]byte, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	token, err := n.decodedToken()
	if err != nil {
		return nil, err
	}
	payload, err := n.Payload()
	if err != nil {
		return nil, err
	}

	var expiry uint32
	if !n.expiry.IsZero() {
		expiry = uint32(n.expiry.Unix())
	}

	frame := make([]byte, 0, 1+4+4+2+tokenLength+2+len(payload))
	frame = append(frame, pushCommand)
	frame = binary.BigEndian.AppendUint32(frame, n.identifier)
	frame = binary.BigEndian.AppendUint32(frame, expiry)
	frame = binary.BigEndian.AppendUint16(frame, tokenLength)
	frame = append(frame, token...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	return frame, nil
}

func (n *Notification) decodedToken() ([]byte, error) {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, n.deviceToken)
	raw, err := hex.DecodeString(stripped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeviceToken, err)
	}
	if len(raw) != tokenLength {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDeviceToken, len(raw))
	}
	return raw, nil
}

// truthy mirrors the payload inclusion rule: optional fields are emitted
// only when they carry a non-zero value.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func asString(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("apns: field %q: expected string, got %T", key, value)
	}
	return s, nil
}

func asInt(key string, value any) (int, error) {
	switch t := value.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("apns: field %q: expected integer, got %T", key, value)
	}
}

func asUint32(key string, value any) (uint32, error) {
	switch t := value.(type) {
	case uint32:
		return t, nil
	case int:
		return uint32(t), nil
	case int64:
		return uint32(t), nil
	case float64:
		return uint32(t), nil
	default:
		return 0, fmt.Errorf("apns: field %q: expected integer, got %T", key, value)
	}
}

func asTime(key string, value any) (time.Time, error) {
	switch t := value.(type) {
	case time.Time:
		return t, nil
	case int64:
		if t == 0 {
			return time.Time{}, nil
		}
		return time.Unix(t, 0), nil
	case int:
		if t == 0 {
			return time.Time{}, nil
		}
		return time.Unix(int64(t), 0), nil
	case float64:
		if t == 0 {
			return time.Time{}, nil
		}
		return time.Unix(int64(t), 0), nil
	default:
		return time.Time{}, fmt.Errorf("apns: field %q: expected time or epoch seconds, got %T", key, value)
	}
}
