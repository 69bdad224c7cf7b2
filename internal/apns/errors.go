package apns

import "errors"

var (
	ErrNoPayload          = errors.New("apns: notification carries neither alert nor badge")
	ErrPayloadTooLarge    = errors.New("apns: encoded payload exceeds 2048 bytes")
	ErrUnknownField       = errors.New("apns: unknown notification field")
	ErrInvalidDeviceToken = errors.New("apns: device token does not decode to 32 bytes")
)
