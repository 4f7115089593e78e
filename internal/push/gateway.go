// Package push models the push-messaging service used to reach devices.
package push

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gateway error codes. Only the first two mean the token will never work again;
// a sender id mismatch points at our own credentials, not the device.
const (
	CodeTokenNotRegistered  = "messaging/registration-token-not-registered"
	CodeInvalidToken        = "messaging/invalid-registration-token"
	CodeSenderIDMismatch    = "messaging/sender-id-mismatch"
	CodeInvalidArgument     = "messaging/invalid-argument"
	CodeQuotaExceeded       = "messaging/quota-exceeded"
	CodeUnavailable         = "messaging/unavailable"
	CodeInternal            = "messaging/internal-error"
	CodeThirdPartyAuthError = "messaging/third-party-auth-error"
	CodeUnknown             = "unknown"
)

var permanentCodes = map[string]bool{
	CodeTokenNotRegistered: true,
	CodeInvalidToken:       true,
}

// Error is a per-endpoint delivery failure reported by a gateway
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Permanent reports whether the endpoint should be dropped from the owner's profile
func (e *Error) Permanent() bool {
	return permanentCodes[e.Code]
}

// IsInvalidEndpoint reports whether err is a permanent invalid-endpoint failure
func IsInvalidEndpoint(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Permanent()
	}
	return false
}

// CodeOf returns the gateway error code for err, or CodeUnknown
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	return CodeUnknown
}

// Payload is a transport-neutral push message
type Payload struct {
	Title    string
	Body     string
	ImageURL string
	Data     map[string]string
	Channel  string
	Priority TransportPriority
	Tag      string
	// TTL is zero when the message has no expiry
	TTL time.Duration
}

// SendResult is the outcome for one endpoint of a multicast send.
// Exactly one of MessageID and Err is set.
type SendResult struct {
	Token     string
	MessageID string
	Err       error
}

func (r SendResult) Success() bool {
	return r.Err == nil
}

// Gateway delivers payloads to device endpoints.
//
// SendMany returns one result per input token, in input order. A non-nil
// error from SendMany means the call failed as a whole and no per-endpoint
// result is available.
type Gateway interface {
	SendOne(ctx context.Context, token string, payload Payload) (string, error)
	SendMany(ctx context.Context, tokens []string, payload Payload) ([]SendResult, error)
}
