package push

import (
	"context"
	"fmt"
	"strings"
	"time"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
)

const (
	androidColor       = "#6200EE"
	androidClickAction = "FLUTTER_NOTIFICATION_CLICK"
	defaultSound       = "default"

	// FCM accepts at most 500 tokens per multicast request
	maxMulticastTokens = 500
)

// messagingClient is the subset of *messaging.Client used by FCMGateway
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMGateway delivers payloads through Firebase Cloud Messaging
type FCMGateway struct {
	client  messagingClient
	timeout time.Duration
}

// NewFCMGateway creates a gateway around an initialized messaging client.
// A zero timeout leaves deadlines to the caller's context.
func NewFCMGateway(client *messaging.Client, timeout time.Duration) *FCMGateway {
	return &FCMGateway{client: client, timeout: timeout}
}

func (g *FCMGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// SendOne sends payload to a single device token and returns the FCM message id
func (g *FCMGateway) SendOne(ctx context.Context, token string, payload Payload) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	msg := &messaging.Message{
		Token:        token,
		Notification: notificationOf(payload),
		Data:         payload.Data,
		Android:      androidConfigOf(payload),
		APNS:         apnsConfigOf(payload),
	}

	id, err := g.client.Send(ctx, msg)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// SendMany sends the same payload to every token. Results are paired with
// tokens explicitly, chunking the request when it exceeds the FCM limit.
// A failure of the first chunk is returned as an error; a failure of a later
// chunk marks its tokens and the remaining ones as unavailable.
func (g *FCMGateway) SendMany(ctx context.Context, tokens []string, payload Payload) ([]SendResult, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	results := make([]SendResult, 0, len(tokens))
	for start := 0; start < len(tokens); start += maxMulticastTokens {
		end := start + maxMulticastTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]

		resp, err := g.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       chunk,
			Notification: notificationOf(payload),
			Data:         payload.Data,
			Android:      androidConfigOf(payload),
			APNS:         apnsConfigOf(payload),
		})
		if err == nil && (resp == nil || len(resp.Responses) != len(chunk)) {
			err = fmt.Errorf("expected %d responses", len(chunk))
		}
		if err != nil {
			if start == 0 {
				return nil, fmt.Errorf("fcm multicast: %w", err)
			}
			// earlier chunks were delivered; report the rest as unsent
			return append(results, unsent(tokens[start:], err)...), nil
		}

		for i, r := range resp.Responses {
			res := SendResult{Token: chunk[i]}
			switch {
			case r == nil:
				res.Err = &Error{Code: CodeUnknown, Message: "missing response"}
			case r.Success:
				res.MessageID = r.MessageID
			default:
				res.Err = classify(r.Error)
			}
			results = append(results, res)
		}
	}
	return results, nil
}

func unsent(tokens []string, cause error) []SendResult {
	out := make([]SendResult, len(tokens))
	for i, tok := range tokens {
		out[i] = SendResult{
			Token: tok,
			Err:   &Error{Code: CodeUnavailable, Message: "not sent: " + cause.Error()},
		}
	}
	return out
}

func notificationOf(p Payload) *messaging.Notification {
	return &messaging.Notification{
		Title:    p.Title,
		Body:     p.Body,
		ImageURL: p.ImageURL,
	}
}

func androidConfigOf(p Payload) *messaging.AndroidConfig {
	cfg := &messaging.AndroidConfig{
		Priority: string(p.Priority),
		Notification: &messaging.AndroidNotification{
			ChannelID:   p.Channel,
			Sound:       defaultSound,
			Color:       androidColor,
			ClickAction: androidClickAction,
			Tag:         p.Tag,
		},
	}
	if p.TTL > 0 {
		ttl := p.TTL
		cfg.TTL = &ttl
	}
	return cfg
}

func apnsConfigOf(p Payload) *messaging.APNSConfig {
	apnsPriority := "5"
	if p.Priority == TransportHigh {
		apnsPriority = "10"
	}
	headers := map[string]string{"apns-priority": apnsPriority}
	if p.TTL > 0 {
		headers["apns-expiration"] = fmt.Sprintf("%d", time.Now().Add(p.TTL).Unix())
	}
	return &messaging.APNSConfig{
		Headers: headers,
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound:    defaultSound,
				ThreadID: p.Channel,
			},
		},
	}
}

// classify maps a Firebase error to a gateway Error
func classify(err error) *Error {
	if err == nil {
		return &Error{Code: CodeUnknown, Message: "delivery failed without an error"}
	}
	msg := err.Error()
	switch {
	case messaging.IsUnregistered(err):
		return &Error{Code: CodeTokenNotRegistered, Message: msg}
	case messaging.IsSenderIDMismatch(err):
		return &Error{Code: CodeSenderIDMismatch, Message: msg}
	case errorutils.IsInvalidArgument(err):
		// FCM reports malformed tokens as INVALID_ARGUMENT; other invalid
		// arguments concern the payload and say nothing about the token.
		if strings.Contains(strings.ToLower(msg), "registration token") {
			return &Error{Code: CodeInvalidToken, Message: msg}
		}
		return &Error{Code: CodeInvalidArgument, Message: msg}
	case messaging.IsQuotaExceeded(err):
		return &Error{Code: CodeQuotaExceeded, Message: msg}
	case messaging.IsThirdPartyAuthError(err):
		return &Error{Code: CodeThirdPartyAuthError, Message: msg}
	case errorutils.IsUnavailable(err):
		return &Error{Code: CodeUnavailable, Message: msg}
	case errorutils.IsInternal(err):
		return &Error{Code: CodeInternal, Message: msg}
	}
	return &Error{Code: CodeUnknown, Message: msg}
}
