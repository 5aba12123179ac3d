// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/hammerstack/go-auction-notifications/pkg/dispatch"
	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // the app bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
}

// NewDispatcher creates a configured APNs dispatcher. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return &Dispatcher{
		client: apns2.NewTokenClient(tokenSource).Production(),
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

// NewDispatcherWithClient is the test seam for injecting a mock client.
func NewDispatcherWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

// Dispatch sends the payload to a batch of APNs tokens. APNs has no multicast
// endpoint, so we iterate the unary HTTP/2 API; the shared ctx bounds the
// whole batch, and tokens left unsent when it expires count as transient.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, p notify.PushPayload) (dispatch.Result, error) {
	if len(tokens) == 0 {
		return dispatch.Result{}, nil
	}

	builder := payload.NewPayload().
		AlertTitle(p.Title).
		AlertBody(p.Body)
	for k, v := range p.Data {
		builder.Custom(k, v)
	}

	var res dispatch.Result
	for i, deviceToken := range tokens {
		if ctx.Err() != nil {
			res.Transient += len(tokens) - i
			break
		}

		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			Payload:     builder,
		}

		resp, err := d.client.PushWithContext(ctx, n)
		if err != nil {
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			res.Transient++
			continue
		}

		if resp.Sent() {
			res.Sent++
			continue
		}

		switch resp.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			// Token is dead. Add to cleanup list.
			res.Invalid = append(res.Invalid, deviceToken)
		default:
			// Other rejections (TopicDisallowed, PayloadEmpty) may be our
			// configuration's fault, not the token's; never prune those.
			d.logger.Warn("APNs rejected notification", "reason", resp.Reason, "status", resp.StatusCode)
			res.Transient++
		}
	}

	return res, nil
}
