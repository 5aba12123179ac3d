package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/hammerstack/go-auction-notifications/pkg/dispatch"
	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

// VapidConfig carries the VAPID signing material for web push.
type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// Dispatch sends the payload to each subscription in turn. A 404/410 from
// the push service means the subscription is gone for good; its endpoint is
// returned for cleanup.
func (d *Dispatcher) Dispatch(ctx context.Context, subs []notify.WebSubscription, p notify.PushPayload) (dispatch.WebResult, error) {
	if len(subs) == 0 {
		return dispatch.WebResult{}, nil
	}

	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": p.Title,
			"body":  p.Body,
		},
		"data": p.Data,
	})
	if err != nil {
		return dispatch.WebResult{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var res dispatch.WebResult
	for i, sub := range subs {
		if ctx.Err() != nil {
			res.Transient += len(subs) - i
			break
		}

		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, s, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             60,
			HTTPClient:      d.httpClient,
		})
		if err != nil {
			// Transport error (DNS, timeout). Keep the subscription.
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			res.Transient++
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			res.Sent++
		case http.StatusGone, http.StatusNotFound:
			res.Invalid = append(res.Invalid, sub.Endpoint)
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			res.Transient++
		}
	}

	return res, nil
}
