package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/hammerstack/go-auction-notifications/pkg/dispatch"
	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch issues one multicast request covering all tokens. The batch
// response is index-aligned with the token slice, so every token gets an
// individual verdict: sent, permanently dead, or retry later.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, payload notify.PushPayload) (dispatch.Result, error) {
	if len(tokens) == 0 {
		return dispatch.Result{}, nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   payload.Data,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
	}

	br, err := d.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			// The whole batch was rejected as malformed. The tokens are
			// not at fault, so none of them may be pruned.
			d.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			return dispatch.Result{Transient: len(tokens)}, nil
		}
		return dispatch.Result{}, fmt.Errorf("fcm transport failed: %w", err)
	}

	res := dispatch.Result{Sent: br.SuccessCount}
	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			// A token is dead only when the gateway says so explicitly.
			if messaging.IsRegistrationTokenNotRegistered(resp.Error) || messaging.IsInvalidArgument(resp.Error) {
				res.Invalid = append(res.Invalid, tokens[idx])
				continue
			}
			res.Transient++
		}
	}

	return res, nil
}
