// Package dispatch defines the contracts between the fan-out layer and the
// platform-specific push gateways.
package dispatch

import (
	"context"

	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

// Result is the per-batch outcome of one platform send. Invalid holds the
// tokens the gateway reported as permanently dead; they are the only tokens
// eligible for pruning. Transient counts failures that are safe to retry on
// the next independent dispatch.
type Result struct {
	Sent      int
	Transient int
	Invalid   []string
}

// Dispatcher sends one payload to a batch of platform tokens and preserves
// per-token outcomes. A non-nil error means the whole batch failed in
// transit; the caller must treat every token as a transient failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, payload notify.PushPayload) (Result, error)
}

// WebResult mirrors Result for browser push; Invalid holds the endpoints of
// dead subscriptions.
type WebResult struct {
	Sent      int
	Transient int
	Invalid   []string
}

// WebDispatcher sends one payload to a batch of web-push subscriptions.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []notify.WebSubscription, payload notify.PushPayload) (WebResult, error)
}
