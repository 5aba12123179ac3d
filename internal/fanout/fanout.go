// Package fanout implements the push dispatcher: one payload in, every
// registered device of the target user out.
package fanout

import (
	"context"
	"log/slog"
	"time"

	"github.com/hammerstack/go-auction-notifications/pkg/dispatch"
	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

const defaultTimeout = 20 * time.Second

// Dispatcher reads the user's device set, multicasts the payload per
// platform, classifies per-token failures, and prunes the permanently dead
// registrations. It never fails the caller: every error is absorbed into the
// report, because a lost push must stay invisible to the end user.
type Dispatcher struct {
	registry notify.TokenRegistry
	fcm      dispatch.Dispatcher
	apns     dispatch.Dispatcher    // optional
	web      dispatch.WebDispatcher // optional
	timeout  time.Duration
	logger   *slog.Logger
}

func New(registry notify.TokenRegistry, fcm, apns dispatch.Dispatcher, web dispatch.WebDispatcher, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		registry: registry,
		fcm:      fcm,
		apns:     apns,
		web:      web,
		timeout:  timeout,
		logger:   logger.With("component", "PushFanout"),
	}
}

// Send implements notify.PushSender.
func (d *Dispatcher) Send(ctx context.Context, userID string, payload notify.PushPayload) notify.DispatchReport {
	log := d.logger.With("recipient_id", userID)

	devices, err := d.registry.Devices(ctx, userID)
	if err != nil {
		log.Error("Failed to fetch device set", "err", err)
		return notify.DispatchReport{}
	}
	if devices.Empty() {
		log.Info("No devices registered for user; dropping push.")
		return notify.DispatchReport{}
	}

	// One deadline for the whole multicast; tokens that have not resolved
	// when it expires are counted transient and never pruned. Prunes run on
	// the caller's context so a blown send deadline cannot block cleanup.
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var report notify.DispatchReport

	if d.fcm != nil && len(devices.FCMTokens) > 0 {
		res, err := d.fcm.Dispatch(sendCtx, devices.FCMTokens, payload)
		d.merge(ctx, log, "fcm", userID, &report, res, err, len(devices.FCMTokens), d.registry.PruneFCM)
	}

	if d.apns != nil && len(devices.APNSTokens) > 0 {
		res, err := d.apns.Dispatch(sendCtx, devices.APNSTokens, payload)
		d.merge(ctx, log, "apns", userID, &report, res, err, len(devices.APNSTokens), d.registry.PruneAPNS)
	}

	if d.web != nil && len(devices.WebSubscriptions) > 0 {
		res, err := d.web.Dispatch(sendCtx, devices.WebSubscriptions, payload)
		d.merge(ctx, log, "web", userID, &report, dispatch.Result(res), err, len(devices.WebSubscriptions), d.registry.PruneWeb)
	}

	log.Info("Dispatch complete", "report", report.String())
	return report
}

// merge folds one platform result into the report and issues the batched
// prune covering exactly the gateway-confirmed dead tokens.
func (d *Dispatcher) merge(
	ctx context.Context,
	log *slog.Logger,
	platform string,
	userID string,
	report *notify.DispatchReport,
	res dispatch.Result,
	err error,
	batchSize int,
	prune func(ctx context.Context, userID string, tokens []string) error,
) {
	if err != nil {
		// Whole-batch transport failure: every token is retryable.
		log.Error("Platform dispatch failed", "platform", platform, "err", err)
		report.Transient += batchSize
		return
	}

	report.Sent += res.Sent
	report.Transient += res.Transient
	report.Permanent += len(res.Invalid)

	if len(res.Invalid) == 0 {
		return
	}

	log.Info("Cleaning up invalid tokens", "platform", platform, "count", len(res.Invalid))
	if err := prune(ctx, userID, res.Invalid); err != nil {
		log.Warn("Failed to prune tokens", "platform", platform, "err", err)
		return
	}
	report.Pruned += len(res.Invalid)
}
