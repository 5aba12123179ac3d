package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

// Processor turns a "just matched" transition into exactly one durable
// notification and one push fan-out, then stamps the idempotency marker back
// onto the auction request.
type Processor struct {
	store  notify.NotificationStore
	sender notify.PushSender
	marker notify.MatchMarker
	logger *slog.Logger
}

func NewProcessor(
	store notify.NotificationStore,
	sender notify.PushSender,
	marker notify.MatchMarker,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		store:  store,
		sender: sender,
		marker: marker,
		logger: logger.With("component", "MatchProcessor"),
	}
}

// Process handles one delivered event. Skips are expected traffic; failures
// are terminal for this delivery and must not bubble up to the consumer's
// retry machinery (see Stream).
func (p *Processor) Process(ctx context.Context, event *notify.MatchEvent) notify.Outcome {
	log := p.logger.With("entity_id", event.EntityID)

	if event.Before == nil || event.After == nil {
		log.Info("Event missing a snapshot; skipping.")
		return notify.Skipped(notify.SkipMissingSnapshot)
	}
	if !event.JustMatched() {
		log.Info("Not a match transition; skipping.",
			"before", event.Before.Status, "after", event.After.Status)
		return notify.Skipped(notify.SkipNotMatchTransition)
	}

	after := event.After
	if after.MatchedEntityID == "" || after.OwnerUserID == "" {
		// Redelivery of the same malformed event will not self-heal.
		log.Warn("Match event is missing required fields; skipping.",
			"has_matched_entity", after.MatchedEntityID != "",
			"has_owner", after.OwnerUserID != "")
		return notify.Skipped(notify.SkipIncompletePayload)
	}
	if after.NotifiedAt != nil {
		log.Info("Already notified; skipping.", "notified_at", after.NotifiedAt)
		return notify.Skipped(notify.SkipAlreadyNotified)
	}

	record := &notify.Record{
		Type:            notify.TypeMatched,
		Title:           "Your request has a match!",
		Message:         fmt.Sprintf("Good news! %q has been matched with an auction item.", after.DisplayName),
		RelatedEntityID: after.MatchedEntityID,
		SourceEventID:   event.EntityID,
	}

	id, err := p.store.Create(ctx, after.OwnerUserID, record)
	if err != nil {
		log.Error("Failed to write notification record", "err", err)
		return notify.Failed("create_notification")
	}
	log = log.With("notification_id", id, "recipient_id", after.OwnerUserID)

	// Push failures never block the marker stamp: the in-app record already
	// exists, and a lost push is invisible to the user.
	report := p.sender.Send(ctx, after.OwnerUserID, notify.PushPayload{
		Title: record.Title,
		Body:  record.Message,
		Data: map[string]string{
			"type":            string(notify.TypeMatched),
			"notificationId":  id,
			"relatedEntityId": after.MatchedEntityID,
		},
	})
	log.Info("Push fan-out finished", "report", report.String())

	if err := p.marker.Stamp(ctx, event.EntityID); err != nil {
		// The single-delivery guarantee is weakened until the next event
		// for this entity supersedes the unstamped marker.
		log.Error("ALERT: idempotency marker write failed; redelivery may duplicate pushes", "err", err)
		return notify.Failed("stamp_marker")
	}

	return notify.Notified()
}

// Stream adapts the processor to the message pipeline. It always returns
// nil: a nack would trigger redelivery *before* the marker is stamped, which
// amplifies duplicate pushes instead of preventing them.
func (p *Processor) Stream() messagepipeline.StreamProcessor[notify.MatchEvent] {
	return func(ctx context.Context, original messagepipeline.Message, event *notify.MatchEvent) error {
		outcome := p.Process(ctx, event)
		p.logger.Debug("Match event processed",
			"pubsub_msg_id", original.ID,
			"outcome", string(outcome.Code),
			"reason", outcome.Reason,
		)
		return nil
	}
}
