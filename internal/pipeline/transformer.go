// Package pipeline contains the core message processing components for the
// service: decoding match events off the wire and turning them into durable
// notifications plus push fan-outs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

// MatchEventTransformer safely unmarshals a raw message payload into a
// structured notify.MatchEvent.
//
// Malformed payloads return skip=true with an error so the StreamingService
// routes them through its nack path; the subscription's dead-letter policy
// parks them once retries are exhausted. Redelivering broken bytes will not
// self-heal, but the DLQ keeps them inspectable instead of silently dropped.
func MatchEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notify.MatchEvent, bool, error) {
	var event notify.MatchEvent

	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal match event from message %s: %w", msg.ID, err)
	}

	if event.EntityID == "" {
		return nil, true, fmt.Errorf("match event from message %s has no entity id", msg.ID)
	}

	return &event, false, nil
}
