package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

const (
	auctionRequestsCollection = "auctionRequests"

	fieldNotifiedAt = "notifiedAt"
)

// MarkerStore stamps the idempotency marker onto the source auction request.
// The stamp is the only guard against duplicate fan-out when the event
// source redelivers; a failed stamp is the caller's problem to escalate.
type MarkerStore struct {
	client *firestore.Client
}

func NewMarkerStore(client *firestore.Client) *MarkerStore {
	return &MarkerStore{client: client}
}

// Stamp implements notify.MatchMarker. The update fails if the auction
// request document no longer exists, which is correct: there is nothing left
// to guard.
func (s *MarkerStore) Stamp(ctx context.Context, entityID string) error {
	_, err := s.client.Collection(auctionRequestsCollection).Doc(entityID).Update(ctx, []firestore.Update{
		{Path: fieldNotifiedAt, Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return fmt.Errorf("stamp notifiedAt on %s: %w", entityID, err)
	}
	return nil
}
