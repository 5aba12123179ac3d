// Package firestore implements the service's persistence on Google Cloud
// Firestore: the per-user device registry, the notification records, and the
// idempotency marker on the auction request documents.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

const (
	usersCollection   = "users"
	webSubsCollection = "webSubscriptions"

	fieldPushTokens = "pushTokens"
	fieldAPNSTokens = "apnsTokens"
)

// TokenStore implements notify.TokenRegistry.
//
// FCM and APNs tokens live as array fields on users/{userId}; ArrayUnion and
// ArrayRemove give us native set union/difference, so concurrent registers
// from different devices never clobber each other and duplicate inserts are
// no-ops. Web subscriptions are objects, so they get their own subcollection
// keyed by a hash of the endpoint.
type TokenStore struct {
	client *firestore.Client
}

func NewTokenStore(client *firestore.Client) *TokenStore {
	return &TokenStore{client: client}
}

// --- FCM (mobile) ---

func (s *TokenStore) RegisterFCM(ctx context.Context, userID, token string) error {
	return s.addToSet(ctx, userID, fieldPushTokens, token)
}

func (s *TokenStore) UnregisterFCM(ctx context.Context, userID, token string) error {
	return s.removeFromSet(ctx, userID, fieldPushTokens, []string{token})
}

func (s *TokenStore) PruneFCM(ctx context.Context, userID string, tokens []string) error {
	return s.removeFromSet(ctx, userID, fieldPushTokens, tokens)
}

// --- APNs (iOS) ---

func (s *TokenStore) RegisterAPNS(ctx context.Context, userID, token string) error {
	return s.addToSet(ctx, userID, fieldAPNSTokens, token)
}

func (s *TokenStore) UnregisterAPNS(ctx context.Context, userID, token string) error {
	return s.removeFromSet(ctx, userID, fieldAPNSTokens, []string{token})
}

func (s *TokenStore) PruneAPNS(ctx context.Context, userID string, tokens []string) error {
	return s.removeFromSet(ctx, userID, fieldAPNSTokens, tokens)
}

// --- Web (VAPID) ---

func (s *TokenStore) RegisterWeb(ctx context.Context, userID string, sub notify.WebSubscription) error {
	// The endpoint URL is the identity; hashing it gives a stable doc ID
	// and avoids hot-spotting on URL prefixes.
	_, err := s.webSubs(userID).Doc(hashKey(sub.Endpoint)).Set(ctx, sub)
	if err != nil {
		return fmt.Errorf("register web subscription: %w", err)
	}
	return nil
}

func (s *TokenStore) UnregisterWeb(ctx context.Context, userID, endpoint string) error {
	_, err := s.webSubs(userID).Doc(hashKey(endpoint)).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("unregister web subscription: %w", err)
	}
	return nil
}

func (s *TokenStore) PruneWeb(ctx context.Context, userID string, endpoints []string) error {
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(endpoints))
	for _, endpoint := range endpoints {
		job, err := bw.Delete(s.webSubs(userID).Doc(hashKey(endpoint)))
		if err != nil {
			bw.End()
			return fmt.Errorf("enqueue web subscription delete: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("prune web subscriptions: %w", err)
		}
	}
	return nil
}

// --- Lookup ---

type userDoc struct {
	PushTokens []string `firestore:"pushTokens"`
	APNSTokens []string `firestore:"apnsTokens"`
}

func (s *TokenStore) Devices(ctx context.Context, userID string) (*notify.DeviceSet, error) {
	set := &notify.DeviceSet{}

	snap, err := s.userRef(userID).Get(ctx)
	switch {
	case status.Code(err) == codes.NotFound:
		// Unknown user: nothing registered yet.
	case err != nil:
		return nil, fmt.Errorf("read user document: %w", err)
	default:
		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode user document: %w", err)
		}
		set.FCMTokens = doc.PushTokens
		set.APNSTokens = doc.APNSTokens
	}

	iter := s.webSubs(userID).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate web subscriptions: %w", err)
		}
		var sub notify.WebSubscription
		if err := doc.DataTo(&sub); err != nil || sub.Endpoint == "" {
			// Corrupt rows are skipped, not fatal.
			continue
		}
		set.WebSubscriptions = append(set.WebSubscriptions, sub)
	}

	return set, nil
}

// --- Helpers ---

func (s *TokenStore) addToSet(ctx context.Context, userID, field, token string) error {
	// Set+MergeAll creates the user document on first registration.
	_, err := s.userRef(userID).Set(ctx, map[string]interface{}{
		field: firestore.ArrayUnion(token),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("add token to %s: %w", field, err)
	}
	return nil
}

func (s *TokenStore) removeFromSet(ctx context.Context, userID, field string, tokens []string) error {
	values := make([]interface{}, len(tokens))
	for i, t := range tokens {
		values[i] = t
	}
	_, err := s.userRef(userID).Update(ctx, []firestore.Update{
		{Path: field, Value: firestore.ArrayRemove(values...)},
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("remove tokens from %s: %w", field, err)
	}
	// Removing from a missing document is a no-op, matching set semantics.
	return nil
}

func (s *TokenStore) userRef(userID string) *firestore.DocumentRef {
	return s.client.Collection(usersCollection).Doc(userID)
}

func (s *TokenStore) webSubs(userID string) *firestore.CollectionRef {
	return s.userRef(userID).Collection(webSubsCollection)
}

func hashKey(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
