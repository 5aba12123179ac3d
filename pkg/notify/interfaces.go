package notify

import "context"

// TokenRegistry manages the set of push destinations per user. All mutations
// carry set semantics: duplicate registration is a no-op, removing an absent
// token is a no-op, and concurrent registrations of different tokens must
// both land (the storage layer's native set-add/set-remove primitive, never
// read-modify-write of the whole collection).
type TokenRegistry interface {
	RegisterFCM(ctx context.Context, userID, token string) error
	UnregisterFCM(ctx context.Context, userID, token string) error
	// PruneFCM removes exactly the given tokens in one batched
	// set-difference operation.
	PruneFCM(ctx context.Context, userID string, tokens []string) error

	RegisterAPNS(ctx context.Context, userID, token string) error
	UnregisterAPNS(ctx context.Context, userID, token string) error
	PruneAPNS(ctx context.Context, userID string, tokens []string) error

	RegisterWeb(ctx context.Context, userID string, sub WebSubscription) error
	UnregisterWeb(ctx context.Context, userID, endpoint string) error
	PruneWeb(ctx context.Context, userID string, endpoints []string) error

	// Devices returns every registered destination for the user. A user
	// with no document yet yields an empty set, not an error.
	Devices(ctx context.Context, userID string) (*DeviceSet, error)
}

// NotificationStore owns the persisted notification records per user.
type NotificationStore interface {
	// Create persists a new record and returns its id. CreatedAt is
	// assigned by the store.
	Create(ctx context.Context, userID string, rec *Record) (string, error)

	// MarkRead flips isRead on the given records in one batched write.
	MarkRead(ctx context.Context, userID string, ids ...string) error

	// Delete removes a record. Deleting an absent record is a no-op.
	Delete(ctx context.Context, userID, id string) error

	// Subscribe streams full snapshots of the user's most recent records,
	// newest first, re-emitted on every underlying change. The returned
	// stop function tears the subscription down; the channel closes after
	// teardown or when ctx is cancelled.
	Subscribe(ctx context.Context, userID string) (<-chan []Record, func(), error)
}

// MatchMarker stamps the idempotency marker back onto the source entity.
// The stamp is the only guard against duplicate fan-out on redelivery.
type MatchMarker interface {
	Stamp(ctx context.Context, entityID string) error
}

// PushSender fans one payload out to every registered device of a user.
// The report is observational; failures are classified and handled inside.
type PushSender interface {
	Send(ctx context.Context, userID string, payload PushPayload) DispatchReport
}
