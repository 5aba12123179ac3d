// Package notify contains the domain model and public interfaces for the
// auction notification delivery core.
package notify

import (
	"fmt"
	"time"
)

// Status values an auction request moves through. Only the transition into
// StatusMatched is interesting to this service.
const (
	StatusPending  = "pending"
	StatusReviewed = "reviewed"
	StatusMatched  = "matched"
	StatusRejected = "rejected"
)

// EntitySnapshot is one side of a before/after pair describing an auction
// request at a point in time.
type EntitySnapshot struct {
	Status          string     `json:"status"`
	MatchedEntityID string     `json:"matchedEntityId,omitempty"`
	OwnerUserID     string     `json:"ownerUserId"`
	DisplayName     string     `json:"displayName"`
	NotifiedAt      *time.Time `json:"notifiedAt,omitempty"`
}

// MatchEvent is the state-transition event delivered by the event source.
// Delivery is at-least-once; the same logical event may arrive again after a
// crash, so consumers must not rely on the transport for deduplication.
type MatchEvent struct {
	EntityID string          `json:"entityId"`
	Before   *EntitySnapshot `json:"before"`
	After    *EntitySnapshot `json:"after"`
}

// JustMatched reports whether this event represents the transition that
// fires a notification: not matched before, matched now, with a matched
// entity and an owner to notify.
func (e *MatchEvent) JustMatched() bool {
	if e.Before == nil || e.After == nil {
		return false
	}
	return e.Before.Status != StatusMatched && e.After.Status == StatusMatched
}

// RecordType is the closed tag set for notification records.
type RecordType string

const (
	TypeMatched   RecordType = "matched"
	TypeBid       RecordType = "bid"
	TypeWin       RecordType = "win"
	TypeWatchlist RecordType = "watchlist"
	TypePromo     RecordType = "promo"
	TypeExpiry    RecordType = "expiry"
)

// Record is a persisted in-app notification, keyed by (ownerUserId, ID).
// CreatedAt is server-assigned on create; the zero value here means "let the
// store stamp it".
type Record struct {
	ID              string     `firestore:"-" json:"id"`
	Type            RecordType `firestore:"type" json:"type"`
	Title           string     `firestore:"title" json:"title"`
	Message         string     `firestore:"message" json:"message"`
	RelatedEntityID string     `firestore:"relatedEntityId,omitempty" json:"relatedEntityId,omitempty"`
	SourceEventID   string     `firestore:"sourceEventId,omitempty" json:"sourceEventId,omitempty"`
	IsRead          bool       `firestore:"isRead" json:"isRead"`
	CreatedAt       time.Time  `firestore:"createdAt,serverTimestamp" json:"createdAt"`
}

// PushPayload is the platform-independent content of one push message.
// Data is an opaque string map forwarded to the client; keeping it within
// gateway size limits is the producer's responsibility.
type PushPayload struct {
	Title string
	Body  string
	Data  map[string]string
}

// WebSubscription is a browser push subscription as produced by the
// PushManager API. Keys are base64url-encoded.
type WebSubscription struct {
	Endpoint string `firestore:"endpoint" json:"endpoint"`
	P256dh   string `firestore:"p256dh" json:"p256dh"`
	Auth     string `firestore:"auth" json:"auth"`
}

// DeviceSet holds every push destination registered for one user.
type DeviceSet struct {
	FCMTokens        []string
	APNSTokens       []string
	WebSubscriptions []WebSubscription
}

// Empty reports whether the user has no registered destinations at all.
func (d *DeviceSet) Empty() bool {
	return len(d.FCMTokens) == 0 && len(d.APNSTokens) == 0 && len(d.WebSubscriptions) == 0
}

// DispatchReport summarises one fan-out. It is observability output only;
// callers must not branch on it.
type DispatchReport struct {
	Sent      int
	Transient int
	Permanent int
	Pruned    int
}

func (r DispatchReport) String() string {
	return fmt.Sprintf("sent:%d transient:%d permanent:%d pruned:%d",
		r.Sent, r.Transient, r.Permanent, r.Pruned)
}

// OutcomeCode classifies the result of processing one MatchEvent.
type OutcomeCode string

const (
	OutcomeNotified OutcomeCode = "notified"
	OutcomeSkipped  OutcomeCode = "skipped"
	OutcomeFailed   OutcomeCode = "failed"
)

// Skip reasons. Skips are expected traffic, not errors.
const (
	SkipMissingSnapshot    = "missing_snapshot"
	SkipNotMatchTransition = "not_a_match_transition"
	SkipIncompletePayload  = "incomplete_payload"
	SkipAlreadyNotified    = "already_notified"
)

// Outcome is the processor's per-event result. Reason carries the skip
// reason or the failed stage name.
type Outcome struct {
	Code   OutcomeCode
	Reason string
}

func Skipped(reason string) Outcome { return Outcome{Code: OutcomeSkipped, Reason: reason} }
func Failed(stage string) Outcome   { return Outcome{Code: OutcomeFailed, Reason: stage} }
func Notified() Outcome             { return Outcome{Code: OutcomeNotified} }
