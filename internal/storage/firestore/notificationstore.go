package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

const (
	notificationsCollection = "notifications"

	fieldIsRead    = "isRead"
	fieldCreatedAt = "createdAt"

	// inboxWindow bounds the live subscription to the most recent records;
	// reconnects never need history beyond it.
	inboxWindow = 50
)

// NotificationStore implements notify.NotificationStore on
// users/{userId}/notifications/{notificationId}.
type NotificationStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewNotificationStore(client *firestore.Client, logger *slog.Logger) *NotificationStore {
	return &NotificationStore{
		client: client,
		logger: logger.With("component", "NotificationStore"),
	}
}

// Create persists the record with a server-assigned createdAt and returns
// the new document id. The store has no uniqueness constraint of its own;
// single-creation per source event is the processor's job.
func (s *NotificationStore) Create(ctx context.Context, userID string, rec *notify.Record) (string, error) {
	id := uuid.NewString()
	if _, err := s.notifications(userID).Doc(id).Create(ctx, rec); err != nil {
		return "", fmt.Errorf("create notification: %w", err)
	}
	return id, nil
}

// MarkRead flips isRead on the given records in one batched write. Records
// deleted concurrently are tolerated.
func (s *NotificationStore) MarkRead(ctx context.Context, userID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(ids))
	for _, id := range ids {
		job, err := bw.Update(s.notifications(userID).Doc(id), []firestore.Update{
			{Path: fieldIsRead, Value: true},
		})
		if err != nil {
			bw.End()
			return fmt.Errorf("enqueue mark-read: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("mark read: %w", err)
		}
	}
	return nil
}

// Delete removes a record; deleting an absent record is a no-op.
func (s *NotificationStore) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.notifications(userID).Doc(id).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

// Subscribe streams full snapshots of the user's inbox window, newest first,
// re-emitted on every change. The stream ends when ctx is cancelled or the
// returned stop function is called; the channel is closed on the way out so
// consumers can range over it.
func (s *NotificationStore) Subscribe(ctx context.Context, userID string) (<-chan []notify.Record, func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	query := s.notifications(userID).
		OrderBy(fieldCreatedAt, firestore.Desc).
		Limit(inboxWindow)
	snaps := query.Snapshots(ctx)

	out := make(chan []notify.Record, 1)
	go func() {
		defer close(out)
		defer snaps.Stop()
		log := s.logger.With("recipient_id", userID)

		for {
			qs, err := snaps.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
					return
				}
				log.Error("Notification snapshot stream failed", "err", err)
				return
			}

			docs, err := qs.Documents.GetAll()
			if err != nil {
				log.Warn("Failed to read snapshot documents", "err", err)
				continue
			}

			records := make([]notify.Record, 0, len(docs))
			for _, doc := range docs {
				var rec notify.Record
				if err := doc.DataTo(&rec); err != nil {
					continue
				}
				rec.ID = doc.Ref.ID
				records = append(records, rec)
			}

			select {
			case out <- records:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

func (s *NotificationStore) notifications(userID string) *firestore.CollectionRef {
	return s.client.Collection(usersCollection).Doc(userID).Collection(notificationsCollection)
}
