package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hammerstack/go-auction-notifications/internal/pipeline"
	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockNotificationStore struct {
	mock.Mock
}

func (m *mockNotificationStore) Create(ctx context.Context, userID string, rec *notify.Record) (string, error) {
	args := m.Called(ctx, userID, rec)
	return args.String(0), args.Error(1)
}
func (m *mockNotificationStore) MarkRead(ctx context.Context, userID string, ids ...string) error {
	return m.Called(ctx, userID, ids).Error(0)
}
func (m *mockNotificationStore) Delete(ctx context.Context, userID, id string) error {
	return m.Called(ctx, userID, id).Error(0)
}
func (m *mockNotificationStore) Subscribe(ctx context.Context, userID string) (<-chan []notify.Record, func(), error) {
	return nil, func() {}, nil
}

type mockPushSender struct {
	mock.Mock
}

func (m *mockPushSender) Send(ctx context.Context, userID string, payload notify.PushPayload) notify.DispatchReport {
	args := m.Called(ctx, userID, payload)
	return args.Get(0).(notify.DispatchReport)
}

type mockMarker struct {
	mock.Mock
}

func (m *mockMarker) Stamp(ctx context.Context, entityID string) error {
	return m.Called(ctx, entityID).Error(0)
}

func matchedEvent() *notify.MatchEvent {
	return &notify.MatchEvent{
		EntityID: "req-42",
		Before:   &notify.EntitySnapshot{Status: notify.StatusPending},
		After: &notify.EntitySnapshot{
			Status:          notify.StatusMatched,
			MatchedEntityID: "item-7",
			OwnerUserID:     "user-1",
			DisplayName:     "Vintage clock",
		},
	}
}

func TestProcessor_Process(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	newProcessor := func() (*pipeline.Processor, *mockNotificationStore, *mockPushSender, *mockMarker) {
		store := new(mockNotificationStore)
		sender := new(mockPushSender)
		marker := new(mockMarker)
		return pipeline.NewProcessor(store, sender, marker, logger), store, sender, marker
	}

	t.Run("Notifies On Match Transition", func(t *testing.T) {
		proc, store, sender, marker := newProcessor()
		event := matchedEvent()

		store.On("Create", mock.Anything, "user-1", mock.MatchedBy(func(rec *notify.Record) bool {
			return rec.Type == notify.TypeMatched &&
				rec.RelatedEntityID == "item-7" &&
				rec.SourceEventID == "req-42" &&
				!rec.IsRead
		})).Return("notif-1", nil)
		sender.On("Send", mock.Anything, "user-1", mock.MatchedBy(func(p notify.PushPayload) bool {
			return p.Data["notificationId"] == "notif-1" && p.Data["relatedEntityId"] == "item-7"
		})).Return(notify.DispatchReport{Sent: 2})
		marker.On("Stamp", mock.Anything, "req-42").Return(nil)

		outcome := proc.Process(ctx, event)

		assert.Equal(t, notify.OutcomeNotified, outcome.Code)
		store.AssertExpectations(t)
		sender.AssertExpectations(t)
		marker.AssertExpectations(t)
	})

	t.Run("Skips Missing Snapshot", func(t *testing.T) {
		proc, store, sender, _ := newProcessor()

		outcome := proc.Process(ctx, &notify.MatchEvent{EntityID: "req-1", After: &notify.EntitySnapshot{}})

		assert.Equal(t, notify.OutcomeSkipped, outcome.Code)
		assert.Equal(t, notify.SkipMissingSnapshot, outcome.Reason)
		store.AssertNotCalled(t, "Create")
		sender.AssertNotCalled(t, "Send")
	})

	t.Run("Transition Guard", func(t *testing.T) {
		guardCases := []struct {
			name   string
			before string
			after  string
		}{
			{"No Change", notify.StatusPending, notify.StatusPending},
			{"Not Matched After", notify.StatusPending, notify.StatusReviewed},
			{"Already Matched Before", notify.StatusMatched, notify.StatusMatched},
		}
		for _, tc := range guardCases {
			t.Run(tc.name, func(t *testing.T) {
				proc, store, sender, marker := newProcessor()
				event := matchedEvent()
				event.Before.Status = tc.before
				event.After.Status = tc.after

				outcome := proc.Process(ctx, event)

				assert.Equal(t, notify.OutcomeSkipped, outcome.Code)
				assert.Equal(t, notify.SkipNotMatchTransition, outcome.Reason)
				store.AssertNotCalled(t, "Create")
				sender.AssertNotCalled(t, "Send")
				marker.AssertNotCalled(t, "Stamp")
			})
		}
	})

	t.Run("Skips Incomplete Payload", func(t *testing.T) {
		proc, store, sender, _ := newProcessor()
		event := matchedEvent()
		event.After.OwnerUserID = ""

		outcome := proc.Process(ctx, event)

		assert.Equal(t, notify.OutcomeSkipped, outcome.Code)
		assert.Equal(t, notify.SkipIncompletePayload, outcome.Reason)
		store.AssertNotCalled(t, "Create")
		sender.AssertNotCalled(t, "Send")
	})

	t.Run("Skips Already Notified", func(t *testing.T) {
		proc, store, sender, marker := newProcessor()
		event := matchedEvent()
		stamped := time.Now()
		event.After.NotifiedAt = &stamped

		outcome := proc.Process(ctx, event)

		assert.Equal(t, notify.OutcomeSkipped, outcome.Code)
		assert.Equal(t, notify.SkipAlreadyNotified, outcome.Reason)
		store.AssertNotCalled(t, "Create")
		sender.AssertNotCalled(t, "Send")
		marker.AssertNotCalled(t, "Stamp")
	})

	t.Run("Notification Write Failure", func(t *testing.T) {
		proc, store, sender, marker := newProcessor()

		store.On("Create", mock.Anything, "user-1", mock.Anything).Return("", errors.New("firestore down"))

		outcome := proc.Process(ctx, matchedEvent())

		assert.Equal(t, notify.OutcomeFailed, outcome.Code)
		assert.Equal(t, "create_notification", outcome.Reason)
		sender.AssertNotCalled(t, "Send")
		marker.AssertNotCalled(t, "Stamp")
	})

	t.Run("Push Failure Never Blocks Marker", func(t *testing.T) {
		proc, store, sender, marker := newProcessor()

		store.On("Create", mock.Anything, "user-1", mock.Anything).Return("notif-2", nil)
		// A fully failed fan-out is still just a report.
		sender.On("Send", mock.Anything, "user-1", mock.Anything).Return(notify.DispatchReport{Transient: 3})
		marker.On("Stamp", mock.Anything, "req-42").Return(nil)

		outcome := proc.Process(ctx, matchedEvent())

		assert.Equal(t, notify.OutcomeNotified, outcome.Code)
		marker.AssertExpectations(t)
	})

	t.Run("Marker Write Failure", func(t *testing.T) {
		proc, store, sender, marker := newProcessor()

		store.On("Create", mock.Anything, "user-1", mock.Anything).Return("notif-3", nil)
		sender.On("Send", mock.Anything, "user-1", mock.Anything).Return(notify.DispatchReport{Sent: 1})
		marker.On("Stamp", mock.Anything, "req-42").Return(errors.New("update failed"))

		outcome := proc.Process(ctx, matchedEvent())

		assert.Equal(t, notify.OutcomeFailed, outcome.Code)
		assert.Equal(t, "stamp_marker", outcome.Reason)
	})
}

func TestProcessor_StreamAlwaysAcks(t *testing.T) {
	logger := newTestLogger()
	store := new(mockNotificationStore)
	sender := new(mockPushSender)
	marker := new(mockMarker)

	// Even a hard failure must not surface to the consumer: redelivery
	// before the marker stamp would amplify duplicate pushes.
	store.On("Create", mock.Anything, "user-1", mock.Anything).Return("", errors.New("boom"))

	proc := pipeline.NewProcessor(store, sender, marker, logger)
	stream := proc.Stream()

	err := stream(context.Background(), messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: "msg-1"},
	}, matchedEvent())

	require.NoError(t, err)
}
