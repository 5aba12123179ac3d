package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hammerstack/go-auction-notifications/internal/platform/fcm"
	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMDispatch_Lifecycle(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	payload := notify.PushPayload{Title: "Test", Data: map[string]string{"id": "1"}}

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		tokens := []string{"token-1", "token-2"}

		// Arrange: Return success for both
		mockResponse := &messaging.BatchResponse{
			SuccessCount: 2,
			FailureCount: 0,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(msg *messaging.MulticastMessage) bool {
			return len(msg.Tokens) == 2 && msg.Notification.Title == "Test"
		})).Return(mockResponse, nil)

		// Act
		res, err := dispatcher.Dispatch(ctx, tokens, payload)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, res.Sent)
		assert.Empty(t, res.Invalid)
		assert.Zero(t, res.Transient)
		mockClient.AssertExpectations(t)
	})

	t.Run("Empty Tokens - No Gateway Call", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		res, err := dispatcher.Dispatch(ctx, nil, payload)

		require.NoError(t, err)
		assert.Zero(t, res.Sent)
		mockClient.AssertNotCalled(t, "SendEachForMulticast")
	})

	t.Run("Transport Failure (Retryable)", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		tokens := []string{"token-1"}

		// Arrange: Whole batch fails (e.g. DNS error)
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		// Act
		_, err := dispatcher.Dispatch(ctx, tokens, payload)

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})

	t.Run("Unclassified Per-Token Failure Is Transient", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		tokens := []string{"token-1", "token-2"}

		// One success, one failure with a plain error. A generic error is
		// not a registration failure, so the token must survive.
		mockResponse := &messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: false, Error: errors.New("internal error")},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(mockResponse, nil)

		res, err := dispatcher.Dispatch(ctx, tokens, payload)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Sent)
		assert.Equal(t, 1, res.Transient)
		assert.Empty(t, res.Invalid)
	})

	// Note: We rely on the integration test to verify the parsing of
	// IsRegistrationTokenNotRegistered errors, as mocking the internal error
	// types of the Firebase SDK is brittle.
}
