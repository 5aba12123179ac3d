package fanout_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/hammerstack/go-auction-notifications/internal/fanout"
	"github.com/hammerstack/go-auction-notifications/pkg/dispatch"
	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Devices(ctx context.Context, userID string) (*notify.DeviceSet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notify.DeviceSet), args.Error(1)
}
func (m *mockRegistry) PruneFCM(ctx context.Context, userID string, tokens []string) error {
	return m.Called(ctx, userID, tokens).Error(0)
}
func (m *mockRegistry) PruneAPNS(ctx context.Context, userID string, tokens []string) error {
	return m.Called(ctx, userID, tokens).Error(0)
}
func (m *mockRegistry) PruneWeb(ctx context.Context, userID string, endpoints []string) error {
	return m.Called(ctx, userID, endpoints).Error(0)
}

// Stubs to satisfy the full registry interface.
func (m *mockRegistry) RegisterFCM(context.Context, string, string) error    { return nil }
func (m *mockRegistry) UnregisterFCM(context.Context, string, string) error  { return nil }
func (m *mockRegistry) RegisterAPNS(context.Context, string, string) error   { return nil }
func (m *mockRegistry) UnregisterAPNS(context.Context, string, string) error { return nil }
func (m *mockRegistry) RegisterWeb(context.Context, string, notify.WebSubscription) error {
	return nil
}
func (m *mockRegistry) UnregisterWeb(context.Context, string, string) error { return nil }

type mockPlatform struct {
	mock.Mock
}

func (m *mockPlatform) Dispatch(ctx context.Context, tokens []string, payload notify.PushPayload) (dispatch.Result, error) {
	args := m.Called(ctx, tokens, payload)
	return args.Get(0).(dispatch.Result), args.Error(1)
}

type mockWebPlatform struct {
	mock.Mock
}

func (m *mockWebPlatform) Dispatch(ctx context.Context, subs []notify.WebSubscription, payload notify.PushPayload) (dispatch.WebResult, error) {
	args := m.Called(ctx, subs, payload)
	return args.Get(0).(dispatch.WebResult), args.Error(1)
}

func TestFanout_Send(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	payload := notify.PushPayload{Title: "Match!", Body: "You have a match."}

	t.Run("No Devices - Gateway Never Called", func(t *testing.T) {
		registry := new(mockRegistry)
		fcmMock := new(mockPlatform)
		registry.On("Devices", mock.Anything, "user-1").Return(&notify.DeviceSet{}, nil)

		d := fanout.New(registry, fcmMock, nil, nil, 0, logger)
		report := d.Send(ctx, "user-1", payload)

		assert.Equal(t, notify.DispatchReport{}, report)
		fcmMock.AssertNotCalled(t, "Dispatch")
	})

	t.Run("Selective Pruning", func(t *testing.T) {
		// Tokens [A,B,C]: A succeeds, B is dead, C failed transiently.
		// Only B may be removed.
		registry := new(mockRegistry)
		fcmMock := new(mockPlatform)

		registry.On("Devices", mock.Anything, "user-1").Return(&notify.DeviceSet{
			FCMTokens: []string{"A", "B", "C"},
		}, nil)
		fcmMock.On("Dispatch", mock.Anything, []string{"A", "B", "C"}, payload).
			Return(dispatch.Result{Sent: 1, Transient: 1, Invalid: []string{"B"}}, nil)
		registry.On("PruneFCM", mock.Anything, "user-1", []string{"B"}).Return(nil)

		d := fanout.New(registry, fcmMock, nil, nil, 0, logger)
		report := d.Send(ctx, "user-1", payload)

		assert.Equal(t, notify.DispatchReport{Sent: 1, Transient: 1, Permanent: 1, Pruned: 1}, report)
		registry.AssertExpectations(t)
	})

	t.Run("Transport Failure - All Transient, Nothing Pruned", func(t *testing.T) {
		registry := new(mockRegistry)
		fcmMock := new(mockPlatform)

		registry.On("Devices", mock.Anything, "user-1").Return(&notify.DeviceSet{
			FCMTokens: []string{"A", "B"},
		}, nil)
		fcmMock.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
			Return(dispatch.Result{}, errors.New("network down"))

		d := fanout.New(registry, fcmMock, nil, nil, 0, logger)
		report := d.Send(ctx, "user-1", payload)

		assert.Equal(t, notify.DispatchReport{Transient: 2}, report)
		registry.AssertNotCalled(t, "PruneFCM")
	})

	t.Run("Registry Failure - Empty Report", func(t *testing.T) {
		registry := new(mockRegistry)
		fcmMock := new(mockPlatform)
		registry.On("Devices", mock.Anything, "user-1").Return(nil, errors.New("unavailable"))

		d := fanout.New(registry, fcmMock, nil, nil, 0, logger)
		report := d.Send(ctx, "user-1", payload)

		assert.Equal(t, notify.DispatchReport{}, report)
		fcmMock.AssertNotCalled(t, "Dispatch")
	})

	t.Run("Prune Failure Keeps Report Honest", func(t *testing.T) {
		registry := new(mockRegistry)
		fcmMock := new(mockPlatform)

		registry.On("Devices", mock.Anything, "user-1").Return(&notify.DeviceSet{
			FCMTokens: []string{"A"},
		}, nil)
		fcmMock.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
			Return(dispatch.Result{Invalid: []string{"A"}}, nil)
		registry.On("PruneFCM", mock.Anything, "user-1", []string{"A"}).Return(errors.New("write failed"))

		d := fanout.New(registry, fcmMock, nil, nil, 0, logger)
		report := d.Send(ctx, "user-1", payload)

		assert.Equal(t, 1, report.Permanent)
		assert.Equal(t, 0, report.Pruned)
	})

	t.Run("Routes Mixed Platforms", func(t *testing.T) {
		registry := new(mockRegistry)
		fcmMock := new(mockPlatform)
		apnsMock := new(mockPlatform)
		webMock := new(mockWebPlatform)

		deadSub := notify.WebSubscription{Endpoint: "https://push.example/dead"}
		registry.On("Devices", mock.Anything, "user-1").Return(&notify.DeviceSet{
			FCMTokens:        []string{"fcm-1"},
			APNSTokens:       []string{"ios-1"},
			WebSubscriptions: []notify.WebSubscription{deadSub},
		}, nil)

		fcmMock.On("Dispatch", mock.Anything, []string{"fcm-1"}, payload).
			Return(dispatch.Result{Sent: 1}, nil)
		apnsMock.On("Dispatch", mock.Anything, []string{"ios-1"}, payload).
			Return(dispatch.Result{Sent: 1}, nil)
		webMock.On("Dispatch", mock.Anything, []notify.WebSubscription{deadSub}, payload).
			Return(dispatch.WebResult{Invalid: []string{deadSub.Endpoint}}, nil)
		registry.On("PruneWeb", mock.Anything, "user-1", []string{deadSub.Endpoint}).Return(nil)

		d := fanout.New(registry, fcmMock, apnsMock, webMock, 0, logger)
		report := d.Send(ctx, "user-1", payload)

		assert.Equal(t, notify.DispatchReport{Sent: 2, Permanent: 1, Pruned: 1}, report)
		registry.AssertExpectations(t)
		fcmMock.AssertExpectations(t)
		apnsMock.AssertExpectations(t)
		webMock.AssertExpectations(t)
	})
}
