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

	"github.com/tinywideclouds/go-pusher-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
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

func devices(tokens ...string) []dispatch.Device {
	out := make([]dispatch.Device, len(tokens))
	for i, t := range tokens {
		out[i] = dispatch.Device{Token: t, Platform: dispatch.PlatformAndroid}
	}
	return out
}

func TestFCMSend_Lifecycle(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	msg := gateway.Message{Title: "Test", Content: "Body"}

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, logger)

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 2,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 2 && m.Notification.Title == "Test"
		})).Return(mockResponse, nil)

		receipt, err := sender.Send(ctx, devices("token-1", "token-2"), msg, gateway.EnvProduction)

		require.NoError(t, err)
		assert.Equal(t, 2, receipt.Sent)
		assert.Zero(t, receipt.Failed)
		assert.Empty(t, receipt.Invalid)
		mockClient.AssertExpectations(t)
	})

	t.Run("Large audiences are split into multicast batches", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, logger)

		tokens := make([]string, fcm.MaxTokensPerMulticast+1)
		for i := range tokens {
			tokens[i] = "t"
		}
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == fcm.MaxTokensPerMulticast
		})).Return(&messaging.BatchResponse{SuccessCount: fcm.MaxTokensPerMulticast}, nil).Once()
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 1
		})).Return(&messaging.BatchResponse{SuccessCount: 1}, nil).Once()

		receipt, err := sender.Send(ctx, devices(tokens...), msg, gateway.EnvProduction)

		require.NoError(t, err)
		assert.Equal(t, fcm.MaxTokensPerMulticast+1, receipt.Sent)
		mockClient.AssertExpectations(t)
	})

	t.Run("Per-token failures are counted", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true},
				{Success: false, Error: errors.New("unavailable")},
			},
		}, nil)

		receipt, err := sender.Send(ctx, devices("a", "b"), msg, gateway.EnvProduction)

		require.NoError(t, err)
		assert.Equal(t, 1, receipt.Sent)
		assert.Equal(t, 1, receipt.Failed)
		assert.Empty(t, receipt.Invalid)
	})

	t.Run("Transport Failure", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, err := sender.Send(ctx, devices("token-1"), msg, gateway.EnvProduction)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})

	t.Run("No devices is a no-op", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, logger)

		receipt, err := sender.Send(ctx, nil, msg, gateway.EnvProduction)

		require.NoError(t, err)
		assert.Zero(t, receipt.Sent)
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})
}
