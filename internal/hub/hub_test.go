package hub_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pusher-service/internal/hub"
	"github.com/tinywideclouds/go-pusher-service/internal/registry/memory"
	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, devices []dispatch.Device, msg gateway.Message, env gateway.Environment) (dispatch.Receipt, error) {
	args := m.Called(ctx, devices, msg, env)
	return args.Get(0).(dispatch.Receipt), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokensOf(devices []dispatch.Device) []string {
	return dispatch.Tokens(devices)
}

type fixture struct {
	ctx      context.Context
	registry *memory.Registry
	ios      *MockSender
	android  *MockSender
	hub      *hub.Hub
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	reg := memory.New()
	require.NoError(t, reg.Bind(ctx, "user1", dispatch.Device{Token: "ios-1", Platform: dispatch.PlatformIOS}))
	require.NoError(t, reg.Bind(ctx, "user1", dispatch.Device{Token: "and-1", Platform: dispatch.PlatformAndroid}))
	require.NoError(t, reg.Bind(ctx, "user2", dispatch.Device{Token: "and-2", Platform: dispatch.PlatformAndroid}))

	ios, android := new(MockSender), new(MockSender)
	seq := 0
	h := hub.New(reg, map[dispatch.Platform]dispatch.Sender{
		dispatch.PlatformIOS:     ios,
		dispatch.PlatformAndroid: android,
	}, newTestLogger(), hub.WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("push-%d", seq)
	}))
	t.Cleanup(h.Close)
	return &fixture{ctx: ctx, registry: reg, ios: ios, android: android, hub: h}
}

func TestHub_Push(t *testing.T) {
	msg := gateway.Message{Title: "hi", Content: "there"}

	t.Run("PushToAccount groups devices by platform", func(t *testing.T) {
		f := setup(t)
		f.ios.On("Send", f.ctx, mock.MatchedBy(func(d []dispatch.Device) bool {
			return assert.ObjectsAreEqual([]string{"ios-1"}, tokensOf(d))
		}), msg, gateway.EnvProduction).Return(dispatch.Receipt{Sent: 1}, nil)
		f.android.On("Send", f.ctx, mock.MatchedBy(func(d []dispatch.Device) bool {
			return assert.ObjectsAreEqual([]string{"and-1"}, tokensOf(d))
		}), msg, gateway.EnvProduction).Return(dispatch.Receipt{Sent: 1}, nil)

		resp, err := f.hub.PushToAccount(f.ctx, "user1", msg, gateway.EnvProduction)

		require.NoError(t, err)
		require.True(t, resp.Succeeded())
		assert.Equal(t, "push-1", resp.String("push_id", ""))
		assert.Equal(t, 2, resp.Int("sent", -1))
		assert.Equal(t, 0, resp.Int("failed", -1))
		f.ios.AssertExpectations(t)
		f.android.AssertExpectations(t)
	})

	t.Run("Invalid tokens are unbound", func(t *testing.T) {
		f := setup(t)
		f.android.On("Send", f.ctx, mock.Anything, msg, gateway.EnvDevelopment).
			Return(dispatch.Receipt{Sent: 1, Failed: 1, Invalid: []string{"and-2"}}, nil)

		resp, err := f.hub.PushToAccounts(f.ctx, []string{"user2", "nobody"}, msg, gateway.EnvDevelopment)

		require.NoError(t, err)
		assert.Equal(t, 1, resp.Int("failed", -1))
		_, err = f.registry.Lookup(f.ctx, "and-2")
		assert.ErrorIs(t, err, dispatch.ErrDeviceNotFound)
	})

	t.Run("Sender errors count the group as failed", func(t *testing.T) {
		f := setup(t)
		f.android.On("Send", f.ctx, mock.Anything, msg, gateway.EnvProduction).
			Return(dispatch.Receipt{}, errors.New("fcm down"))

		resp, err := f.hub.PushToDevice(f.ctx, "and-1", msg, gateway.EnvProduction)

		require.NoError(t, err)
		assert.Equal(t, 0, resp.Int("sent", -1))
		assert.Equal(t, 1, resp.Int("failed", -1))
	})

	t.Run("Missing sender counts as failed", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.registry.Bind(f.ctx, "user3", dispatch.Device{Token: "web-1", Platform: dispatch.PlatformWeb}))

		resp, err := f.hub.PushToAccount(f.ctx, "user3", msg, gateway.EnvProduction)

		require.NoError(t, err)
		assert.Equal(t, 1, resp.Int("failed", -1))
	})

	t.Run("PushToTags honours the operator", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.registry.AddTags(f.ctx, []gateway.TagTokenPair{
			{Tag: "vip", Token: "and-1"}, {Tag: "beta", Token: "and-1"}, {Tag: "vip", Token: "and-2"},
		}))
		f.android.On("Send", f.ctx, mock.MatchedBy(func(d []dispatch.Device) bool {
			return assert.ObjectsAreEqual([]string{"and-1"}, tokensOf(d))
		}), msg, gateway.EnvProduction).Return(dispatch.Receipt{Sent: 1}, nil)

		resp, err := f.hub.PushToTags(f.ctx, []string{"vip", "beta"}, gateway.OperatorAND, msg, gateway.EnvProduction)

		require.NoError(t, err)
		assert.Equal(t, 1, resp.Int("sent", -1))
		f.android.AssertExpectations(t)
	})

	t.Run("PushToAll reaches every device", func(t *testing.T) {
		f := setup(t)
		f.ios.On("Send", f.ctx, mock.Anything, msg, gateway.EnvProduction).Return(dispatch.Receipt{Sent: 1}, nil)
		f.android.On("Send", f.ctx, mock.Anything, msg, gateway.EnvProduction).Return(dispatch.Receipt{Sent: 2}, nil)

		resp, err := f.hub.PushToAll(f.ctx, msg, gateway.EnvProduction)

		require.NoError(t, err)
		assert.Equal(t, 3, resp.Int("sent", -1))
	})
}

func TestHub_Ceilings(t *testing.T) {
	f := setup(t)
	msg := gateway.Message{Title: "x"}

	many := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("v%d", i)
		}
		return out
	}
	pairs := func(n int) []gateway.TagTokenPair {
		out := make([]gateway.TagTokenPair, n)
		for i := range out {
			out[i] = gateway.TagTokenPair{Tag: "t", Token: fmt.Sprintf("tok%d", i)}
		}
		return out
	}

	testCases := []struct {
		name string
		call func() (*gateway.Response, error)
		code int
	}{
		{"too many accounts", func() (*gateway.Response, error) {
			return f.hub.PushToAccounts(f.ctx, many(gateway.MaxAccountsPerPush+1), msg, gateway.EnvProduction)
		}, gateway.CodeParamError},
		{"no accounts", func() (*gateway.Response, error) {
			return f.hub.PushToAccounts(f.ctx, nil, msg, gateway.EnvProduction)
		}, gateway.CodeParamError},
		{"too many pairs", func() (*gateway.Response, error) {
			return f.hub.BatchSetTag(f.ctx, pairs(gateway.MaxTagPairsPerCall+1))
		}, gateway.CodeParamError},
		{"empty pair", func() (*gateway.Response, error) {
			return f.hub.BatchRemoveTag(f.ctx, []gateway.TagTokenPair{{Tag: "", Token: "x"}})
		}, gateway.CodeParamError},
		{"too many batch recipients", func() (*gateway.Response, error) {
			return f.hub.PushBatchToDevices(f.ctx, "push-x", many(gateway.MaxBatchRecipients+1))
		}, gateway.CodeParamError},
		{"no tags", func() (*gateway.Response, error) {
			return f.hub.PushToTags(f.ctx, nil, gateway.OperatorOR, msg, gateway.EnvProduction)
		}, gateway.CodeParamError},
		{"unknown device", func() (*gateway.Response, error) {
			return f.hub.PushToDevice(f.ctx, "ghost", msg, gateway.EnvProduction)
		}, gateway.CodeNotFound},
		{"unknown batch", func() (*gateway.Response, error) {
			return f.hub.PushBatchToAccounts(f.ctx, "push-x", []string{"user1"})
		}, gateway.CodeNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := tc.call()
			require.NoError(t, err)
			code, _ := resp.Code()
			assert.Equal(t, tc.code, code)
		})
	}

	t.Run("Limits are inclusive", func(t *testing.T) {
		resp, err := f.hub.BatchSetTag(f.ctx, pairs(gateway.MaxTagPairsPerCall))
		require.NoError(t, err)
		assert.True(t, resp.Succeeded())
	})
}

func TestHub_Batches(t *testing.T) {
	f := setup(t)
	msg := gateway.Message{Title: "batch"}

	resp, err := f.hub.CreateBatch(f.ctx, msg, gateway.EnvProduction)
	require.NoError(t, err)
	pushID := resp.String("push_id", "")
	require.NotEmpty(t, pushID)

	status, err := f.hub.QueryPushStatus(f.ctx, []string{pushID})
	require.NoError(t, err)
	assert.Equal(t, hub.StatusCreated, status.Records("list")[0]["status"])

	f.android.On("Send", f.ctx, mock.Anything, msg, gateway.EnvProduction).Return(dispatch.Receipt{Sent: 1}, nil)
	f.ios.On("Send", f.ctx, mock.Anything, msg, gateway.EnvProduction).Return(dispatch.Receipt{Sent: 1}, nil)

	_, err = f.hub.PushBatchToAccounts(f.ctx, pushID, []string{"user2"})
	require.NoError(t, err)
	resp, err = f.hub.PushBatchToDevices(f.ctx, pushID, []string{"ios-1", "ios-1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Int("sent", -1))

	status, err = f.hub.QueryPushStatus(f.ctx, []string{pushID, "nope"})
	require.NoError(t, err)
	list := status.Records("list")
	require.Len(t, list, 2)
	assert.Equal(t, hub.StatusDone, list[0]["status"])
	assert.Equal(t, 2, list[0]["sent"])
	assert.Equal(t, hub.StatusUnknown, list[1]["status"])
}

func TestHub_ScheduledPush(t *testing.T) {
	msg := gateway.Message{Title: "later"}

	t.Run("Cancel before it fires", func(t *testing.T) {
		f := setup(t)
		msg := msg
		msg.SendTime = time.Now().Add(time.Hour)

		resp, err := f.hub.PushToAll(f.ctx, msg, gateway.EnvProduction)
		require.NoError(t, err)
		assert.Equal(t, hub.StatusScheduled, resp.String("status", ""))
		pushID := resp.String("push_id", "")

		resp, err = f.hub.CancelTimedPush(f.ctx, pushID)
		require.NoError(t, err)
		assert.True(t, resp.Succeeded())

		resp, err = f.hub.CancelTimedPush(f.ctx, pushID)
		require.NoError(t, err)
		code, _ := resp.Code()
		assert.Equal(t, gateway.CodeParamError, code)

		f.ios.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Fires when due", func(t *testing.T) {
		f := setup(t)
		msg := msg
		msg.SendTime = time.Now().Add(20 * time.Millisecond)
		f.android.On("Send", mock.Anything, mock.Anything, msg, gateway.EnvProduction).Return(dispatch.Receipt{Sent: 1}, nil)

		resp, err := f.hub.PushToAccount(f.ctx, "user2", msg, gateway.EnvProduction)
		require.NoError(t, err)
		pushID := resp.String("push_id", "")

		require.Eventually(t, func() bool {
			status, err := f.hub.QueryPushStatus(f.ctx, []string{pushID})
			return err == nil && status.Records("list")[0]["status"] == hub.StatusDone
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Cancel racing creation stops the push", func(t *testing.T) {
		f := setup(t)
		msg := msg
		msg.SendTime = time.Now().Add(50 * time.Millisecond)

		cancelled := make(chan *gateway.Response, 1)
		go func() {
			for {
				resp, err := f.hub.CancelTimedPush(f.ctx, "push-1")
				if err != nil {
					cancelled <- nil
					return
				}
				if code, _ := resp.Code(); code != gateway.CodeNotFound {
					cancelled <- resp
					return
				}
				runtime.Gosched()
			}
		}()

		_, err := f.hub.PushToAll(f.ctx, msg, gateway.EnvProduction)
		require.NoError(t, err)

		select {
		case resp := <-cancelled:
			require.NotNil(t, resp)
			assert.True(t, resp.Succeeded())
		case <-time.After(2 * time.Second):
			t.Fatal("cancel never observed the scheduled push")
		}

		time.Sleep(100 * time.Millisecond)
		f.ios.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.android.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Close stops a freshly scheduled push", func(t *testing.T) {
		f := setup(t)
		msg := msg
		msg.SendTime = time.Now().Add(30 * time.Millisecond)

		resp, err := f.hub.PushToAll(f.ctx, msg, gateway.EnvProduction)
		require.NoError(t, err)
		pushID := resp.String("push_id", "")
		f.hub.Close()

		time.Sleep(80 * time.Millisecond)
		status, err := f.hub.QueryPushStatus(f.ctx, []string{pushID})
		require.NoError(t, err)
		assert.Equal(t, hub.StatusCancelled, status.Records("list")[0]["status"])
		f.ios.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.android.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Unknown push cannot be cancelled", func(t *testing.T) {
		f := setup(t)
		resp, err := f.hub.CancelTimedPush(f.ctx, "missing")
		require.NoError(t, err)
		code, _ := resp.Code()
		assert.Equal(t, gateway.CodeNotFound, code)
	})
}

func TestHub_Queries(t *testing.T) {
	f := setup(t)
	_, err := f.hub.BatchSetTag(f.ctx, []gateway.TagTokenPair{
		{Tag: "b", Token: "and-1"}, {Tag: "a", Token: "and-1"}, {Tag: "a", Token: "and-2"}, {Tag: "c", Token: "ios-1"},
	})
	require.NoError(t, err)

	t.Run("Tags for token", func(t *testing.T) {
		resp, err := f.hub.QueryTagsForToken(f.ctx, "and-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, resp.Strings("tags"))
	})

	t.Run("Tokens for account", func(t *testing.T) {
		resp, err := f.hub.QueryTokensForAccount(f.ctx, "user1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"ios-1", "and-1"}, resp.Strings("tokens"))
	})

	t.Run("Counts", func(t *testing.T) {
		resp, err := f.hub.QueryDeviceCount(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, resp.Int("device_num", -1))

		resp, err = f.hub.QueryTagTokenCount(f.ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Int("device_num", -1))
	})

	t.Run("Token info", func(t *testing.T) {
		resp, err := f.hub.QueryTokenInfo(f.ctx, "ios-1")
		require.NoError(t, err)
		assert.Equal(t, "user1", resp.String("account", ""))
		assert.Equal(t, "ios", resp.String("platform", ""))

		resp, err = f.hub.QueryTokenInfo(f.ctx, "ghost")
		require.NoError(t, err)
		code, _ := resp.Code()
		assert.Equal(t, gateway.CodeNotFound, code)
	})

	t.Run("Tag pages", func(t *testing.T) {
		resp, err := f.hub.QueryTags(f.ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, resp.Int("total", -1))
		assert.Equal(t, []string{"b"}, resp.Strings("tags"))

		resp, err = f.hub.QueryTags(f.ctx, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, resp.Strings("tags"))

		resp, err = f.hub.QueryTags(f.ctx, -1, 0)
		require.NoError(t, err)
		assert.False(t, resp.Succeeded())
	})

	t.Run("Deletes", func(t *testing.T) {
		_, err := f.hub.DeleteTokenOfAccount(f.ctx, "user1", "ios-1")
		require.NoError(t, err)
		_, err = f.hub.DeleteAllTokensOfAccount(f.ctx, "user2")
		require.NoError(t, err)

		resp, err := f.hub.QueryDeviceCount(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Int("device_num", -1))
	})
}

func TestHub_ImplementsGateway(t *testing.T) {
	var _ gateway.Gateway = (*hub.Hub)(nil)
}
