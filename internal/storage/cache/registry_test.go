package cache_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pusher-service/internal/registry/memory"
	"github.com/tinywideclouds/go-pusher-service/internal/storage/cache"
	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) error {
	return m.Called(ctx, key, dest).Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedRegistry_ReadAside(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	require.NoError(t, backing.Bind(ctx, "user1", dispatch.Device{Token: "T1", Platform: dispatch.PlatformIOS}))

	t.Run("Miss falls through and fills", func(t *testing.T) {
		mc := new(MockCache)
		reg := cache.NewCachedRegistry(backing, mc, time.Hour, newTestLogger())

		mc.On("Get", ctx, "pusher:account:user1", mock.Anything).Return(cache.ErrMiss)
		mc.On("Set", ctx, "pusher:account:user1", mock.Anything, time.Hour).Return(nil)

		devices, err := reg.TokensForAccount(ctx, "user1")
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "T1", devices[0].Token)
		mc.AssertExpectations(t)
	})

	t.Run("Hit skips the backing registry", func(t *testing.T) {
		mc := new(MockCache)
		reg := cache.NewCachedRegistry(backing, mc, time.Hour, newTestLogger())

		mc.On("Get", ctx, "pusher:token:T9", mock.Anything).Run(func(args mock.Arguments) {
			*args.Get(2).(*dispatch.Device) = dispatch.Device{Token: "T9", Account: "cached"}
		}).Return(nil)

		d, err := reg.Lookup(ctx, "T9")
		require.NoError(t, err)
		assert.Equal(t, "cached", d.Account)
		mc.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Backing errors are not cached", func(t *testing.T) {
		mc := new(MockCache)
		reg := cache.NewCachedRegistry(backing, mc, time.Hour, newTestLogger())

		mc.On("Get", ctx, "pusher:token:missing", mock.Anything).Return(cache.ErrMiss)

		_, err := reg.Lookup(ctx, "missing")
		assert.ErrorIs(t, err, dispatch.ErrDeviceNotFound)
		mc.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCachedRegistry_InvalidateOnWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("Unbind invalidates token and account", func(t *testing.T) {
		backing := memory.New()
		require.NoError(t, backing.Bind(ctx, "user1", dispatch.Device{Token: "T1"}))
		mc := new(MockCache)
		reg := cache.NewCachedRegistry(backing, mc, time.Hour, newTestLogger())

		mc.On("Del", ctx, []string{"pusher:token:T1", "pusher:account:user1"}).Return(nil)

		require.NoError(t, reg.Unbind(ctx, "user1", "T1"))
		mc.AssertExpectations(t)
	})

	t.Run("Rebinding to another account clears the previous owner", func(t *testing.T) {
		backing := memory.New()
		require.NoError(t, backing.Bind(ctx, "old", dispatch.Device{Token: "T1"}))
		mc := new(MockCache)
		reg := cache.NewCachedRegistry(backing, mc, time.Hour, newTestLogger())

		mc.On("Del", ctx, []string{"pusher:token:T1", "pusher:account:new", "pusher:account:old"}).Return(nil)

		require.NoError(t, reg.Bind(ctx, "new", dispatch.Device{Token: "T1"}))
		mc.AssertExpectations(t)
	})

	t.Run("UnbindAll clears every token of the account", func(t *testing.T) {
		backing := memory.New()
		require.NoError(t, backing.Bind(ctx, "user1", dispatch.Device{Token: "T1"}))
		mc := new(MockCache)
		reg := cache.NewCachedRegistry(backing, mc, time.Hour, newTestLogger())

		mc.On("Del", ctx, []string{"pusher:account:user1", "pusher:token:T1"}).Return(nil)

		require.NoError(t, reg.UnbindAll(ctx, "user1"))
		mc.AssertExpectations(t)
	})

	t.Run("Tag writes clear owning accounts once", func(t *testing.T) {
		backing := memory.New()
		require.NoError(t, backing.Bind(ctx, "user1", dispatch.Device{Token: "T1"}))
		mc := new(MockCache)
		reg := cache.NewCachedRegistry(backing, mc, time.Hour, newTestLogger())

		mc.On("Del", ctx, []string{"pusher:token:T1", "pusher:account:user1", "pusher:token:ghost"}).Return(nil)

		require.NoError(t, reg.AddTags(ctx, []gateway.TagTokenPair{
			{Tag: "a", Token: "T1"}, {Tag: "b", Token: "T1"}, {Tag: "a", Token: "ghost"},
		}))
		mc.AssertExpectations(t)

		d, err := backing.Lookup(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, d.Tags)
	})
}
