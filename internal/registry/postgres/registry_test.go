//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-pusher-service/internal/registry/postgres"
	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

func setupRegistry(t *testing.T) (context.Context, *postgres.Registry) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, _ = pool.Exec(ctx, `DROP TABLE IF EXISTS push_device_tags, push_devices`)
	reg := postgres.New(pool)
	require.NoError(t, reg.EnsureSchema(ctx))
	return ctx, reg
}

func TestRegistry_Integration(t *testing.T) {
	ctx, reg := setupRegistry(t)

	require.NoError(t, reg.Bind(ctx, "user1", dispatch.Device{Token: "T1", Platform: dispatch.PlatformIOS}))
	require.NoError(t, reg.Bind(ctx, "user1", dispatch.Device{Token: "T2", Platform: dispatch.PlatformAndroid}))

	t.Run("Tags keep insertion order and ignore unknown tokens", func(t *testing.T) {
		require.NoError(t, reg.AddTags(ctx, []gateway.TagTokenPair{
			{Tag: "vip", Token: "T1"}, {Tag: "new", Token: "T1"}, {Tag: "vip", Token: "T1"}, {Tag: "x", Token: "ghost"},
		}))
		d, err := reg.Lookup(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, []string{"vip", "new"}, d.Tags)
	})

	t.Run("Operators", func(t *testing.T) {
		require.NoError(t, reg.AddTags(ctx, []gateway.TagTokenPair{{Tag: "new", Token: "T2"}}))

		and, err := reg.Devices(ctx, dispatch.Filter{Tags: []string{"vip", "new"}, Operator: gateway.OperatorAND})
		require.NoError(t, err)
		require.Len(t, and, 1)
		assert.Equal(t, "T1", and[0].Token)

		or, err := reg.Devices(ctx, dispatch.Filter{Tags: []string{"vip", "new"}, Operator: gateway.OperatorOR})
		require.NoError(t, err)
		assert.Len(t, or, 2)
	})

	t.Run("Unbind cascades tags", func(t *testing.T) {
		require.NoError(t, reg.Unbind(ctx, "user1", "T1"))
		_, err := reg.Lookup(ctx, "T1")
		assert.ErrorIs(t, err, dispatch.ErrDeviceNotFound)

		all, err := reg.Tags(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, all)
	})
}
