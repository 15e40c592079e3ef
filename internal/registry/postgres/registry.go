// Package postgres implements dispatch.Registry on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
	"github.com/tinywideclouds/go-pusher-service/pkg/tags"
)

//go:embed schema.sql
var schema string

// Registry is the PostgreSQL implementation of dispatch.Registry.
type Registry struct {
	pool *pgxpool.Pool
}

// New creates a new postgres Registry.
func New(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply registry schema: %w", err)
	}
	return nil
}

func (r *Registry) Bind(ctx context.Context, account string, device dispatch.Device) error {
	var web []byte
	if device.Web != nil {
		web, _ = json.Marshal(device.Web)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO push_devices (token, account, platform, web_subscription, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (token) DO UPDATE
		SET account = EXCLUDED.account,
		    platform = EXCLUDED.platform,
		    web_subscription = EXCLUDED.web_subscription,
		    updated_at = EXCLUDED.updated_at
	`, device.Token, account, string(device.Platform), web)
	if err != nil {
		return fmt.Errorf("bind device: %w", err)
	}
	return nil
}

func (r *Registry) Unbind(ctx context.Context, account, token string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM push_devices WHERE token = $1 AND account = $2`, token, account); err != nil {
		return fmt.Errorf("unbind device: %w", err)
	}
	return nil
}

func (r *Registry) UnbindAll(ctx context.Context, account string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM push_devices WHERE account = $1`, account); err != nil {
		return fmt.Errorf("unbind account: %w", err)
	}
	return nil
}

func (r *Registry) TokensForAccount(ctx context.Context, account string) ([]dispatch.Device, error) {
	return r.queryDevices(ctx, `
		SELECT token, account, platform, web_subscription, updated_at
		FROM push_devices WHERE account = $1
		ORDER BY updated_at, token
	`, account)
}

func (r *Registry) Lookup(ctx context.Context, token string) (*dispatch.Device, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT token, account, platform, web_subscription, updated_at
		FROM push_devices WHERE token = $1
	`, token)
	d, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dispatch.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	devices := []dispatch.Device{*d}
	if err := r.attachTags(ctx, devices); err != nil {
		return nil, err
	}
	return &devices[0], nil
}

func (r *Registry) AddTags(ctx context.Context, pairs []gateway.TagTokenPair) error {
	// The EXISTS guard skips pairs naming unknown tokens instead of failing the FK.
	return r.execPairs(ctx, `
		INSERT INTO push_device_tags (token, tag)
		SELECT $1::text, $2::text WHERE EXISTS (SELECT 1 FROM push_devices WHERE token = $1::text)
		ON CONFLICT (token, tag) DO NOTHING
	`, pairs)
}

func (r *Registry) RemoveTags(ctx context.Context, pairs []gateway.TagTokenPair) error {
	return r.execPairs(ctx, `DELETE FROM push_device_tags WHERE token = $1 AND tag = $2`, pairs)
}

func (r *Registry) Devices(ctx context.Context, filter dispatch.Filter) ([]dispatch.Device, error) {
	const cols = `SELECT token, account, platform, web_subscription, updated_at FROM push_devices`
	switch {
	case len(filter.Tags) == 0:
		return r.queryDevices(ctx, cols+` ORDER BY token`)
	case filter.Operator == gateway.OperatorAND:
		return r.queryDevices(ctx, cols+`
			WHERE token IN (
				SELECT token FROM push_device_tags WHERE tag = ANY($1)
				GROUP BY token HAVING count(DISTINCT tag) = $2
			) ORDER BY token`, filter.Tags, len(tags.Unique(filter.Tags)))
	default:
		return r.queryDevices(ctx, cols+`
			WHERE token IN (SELECT token FROM push_device_tags WHERE tag = ANY($1))
			ORDER BY token`, filter.Tags)
	}
}

func (r *Registry) Tags(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tag FROM push_device_tags ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (r *Registry) execPairs(ctx context.Context, query string, pairs []gateway.TagTokenPair) error {
	if len(pairs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pairs {
		batch.Queue(query, p.Token, p.Tag)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pairs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("tag batch: %w", err)
		}
	}
	return nil
}

func (r *Registry) queryDevices(ctx context.Context, query string, args ...any) ([]dispatch.Device, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	devices := make([]dispatch.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	if err := r.attachTags(ctx, devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *Registry) attachTags(ctx context.Context, devices []dispatch.Device) error {
	if len(devices) == 0 {
		return nil
	}
	index := make(map[string]int, len(devices))
	tokens := make([]string, len(devices))
	for i := range devices {
		devices[i].Tags = []string{}
		index[devices[i].Token] = i
		tokens[i] = devices[i].Token
	}

	rows, err := r.pool.Query(ctx, `SELECT token, tag FROM push_device_tags WHERE token = ANY($1) ORDER BY id`, tokens)
	if err != nil {
		return fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var token, tag string
		if err := rows.Scan(&token, &tag); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if i, ok := index[token]; ok {
			devices[i].Tags = append(devices[i].Tags, tag)
		}
	}
	return rows.Err()
}

func scanDevice(row pgx.Row) (*dispatch.Device, error) {
	var (
		d         dispatch.Device
		platform  string
		web       []byte
		updatedAt time.Time
	)
	if err := row.Scan(&d.Token, &d.Account, &platform, &web, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	d.Platform = dispatch.Platform(platform)
	d.UpdatedAt = updatedAt
	if len(web) > 0 {
		var sub dispatch.WebPushSubscription
		if err := json.Unmarshal(web, &sub); err == nil {
			d.Web = &sub
		}
	}
	return &d, nil
}
