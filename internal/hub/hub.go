// Package hub is a self-hosted push gateway. It keeps devices and tags in a
// dispatch.Registry and delivers through one dispatch.Sender per platform.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-pusher-service/internal/metrics"
	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// Push task states reported by QueryPushStatus.
const (
	StatusCreated   = "created"
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
	StatusUnknown   = "unknown"
)

// DefaultTagPageSize is used by QueryTags when limit is zero.
const DefaultTagPageSize = 100

// DefaultTaskRetention is how long finished tasks stay queryable.
const DefaultTaskRetention = 24 * time.Hour

type task struct {
	id       string
	msg      gateway.Message
	env      gateway.Environment
	status   string
	sent     int
	failed   int
	timer    *time.Timer
	finished time.Time
}

// Hub implements gateway.Gateway.
type Hub struct {
	registry  dispatch.Registry
	senders   map[dispatch.Platform]dispatch.Sender
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time
	newID     func() string

	mu    sync.Mutex
	tasks map[string]*task
}

type Option func(*Hub)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithIDGenerator replaces the uuid push id generator.
func WithIDGenerator(gen func() string) Option {
	return func(h *Hub) { h.newID = gen }
}

func WithTaskRetention(d time.Duration) Option {
	return func(h *Hub) { h.retention = d }
}

func New(registry dispatch.Registry, senders map[dispatch.Platform]dispatch.Sender, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		registry:  registry,
		senders:   senders,
		logger:    logger.With("component", "hub"),
		retention: DefaultTaskRetention,
		now:       time.Now,
		newID:     uuid.NewString,
		tasks:     make(map[string]*task),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close cancels every scheduled push that has not fired yet.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.tasks {
		if t.status == StatusScheduled {
			t.timer.Stop()
			t.status = StatusCancelled
			t.finished = h.now()
		}
	}
}

// --- Tasks ---

func (h *Hub) newTask(msg gateway.Message, env gateway.Environment, status string) *task {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addTaskLocked(msg, env, status)
}

func (h *Hub) addTaskLocked(msg gateway.Message, env gateway.Environment, status string) *task {
	h.sweepLocked()
	t := &task{id: h.newID(), msg: msg, env: env, status: status}
	h.tasks[t.id] = t
	return t
}

func (h *Hub) task(id string) *task {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tasks[id]
}

// sweepLocked drops finished tasks older than the retention window.
func (h *Hub) sweepLocked() {
	if h.retention <= 0 {
		return
	}
	cutoff := h.now().Add(-h.retention)
	for id, t := range h.tasks {
		if !t.finished.IsZero() && t.finished.Before(cutoff) {
			delete(h.tasks, id)
		}
	}
}

func (h *Hub) finish(t *task, status string, sent, failed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.status = status
	t.sent += sent
	t.failed += failed
	t.finished = h.now()
}

func (h *Hub) snapshot(t *task) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"push_id": t.id,
		"status":  t.status,
		"sent":    t.sent,
		"failed":  t.failed,
	}
}

// --- Delivery ---

// resolver yields the audience of a push when it is delivered.
type resolver func(ctx context.Context) ([]dispatch.Device, error)

// push delivers now or, for a future SendTime, schedules the delivery.
func (h *Hub) push(ctx context.Context, msg gateway.Message, env gateway.Environment, resolve resolver) (*gateway.Response, error) {
	if !msg.SendTime.IsZero() {
		if delay := msg.SendTime.Sub(h.now()); delay > 0 {
			t := h.schedule(msg, env, delay, resolve)
			return gateway.OK(h.snapshot(t)), nil
		}
	}
	t := h.newTask(msg, env, StatusSending)
	if err := h.run(ctx, t, resolve); err != nil {
		return nil, err
	}
	return gateway.OK(h.snapshot(t)), nil
}

// schedule registers a scheduled task with its timer already armed, so
// CancelTimedPush and Close always find a stoppable timer.
func (h *Hub) schedule(msg gateway.Message, env gateway.Environment, delay time.Duration, resolve resolver) *task {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.addTaskLocked(msg, env, StatusScheduled)
	t.timer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		if t.status != StatusScheduled {
			h.mu.Unlock()
			return
		}
		t.status = StatusSending
		h.mu.Unlock()

		if err := h.run(context.Background(), t, resolve); err != nil {
			h.logger.Error("Scheduled push failed", "push_id", t.id, "err", err)
		}
	})
	return t
}

func (h *Hub) run(ctx context.Context, t *task, resolve resolver) error {
	devices, err := resolve(ctx)
	if err != nil {
		h.finish(t, StatusFailed, 0, 0)
		return err
	}
	sent, failed := h.deliver(ctx, t.msg, t.env, devices)
	h.finish(t, StatusDone, sent, failed)
	return nil
}

// deliver groups devices by platform and hands each group to its sender.
// Tokens the platform reports as invalid are unbound.
func (h *Hub) deliver(ctx context.Context, msg gateway.Message, env gateway.Environment, devices []dispatch.Device) (sent, failed int) {
	groups := make(map[dispatch.Platform][]dispatch.Device)
	var order []dispatch.Platform
	for _, d := range devices {
		if _, ok := groups[d.Platform]; !ok {
			order = append(order, d.Platform)
		}
		groups[d.Platform] = append(groups[d.Platform], d)
	}

	for _, p := range order {
		group := groups[p]
		sender, ok := h.senders[p]
		if !ok {
			h.logger.Warn("No sender configured for platform", "platform", p, "devices", len(group))
			failed += len(group)
			metrics.ObserveDeliveries(string(p), 0, len(group))
			continue
		}

		receipt, err := sender.Send(ctx, group, msg, env)
		groupFailed := receipt.Failed
		if err != nil {
			h.logger.Error("Sender failed", "platform", p, "devices", len(group), "err", err)
			groupFailed = len(group) - receipt.Sent
		}
		sent += receipt.Sent
		failed += groupFailed
		metrics.ObserveDeliveries(string(p), receipt.Sent, groupFailed)

		h.prune(ctx, p, group, receipt.Invalid)
	}
	return sent, failed
}

func (h *Hub) prune(ctx context.Context, p dispatch.Platform, group []dispatch.Device, invalid []string) {
	if len(invalid) == 0 {
		return
	}
	owners := make(map[string]string, len(group))
	for _, d := range group {
		owners[d.Token] = d.Account
	}
	pruned := 0
	for _, token := range invalid {
		account, ok := owners[token]
		if !ok {
			continue
		}
		if err := h.registry.Unbind(ctx, account, token); err != nil {
			h.logger.Warn("Failed to unbind invalid token", "platform", p, "err", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		h.logger.Info("Unbound invalid tokens", "platform", p, "count", pruned)
		metrics.ObservePruned(string(p), pruned)
	}
}

// --- Audiences ---

func (h *Hub) accountsAudience(accounts []string) resolver {
	return func(ctx context.Context) ([]dispatch.Device, error) {
		var out []dispatch.Device
		for _, account := range accounts {
			devices, err := h.registry.TokensForAccount(ctx, account)
			if err != nil {
				return nil, err
			}
			out = append(out, devices...)
		}
		return out, nil
	}
}

func (h *Hub) tokensAudience(tokens []string) resolver {
	return func(ctx context.Context) ([]dispatch.Device, error) {
		seen := make(map[string]struct{}, len(tokens))
		var out []dispatch.Device
		for _, token := range tokens {
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			d, err := h.registry.Lookup(ctx, token)
			if errors.Is(err, dispatch.ErrDeviceNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, *d)
		}
		return out, nil
	}
}

func (h *Hub) filterAudience(filter dispatch.Filter) resolver {
	return func(ctx context.Context) ([]dispatch.Device, error) {
		return h.registry.Devices(ctx, filter)
	}
}

// observe records the outcome of one gateway call.
func (h *Hub) observe(op string, start time.Time, resp **gateway.Response, err *error) {
	outcome := metrics.OutcomeOK
	switch {
	case *err != nil:
		outcome = metrics.OutcomeError
	case !(*resp).Succeeded():
		outcome = metrics.OutcomeRejected
	}
	metrics.ObserveGatewayCall(op, outcome, time.Since(start))
}
