package hub

import (
	"context"
	"errors"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

func (h *Hub) PushToDevice(ctx context.Context, token string, msg gateway.Message, env gateway.Environment) (resp *gateway.Response, err error) {
	defer h.observe("push_to_device", time.Now(), &resp, &err)

	if token == "" {
		return gateway.Fail(gateway.CodeParamError, "token is required"), nil
	}
	if _, err := h.registry.Lookup(ctx, token); err != nil {
		if errors.Is(err, dispatch.ErrDeviceNotFound) {
			return gateway.Fail(gateway.CodeNotFound, "unknown token %q", token), nil
		}
		return nil, err
	}
	return h.push(ctx, msg, env, h.tokensAudience([]string{token}))
}

func (h *Hub) PushToAll(ctx context.Context, msg gateway.Message, env gateway.Environment) (resp *gateway.Response, err error) {
	defer h.observe("push_to_all", time.Now(), &resp, &err)
	return h.push(ctx, msg, env, h.filterAudience(dispatch.Filter{}))
}

func (h *Hub) PushToAccount(ctx context.Context, account string, msg gateway.Message, env gateway.Environment) (resp *gateway.Response, err error) {
	defer h.observe("push_to_account", time.Now(), &resp, &err)

	if account == "" {
		return gateway.Fail(gateway.CodeParamError, "account is required"), nil
	}
	return h.push(ctx, msg, env, h.accountsAudience([]string{account}))
}

func (h *Hub) PushToAccounts(ctx context.Context, accounts []string, msg gateway.Message, env gateway.Environment) (resp *gateway.Response, err error) {
	defer h.observe("push_to_accounts", time.Now(), &resp, &err)

	if r := checkSize("accounts", len(accounts), gateway.MaxAccountsPerPush); r != nil {
		return r, nil
	}
	return h.push(ctx, msg, env, h.accountsAudience(accounts))
}

func (h *Hub) PushToTags(ctx context.Context, tags []string, op gateway.Operator, msg gateway.Message, env gateway.Environment) (resp *gateway.Response, err error) {
	defer h.observe("push_to_tags", time.Now(), &resp, &err)

	if len(tags) == 0 {
		return gateway.Fail(gateway.CodeParamError, "tags are required"), nil
	}
	if op != gateway.OperatorAND && op != gateway.OperatorOR {
		return gateway.Fail(gateway.CodeParamError, "unknown operator %q", op), nil
	}
	return h.push(ctx, msg, env, h.filterAudience(dispatch.Filter{Tags: tags, Operator: op}))
}

// --- Batches ---

func (h *Hub) CreateBatch(_ context.Context, msg gateway.Message, env gateway.Environment) (resp *gateway.Response, err error) {
	defer h.observe("create_batch", time.Now(), &resp, &err)

	t := h.newTask(msg, env, StatusCreated)
	return gateway.OK(map[string]any{"push_id": t.id}), nil
}

func (h *Hub) PushBatchToAccounts(ctx context.Context, pushID string, accounts []string) (resp *gateway.Response, err error) {
	defer h.observe("push_batch_to_accounts", time.Now(), &resp, &err)

	if r := checkSize("accounts", len(accounts), gateway.MaxBatchRecipients); r != nil {
		return r, nil
	}
	return h.pushBatch(ctx, pushID, h.accountsAudience(accounts))
}

func (h *Hub) PushBatchToDevices(ctx context.Context, pushID string, tokens []string) (resp *gateway.Response, err error) {
	defer h.observe("push_batch_to_devices", time.Now(), &resp, &err)

	if r := checkSize("tokens", len(tokens), gateway.MaxBatchRecipients); r != nil {
		return r, nil
	}
	return h.pushBatch(ctx, pushID, h.tokensAudience(tokens))
}

// pushBatch delivers one recipient slice of a created batch. Slices may run
// concurrently; counters accumulate across them.
func (h *Hub) pushBatch(ctx context.Context, pushID string, resolve resolver) (*gateway.Response, error) {
	t := h.task(pushID)
	if t == nil {
		return gateway.Fail(gateway.CodeNotFound, "unknown push id %q", pushID), nil
	}

	h.mu.Lock()
	status := t.status
	if status != StatusCancelled && status != StatusScheduled {
		t.status = StatusSending
	}
	h.mu.Unlock()
	if status == StatusCancelled || status == StatusScheduled {
		return gateway.Fail(gateway.CodeParamError, "push %s is %s", pushID, status), nil
	}

	if err := h.run(ctx, t, resolve); err != nil {
		return nil, err
	}
	return gateway.OK(h.snapshot(t)), nil
}

func (h *Hub) QueryPushStatus(_ context.Context, pushIDs []string) (resp *gateway.Response, err error) {
	defer h.observe("query_push_status", time.Now(), &resp, &err)

	if len(pushIDs) == 0 {
		return gateway.Fail(gateway.CodeParamError, "push ids are required"), nil
	}
	list := make([]map[string]any, 0, len(pushIDs))
	for _, id := range pushIDs {
		t := h.task(id)
		if t == nil {
			list = append(list, map[string]any{"push_id": id, "status": StatusUnknown, "sent": 0, "failed": 0})
			continue
		}
		list = append(list, h.snapshot(t))
	}
	return gateway.OK(map[string]any{"list": list}), nil
}

func (h *Hub) CancelTimedPush(_ context.Context, pushID string) (resp *gateway.Response, err error) {
	defer h.observe("cancel_timed_push", time.Now(), &resp, &err)

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.tasks[pushID]
	if !ok {
		return gateway.Fail(gateway.CodeNotFound, "unknown push id %q", pushID), nil
	}
	if t.status != StatusScheduled {
		return gateway.Fail(gateway.CodeParamError, "push %s is %s", pushID, t.status), nil
	}
	t.timer.Stop()
	t.status = StatusCancelled
	t.finished = h.now()
	return gateway.OK(map[string]any{"push_id": pushID, "status": StatusCancelled}), nil
}

func checkSize(what string, n, limit int) *gateway.Response {
	if n == 0 {
		return gateway.Fail(gateway.CodeParamError, "%s are required", what)
	}
	if n > limit {
		return gateway.Fail(gateway.CodeParamError, "too many %s: %d > %d", what, n, limit)
	}
	return nil
}
