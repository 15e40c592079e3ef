package pusher

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
	"github.com/tinywideclouds/go-pusher-service/pkg/recipient"
	"github.com/tinywideclouds/go-pusher-service/pkg/tags"
)

// PushStatus is one entry of QueryPushStatus.
type PushStatus struct {
	PushID string
	Status string
	Sent   int
	Failed int
	// Raw is the record as the gateway returned it.
	Raw map[string]any
}

func (p *Pusher) ToDevice(ctx context.Context, msg gateway.Message, token string) (*gateway.Response, error) {
	if token == "" {
		return nil, fmt.Errorf("push to device: %w: empty token", gateway.ErrInvalidArgument)
	}
	resp, err := p.gw.PushToDevice(ctx, token, msg, p.Environment())
	return resp, gateway.Check("push_to_device", resp, err)
}

func (p *Pusher) ToAllDevices(ctx context.Context, msg gateway.Message) (*gateway.Response, error) {
	resp, err := p.gw.PushToAll(ctx, msg, p.Environment())
	return resp, gateway.Check("push_to_all", resp, err)
}

// ToUsers pushes to the accounts of users. A single account is one
// PushToAccount call; more are sent as PushToAccounts calls of at most
// gateway.MaxAccountsPerPush accounts. Responses are in chunk order.
func (p *Pusher) ToUsers(ctx context.Context, msg gateway.Message, users ...recipient.UserRef) ([]*gateway.Response, error) {
	if len(users) == 0 {
		return nil, fmt.Errorf("push to users: %w: no users", gateway.ErrInvalidArgument)
	}
	if err := recipient.Validate(users...); err != nil {
		return nil, fmt.Errorf("push to users: %w", err)
	}
	env := p.Environment()
	accounts := p.AccountsForUsers(users...)

	if len(accounts) == 1 {
		resp, err := p.gw.PushToAccount(ctx, accounts[0], msg, env)
		return []*gateway.Response{resp}, gateway.Check("push_to_account", resp, err)
	}

	const op = "push_to_accounts"
	chunks := tags.Chunk(accounts, gateway.MaxAccountsPerPush)
	responses, failures := runChunks(ctx, p, op, 0, chunks, func(ctx context.Context, chunk []string) (*gateway.Response, error) {
		return p.gw.PushToAccounts(ctx, chunk, msg, env)
	})
	return responses, batchError(op, len(chunks), failures)
}

// ToTags pushes to devices carrying tags. operator is "OR" or "AND" in any
// case; empty means OR.
func (p *Pusher) ToTags(ctx context.Context, msg gateway.Message, operator string, tagList ...string) (*gateway.Response, error) {
	if len(tagList) == 0 {
		return nil, fmt.Errorf("push to tags: %w: no tags", gateway.ErrInvalidArgument)
	}
	op, err := gateway.ParseOperator(operator)
	if err != nil {
		return nil, fmt.Errorf("push to tags: %w", err)
	}
	resp, err := p.gw.PushToTags(ctx, tagList, op, msg, p.Environment())
	return resp, gateway.Check("push_to_tags", resp, err)
}

// CreateBatch registers msg for batch pushing and returns its push id.
func (p *Pusher) CreateBatch(ctx context.Context, msg gateway.Message) (string, error) {
	resp, err := p.gw.CreateBatch(ctx, msg, p.Environment())
	if err := gateway.Check("create_batch", resp, err); err != nil {
		return "", err
	}
	pushID := resp.String("push_id", "")
	if pushID == "" {
		return "", &gateway.GatewayError{Op: "create_batch", Code: gateway.CodeInternal, Message: "missing push_id"}
	}
	return pushID, nil
}

// BatchToUsers pushes a created batch to users in calls of at most
// gateway.MaxBatchRecipients accounts.
func (p *Pusher) BatchToUsers(ctx context.Context, pushID string, users ...recipient.UserRef) ([]*gateway.Response, error) {
	if pushID == "" || len(users) == 0 {
		return nil, fmt.Errorf("batch to users: %w: push id and users are required", gateway.ErrInvalidArgument)
	}
	if err := recipient.Validate(users...); err != nil {
		return nil, fmt.Errorf("batch to users: %w", err)
	}
	const op = "push_batch_to_accounts"
	chunks := tags.Chunk(p.AccountsForUsers(users...), gateway.MaxBatchRecipients)
	responses, failures := runChunks(ctx, p, op, 0, chunks, func(ctx context.Context, chunk []string) (*gateway.Response, error) {
		return p.gw.PushBatchToAccounts(ctx, pushID, chunk)
	})
	return responses, batchError(op, len(chunks), failures)
}

// BatchToDevices pushes a created batch to tokens in calls of at most
// gateway.MaxBatchRecipients tokens.
func (p *Pusher) BatchToDevices(ctx context.Context, pushID string, tokens ...string) ([]*gateway.Response, error) {
	if pushID == "" || len(tokens) == 0 {
		return nil, fmt.Errorf("batch to devices: %w: push id and tokens are required", gateway.ErrInvalidArgument)
	}
	const op = "push_batch_to_devices"
	chunks := tags.Chunk(tokens, gateway.MaxBatchRecipients)
	responses, failures := runChunks(ctx, p, op, 0, chunks, func(ctx context.Context, chunk []string) (*gateway.Response, error) {
		return p.gw.PushBatchToDevices(ctx, pushID, chunk)
	})
	return responses, batchError(op, len(chunks), failures)
}

// QueryPushStatus returns the status of each push keyed by push id.
func (p *Pusher) QueryPushStatus(ctx context.Context, pushIDs ...string) (map[string]PushStatus, error) {
	if len(pushIDs) == 0 {
		return nil, fmt.Errorf("query push status: %w: no push ids", gateway.ErrInvalidArgument)
	}
	resp, err := p.gw.QueryPushStatus(ctx, pushIDs)
	if err := gateway.Check("query_push_status", resp, err); err != nil {
		return nil, err
	}

	out := make(map[string]PushStatus)
	for _, rec := range resp.Records("list") {
		r := gateway.OK(rec)
		st := PushStatus{
			PushID: r.String("push_id", ""),
			Status: r.String("status", ""),
			Sent:   r.Int("sent", 0),
			Failed: r.Int("failed", 0),
			Raw:    rec,
		}
		out[st.PushID] = st
	}
	return out, nil
}

func (p *Pusher) CancelTimedPush(ctx context.Context, pushID string) error {
	if pushID == "" {
		return fmt.Errorf("cancel timed push: %w: empty push id", gateway.ErrInvalidArgument)
	}
	resp, err := p.gw.CancelTimedPush(ctx, pushID)
	return gateway.Check("cancel_timed_push", resp, err)
}
