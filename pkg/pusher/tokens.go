package pusher

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
	"github.com/tinywideclouds/go-pusher-service/pkg/recipient"
	"github.com/tinywideclouds/go-pusher-service/pkg/tags"
)

// TagPage is one page of QueryTags.
type TagPage struct {
	Total int
	Tags  []string
}

func (p *Pusher) QueryDeviceTokensForUser(ctx context.Context, user recipient.UserRef) ([]string, error) {
	if err := recipient.Validate(user); err != nil {
		return nil, fmt.Errorf("query tokens for user: %w", err)
	}
	resp, err := p.gw.QueryTokensForAccount(ctx, p.AccountForUser(user))
	if err := gateway.Check("query_tokens_for_account", resp, err); err != nil {
		return nil, err
	}
	return resp.Strings("tokens"), nil
}

// DeleteDeviceTokensForUser unbinds tokens from the user's account. Without
// tokens every token of the account is removed. Each distinct token is one
// call; all are attempted.
func (p *Pusher) DeleteDeviceTokensForUser(ctx context.Context, user recipient.UserRef, tokens ...string) error {
	if err := recipient.Validate(user); err != nil {
		return fmt.Errorf("delete tokens for user: %w", err)
	}
	account := p.AccountForUser(user)
	if len(tokens) == 0 {
		resp, err := p.gw.DeleteAllTokensOfAccount(ctx, account)
		return gateway.Check("delete_all_tokens_of_account", resp, err)
	}

	const op = "delete_token_of_account"
	chunks := tags.Chunk(tags.Unique(tokens), 1)
	_, failures := runChunks(ctx, p, op, 0, chunks, func(ctx context.Context, chunk []string) (*gateway.Response, error) {
		return p.gw.DeleteTokenOfAccount(ctx, account, chunk[0])
	})
	return batchError(op, len(chunks), failures)
}

func (p *Pusher) QueryCountOfDevices(ctx context.Context) (int, error) {
	resp, err := p.gw.QueryDeviceCount(ctx)
	if err := gateway.Check("query_device_count", resp, err); err != nil {
		return 0, err
	}
	return resp.Int("device_num", 0), nil
}

// QueryDeviceTokenInfo returns the gateway's record for token.
func (p *Pusher) QueryDeviceTokenInfo(ctx context.Context, token string) (map[string]any, error) {
	if token == "" {
		return nil, fmt.Errorf("query token info: %w: empty token", gateway.ErrInvalidArgument)
	}
	resp, err := p.gw.QueryTokenInfo(ctx, token)
	if err := gateway.Check("query_token_info", resp, err); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return map[string]any{}, nil
	}
	return resp.Result, nil
}

func (p *Pusher) QueryCountOfDeviceTokensForTag(ctx context.Context, tag string) (int, error) {
	if tag == "" {
		return 0, fmt.Errorf("query tag token count: %w: empty tag", gateway.ErrInvalidArgument)
	}
	resp, err := p.gw.QueryTagTokenCount(ctx, tag)
	if err := gateway.Check("query_tag_token_count", resp, err); err != nil {
		return 0, err
	}
	return resp.Int("device_num", 0), nil
}

// QueryTags pages the known tags. A zero limit lets the gateway choose.
func (p *Pusher) QueryTags(ctx context.Context, start, limit int) (TagPage, error) {
	if start < 0 || limit < 0 {
		return TagPage{}, fmt.Errorf("query tags: %w: negative start or limit", gateway.ErrInvalidArgument)
	}
	resp, err := p.gw.QueryTags(ctx, start, limit)
	if err := gateway.Check("query_tags", resp, err); err != nil {
		return TagPage{}, err
	}
	page := TagPage{Tags: resp.Strings("tags")}
	page.Total = resp.Int("total", len(page.Tags))
	return page, nil
}
