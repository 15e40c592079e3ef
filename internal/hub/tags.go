package hub

import (
	"context"
	"errors"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

func (h *Hub) BatchSetTag(ctx context.Context, pairs []gateway.TagTokenPair) (resp *gateway.Response, err error) {
	defer h.observe("batch_set_tag", time.Now(), &resp, &err)

	if r := checkPairs(pairs); r != nil {
		return r, nil
	}
	if err := h.registry.AddTags(ctx, pairs); err != nil {
		return nil, err
	}
	return gateway.OK(nil), nil
}

func (h *Hub) BatchRemoveTag(ctx context.Context, pairs []gateway.TagTokenPair) (resp *gateway.Response, err error) {
	defer h.observe("batch_remove_tag", time.Now(), &resp, &err)

	if r := checkPairs(pairs); r != nil {
		return r, nil
	}
	if err := h.registry.RemoveTags(ctx, pairs); err != nil {
		return nil, err
	}
	return gateway.OK(nil), nil
}

func (h *Hub) QueryTagsForToken(ctx context.Context, token string) (resp *gateway.Response, err error) {
	defer h.observe("query_tags_for_token", time.Now(), &resp, &err)

	d, r, err := h.lookup(ctx, token)
	if d == nil {
		return r, err
	}
	return gateway.OK(map[string]any{"tags": d.Tags}), nil
}

func (h *Hub) QueryTokensForAccount(ctx context.Context, account string) (resp *gateway.Response, err error) {
	defer h.observe("query_tokens_for_account", time.Now(), &resp, &err)

	if account == "" {
		return gateway.Fail(gateway.CodeParamError, "account is required"), nil
	}
	devices, err := h.registry.TokensForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	return gateway.OK(map[string]any{"tokens": dispatch.Tokens(devices)}), nil
}

func (h *Hub) DeleteTokenOfAccount(ctx context.Context, account, token string) (resp *gateway.Response, err error) {
	defer h.observe("delete_token_of_account", time.Now(), &resp, &err)

	if account == "" || token == "" {
		return gateway.Fail(gateway.CodeParamError, "account and token are required"), nil
	}
	if err := h.registry.Unbind(ctx, account, token); err != nil {
		return nil, err
	}
	return gateway.OK(nil), nil
}

func (h *Hub) DeleteAllTokensOfAccount(ctx context.Context, account string) (resp *gateway.Response, err error) {
	defer h.observe("delete_all_tokens_of_account", time.Now(), &resp, &err)

	if account == "" {
		return gateway.Fail(gateway.CodeParamError, "account is required"), nil
	}
	if err := h.registry.UnbindAll(ctx, account); err != nil {
		return nil, err
	}
	return gateway.OK(nil), nil
}

func (h *Hub) QueryDeviceCount(ctx context.Context) (resp *gateway.Response, err error) {
	defer h.observe("query_device_count", time.Now(), &resp, &err)

	devices, err := h.registry.Devices(ctx, dispatch.Filter{})
	if err != nil {
		return nil, err
	}
	return gateway.OK(map[string]any{"device_num": len(devices)}), nil
}

func (h *Hub) QueryTokenInfo(ctx context.Context, token string) (resp *gateway.Response, err error) {
	defer h.observe("query_token_info", time.Now(), &resp, &err)

	d, r, err := h.lookup(ctx, token)
	if d == nil {
		return r, err
	}
	return gateway.OK(map[string]any{
		"token":      d.Token,
		"account":    d.Account,
		"platform":   string(d.Platform),
		"tags":       d.Tags,
		"updated_at": d.UpdatedAt.UTC().Format(time.RFC3339),
	}), nil
}

func (h *Hub) QueryTagTokenCount(ctx context.Context, tag string) (resp *gateway.Response, err error) {
	defer h.observe("query_tag_token_count", time.Now(), &resp, &err)

	if tag == "" {
		return gateway.Fail(gateway.CodeParamError, "tag is required"), nil
	}
	devices, err := h.registry.Devices(ctx, dispatch.Filter{Tags: []string{tag}})
	if err != nil {
		return nil, err
	}
	return gateway.OK(map[string]any{"device_num": len(devices)}), nil
}

func (h *Hub) QueryTags(ctx context.Context, start, limit int) (resp *gateway.Response, err error) {
	defer h.observe("query_tags", time.Now(), &resp, &err)

	if start < 0 || limit < 0 {
		return gateway.Fail(gateway.CodeParamError, "start and limit must not be negative"), nil
	}
	if limit == 0 {
		limit = DefaultTagPageSize
	}
	all, err := h.registry.Tags(ctx)
	if err != nil {
		return nil, err
	}
	page := []string{}
	if start < len(all) {
		page = all[start:min(start+limit, len(all))]
	}
	return gateway.OK(map[string]any{"total": len(all), "tags": page}), nil
}

// lookup returns the device, or the rejection to answer when there is none.
func (h *Hub) lookup(ctx context.Context, token string) (*dispatch.Device, *gateway.Response, error) {
	if token == "" {
		return nil, gateway.Fail(gateway.CodeParamError, "token is required"), nil
	}
	d, err := h.registry.Lookup(ctx, token)
	if errors.Is(err, dispatch.ErrDeviceNotFound) {
		return nil, gateway.Fail(gateway.CodeNotFound, "unknown token %q", token), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return d, nil, nil
}

func checkPairs(pairs []gateway.TagTokenPair) *gateway.Response {
	if r := checkSize("pairs", len(pairs), gateway.MaxTagPairsPerCall); r != nil {
		return r
	}
	for _, p := range pairs {
		if p.Tag == "" || p.Token == "" {
			return gateway.Fail(gateway.CodeParamError, "invalid pair %s", p)
		}
	}
	return nil
}
