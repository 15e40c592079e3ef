package pusher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
	"github.com/tinywideclouds/go-pusher-service/pkg/recipient"
	"github.com/tinywideclouds/go-pusher-service/pkg/tags"
)

func chunkPairs(pairs []gateway.TagTokenPair) [][]gateway.TagTokenPair {
	return tags.Chunk(pairs, gateway.MaxTagPairsPerCall)
}

func (p *Pusher) QueryTagsForDeviceToken(ctx context.Context, token string) ([]string, error) {
	if token == "" {
		return nil, fmt.Errorf("query tags for token: %w: empty token", gateway.ErrInvalidArgument)
	}
	resp, err := p.gw.QueryTagsForToken(ctx, token)
	if err := gateway.Check("query_tags_for_token", resp, err); err != nil {
		return nil, err
	}
	return resp.Strings("tags"), nil
}

// QueryTagsForUser returns the tags of every token of the user, in the
// order the gateway listed the tokens.
func (p *Pusher) QueryTagsForUser(ctx context.Context, user recipient.UserRef) (tags.ObservedTags, error) {
	tokens, err := p.QueryDeviceTokensForUser(ctx, user)
	if err != nil {
		return nil, err
	}

	observed := make(tags.ObservedTags, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency)
	for i, token := range tokens {
		g.Go(func() error {
			tagList, err := p.QueryTagsForDeviceToken(gctx, token)
			if err != nil {
				return err
			}
			observed[i] = tags.TokenTags{Token: token, Tags: tagList}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return observed, nil
}

// AddTags applies pairs in calls of at most gateway.MaxTagPairsPerCall.
func (p *Pusher) AddTags(ctx context.Context, pairs ...gateway.TagTokenPair) error {
	if len(pairs) == 0 {
		return fmt.Errorf("add tags: %w: no pairs", gateway.ErrInvalidArgument)
	}
	return p.applyPairs(ctx, "batch_set_tag", pairs, p.gw.BatchSetTag)
}

// RemoveTags removes pairs in calls of at most gateway.MaxTagPairsPerCall.
func (p *Pusher) RemoveTags(ctx context.Context, pairs ...gateway.TagTokenPair) error {
	if len(pairs) == 0 {
		return fmt.Errorf("remove tags: %w: no pairs", gateway.ErrInvalidArgument)
	}
	return p.applyPairs(ctx, "batch_remove_tag", pairs, p.gw.BatchRemoveTag)
}

func (p *Pusher) AddTagsForDeviceToken(ctx context.Context, token string, tagList ...string) error {
	if token == "" || len(tagList) == 0 {
		return fmt.Errorf("add tags for token: %w: token and tags are required", gateway.ErrInvalidArgument)
	}
	return p.AddTags(ctx, tags.ExpandPairs(tags.Unique(tagList), []string{token})...)
}

func (p *Pusher) RemoveTagsForDeviceToken(ctx context.Context, token string, tagList ...string) error {
	if token == "" || len(tagList) == 0 {
		return fmt.Errorf("remove tags for token: %w: token and tags are required", gateway.ErrInvalidArgument)
	}
	return p.RemoveTags(ctx, tags.ExpandPairs(tags.Unique(tagList), []string{token})...)
}

// AddTagsForUser tags every token of the user. A user without tokens is a no-op.
func (p *Pusher) AddTagsForUser(ctx context.Context, user recipient.UserRef, tagList ...string) error {
	if len(tagList) == 0 {
		return fmt.Errorf("add tags for user: %w: no tags", gateway.ErrInvalidArgument)
	}
	tokens, err := p.QueryDeviceTokensForUser(ctx, user)
	if err != nil || len(tokens) == 0 {
		return err
	}
	return p.AddTags(ctx, tags.ExpandPairs(tags.Unique(tagList), tokens)...)
}

// RemoveTagsForUser untags every token of the user. A user without tokens is a no-op.
func (p *Pusher) RemoveTagsForUser(ctx context.Context, user recipient.UserRef, tagList ...string) error {
	if len(tagList) == 0 {
		return fmt.Errorf("remove tags for user: %w: no tags", gateway.ErrInvalidArgument)
	}
	tokens, err := p.QueryDeviceTokensForUser(ctx, user)
	if err != nil || len(tokens) == 0 {
		return err
	}
	return p.RemoveTags(ctx, tags.ExpandPairs(tags.Unique(tagList), tokens)...)
}

// SetTagsForDeviceToken makes the token's tags exactly tagList.
func (p *Pusher) SetTagsForDeviceToken(ctx context.Context, token string, tagList ...string) error {
	observed, err := p.QueryTagsForDeviceToken(ctx, token)
	if err != nil {
		return err
	}
	plan := tags.ReconcileForToken(tagList, observed, token)
	return p.applyPlan(ctx, "set_tags_for_token", plan.Add, plan.Remove)
}

// SetTagsForUser makes the tags of every token of the user exactly tagList.
// It fails if any add or remove call fails; every call is attempted and the
// *gateway.BatchError names the failed chunks.
func (p *Pusher) SetTagsForUser(ctx context.Context, user recipient.UserRef, tagList ...string) error {
	observed, err := p.QueryTagsForUser(ctx, user)
	if err != nil {
		return err
	}
	plan := tags.ReconcileForMultipleTokens(tagList, observed)
	if plan.Empty() {
		return nil
	}
	return p.applyPlan(ctx, "set_tags_for_user", plan.Add, plan.Remove)
}
