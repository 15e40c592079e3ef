// Package tags computes the tag/token pairs needed to converge a device's tags
// on a desired set and partitions them under gateway batch ceilings.
//
// Tag sets are ordered, de-duplicated string slices. Every function keeps
// first-occurrence order so its output is reproducible across retries.
package tags

import "github.com/tinywideclouds/go-pusher-service/pkg/gateway"

// TokenTags is the observed tag set of one token.
type TokenTags struct {
	Token string   `json:"token"`
	Tags  []string `json:"tags"`
}

// ObservedTags is the observed state of several tokens. Slice order is the
// iteration order used by ReconcileForMultipleTokens.
type ObservedTags []TokenTags

// Tokens lists the tokens in order.
func (o ObservedTags) Tokens() []string {
	tokens := make([]string, len(o))
	for i, tt := range o {
		tokens[i] = tt.Token
	}
	return tokens
}

// Map converts the observed state into a token -> tags map.
func (o ObservedTags) Map() map[string][]string {
	m := make(map[string][]string, len(o))
	for _, tt := range o {
		m[tt.Token] = tt.Tags
	}
	return m
}

// Plan holds the pairs to add and remove.
type Plan struct {
	Add    []gateway.TagTokenPair
	Remove []gateway.TagTokenPair
}

func (p Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Remove) == 0
}

// Chunks partitions both sides of the plan under maxSize.
func (p Plan) Chunks(maxSize int) (add, remove [][]gateway.TagTokenPair) {
	return Chunk(p.Add, maxSize), Chunk(p.Remove, maxSize)
}

// Unique de-duplicates a tag list, keeping first occurrences.
func Unique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Difference returns the elements of a not in b.
func Difference(a, b []string) []string {
	exclude := make(map[string]struct{}, len(b))
	for _, s := range b {
		exclude[s] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, s := range Unique(a) {
		if _, ok := exclude[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// DiffTags returns desired-observed and observed-desired. The two results are
// disjoint, so applying them in either order turns observed into desired.
func DiffTags(desired, observed []string) (toAdd, toRemove []string) {
	return Difference(desired, observed), Difference(observed, desired)
}

// ExpandPairs is the cartesian product of tags and tokens, tags outer.
func ExpandPairs(tags, tokens []string) []gateway.TagTokenPair {
	pairs := make([]gateway.TagTokenPair, 0, len(tags)*len(tokens))
	for _, tag := range tags {
		for _, token := range tokens {
			pairs = append(pairs, gateway.TagTokenPair{Tag: tag, Token: token})
		}
	}
	return pairs
}

// ReconcileForToken plans the pairs that turn observed into desired on token.
func ReconcileForToken(desired, observed []string, token string) Plan {
	toAdd, toRemove := DiffTags(desired, observed)
	tokens := []string{token}
	return Plan{
		Add:    ExpandPairs(toAdd, tokens),
		Remove: ExpandPairs(toRemove, tokens),
	}
}

// ReconcileForMultipleTokens concatenates the per-token plans in observed order.
func ReconcileForMultipleTokens(desired []string, observed ObservedTags) Plan {
	var plan Plan
	for _, tt := range observed {
		p := ReconcileForToken(desired, tt.Tags, tt.Token)
		plan.Add = append(plan.Add, p.Add...)
		plan.Remove = append(plan.Remove, p.Remove...)
	}
	return plan
}
