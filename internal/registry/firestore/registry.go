package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// DefaultCollection is the root collection holding one document per device.
const DefaultCollection = "push-devices"

// FirestoreRegistry implements dispatch.Registry using Google Cloud Firestore.
type FirestoreRegistry struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreRegistry(client *firestore.Client, collection string) *FirestoreRegistry {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreRegistry{client: client, collection: collection}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Token           string                        `firestore:"token"`
	Account         string                        `firestore:"account"`
	Platform        string                        `firestore:"platform"`
	WebSubscription *dispatch.WebPushSubscription `firestore:"web_subscription,omitempty"`
	Tags            []string                      `firestore:"tags"`
	UpdatedAt       time.Time                     `firestore:"updated_at"`
}

func (r deviceRecord) toDevice() dispatch.Device {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return dispatch.Device{
		Token:     r.Token,
		Account:   r.Account,
		Platform:  dispatch.Platform(r.Platform),
		Web:       r.WebSubscription,
		Tags:      tags,
		UpdatedAt: r.UpdatedAt,
	}
}

// --- Bindings ---

func (s *FirestoreRegistry) Bind(ctx context.Context, account string, device dispatch.Device) error {
	// MergeAll keeps the tags of a token that is re-bound.
	fields := map[string]any{
		"token":            device.Token,
		"account":          account,
		"platform":         string(device.Platform),
		"web_subscription": device.Web,
		"updated_at":       time.Now(),
	}
	if _, err := s.deviceRef(device.Token).Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("firestore bind %s: %w", device.Token, err)
	}
	return nil
}

func (s *FirestoreRegistry) Unbind(ctx context.Context, account, token string) error {
	d, err := s.Lookup(ctx, token)
	if errors.Is(err, dispatch.ErrDeviceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if d.Account != account {
		return nil
	}
	_, err = s.deviceRef(token).Delete(ctx)
	return err
}

func (s *FirestoreRegistry) UnbindAll(ctx context.Context, account string) error {
	iter := s.devices().Where("account", "==", account).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore iteration failed: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("firestore unbind %s: %w", doc.Ref.ID, err)
		}
	}
}

// --- Lookups ---

func (s *FirestoreRegistry) TokensForAccount(ctx context.Context, account string) ([]dispatch.Device, error) {
	out, err := s.collect(s.devices().Where("account", "==", account).Documents(ctx), nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *FirestoreRegistry) Lookup(ctx context.Context, token string) (*dispatch.Device, error) {
	snap, err := s.deviceRef(token).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, dispatch.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore lookup: %w", err)
	}
	var record deviceRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("firestore decode %s: %w", snap.Ref.ID, err)
	}
	d := record.toDevice()
	return &d, nil
}

// --- Tags ---

func (s *FirestoreRegistry) AddTags(ctx context.Context, pairs []gateway.TagTokenPair) error {
	return s.updateTags(ctx, pairs, func(tags ...any) any { return firestore.ArrayUnion(tags...) })
}

func (s *FirestoreRegistry) RemoveTags(ctx context.Context, pairs []gateway.TagTokenPair) error {
	return s.updateTags(ctx, pairs, func(tags ...any) any { return firestore.ArrayRemove(tags...) })
}

func (s *FirestoreRegistry) updateTags(ctx context.Context, pairs []gateway.TagTokenPair, transform func(...any) any) error {
	byToken := make(map[string][]any)
	var order []string
	for _, p := range pairs {
		if _, ok := byToken[p.Token]; !ok {
			order = append(order, p.Token)
		}
		byToken[p.Token] = append(byToken[p.Token], p.Tag)
	}

	for _, token := range order {
		_, err := s.deviceRef(token).Update(ctx, []firestore.Update{
			{Path: "tags", Value: transform(byToken[token]...)},
		})
		// Pairs naming unknown tokens are ignored.
		if status.Code(err) == codes.NotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("firestore tag update %s: %w", token, err)
		}
	}
	return nil
}

func (s *FirestoreRegistry) Devices(ctx context.Context, filter dispatch.Filter) ([]dispatch.Device, error) {
	q := s.devices().Query
	switch {
	case len(filter.Tags) == 0:
	case filter.Operator == gateway.OperatorAND:
		q = q.Where("tags", "array-contains", filter.Tags[0])
	default:
		values := make([]any, len(filter.Tags))
		for i, t := range filter.Tags {
			values[i] = t
		}
		q = q.Where("tags", "array-contains-any", values)
	}

	out, err := s.collect(q.Documents(ctx), func(d dispatch.Device) bool {
		return filter.Matches(d.Tags)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (s *FirestoreRegistry) Tags(ctx context.Context) ([]string, error) {
	devices, err := s.collect(s.devices().Documents(ctx), nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, d := range devices {
		for _, t := range d.Tags {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// --- Helpers ---

func (s *FirestoreRegistry) collect(iter *firestore.DocumentIterator, keep func(dispatch.Device) bool) ([]dispatch.Device, error) {
	defer iter.Stop()

	out := make([]dispatch.Device, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Corrupt rows are skipped.
			continue
		}
		d := record.toDevice()
		if keep == nil || keep(d) {
			out = append(out, d)
		}
	}
}

func (s *FirestoreRegistry) devices() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

// deviceRef: {collection}/{sha256(token)}
func (s *FirestoreRegistry) deviceRef(token string) *firestore.DocumentRef {
	return s.devices().Doc(hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
