// Package dispatch contains the contracts used by the local push gateway:
// per-platform senders and the device/tag registry.
package dispatch

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// ErrDeviceNotFound is returned by Registry.Lookup for unknown tokens.
var ErrDeviceNotFound = errors.New("device not found")

// Platform identifies the delivery channel of a device.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, bool) {
	switch p := Platform(s); p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return p, true
	default:
		return "", false
	}
}

// WebPushSubscription is the browser subscription object of a web device.
type WebPushSubscription struct {
	Endpoint string `json:"endpoint" firestore:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh" firestore:"p256dh"`
		Auth   string `json:"auth" firestore:"auth"`
	} `json:"keys" firestore:"keys"`
}

// Device is a registered app installation.
type Device struct {
	Token     string               `json:"token"`
	Account   string               `json:"account,omitempty"`
	Platform  Platform             `json:"platform"`
	Web       *WebPushSubscription `json:"web_subscription,omitempty"`
	Tags      []string             `json:"tags"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Receipt summarizes one Send call.
type Receipt struct {
	Sent   int
	Failed int
	// Invalid lists tokens the platform reported as dead. They should be unbound.
	Invalid []string
}

// Sender delivers a message to devices of a single platform.
type Sender interface {
	Send(ctx context.Context, devices []Device, msg gateway.Message, env gateway.Environment) (Receipt, error)
}

// Filter selects devices by tags. An empty filter selects every device.
type Filter struct {
	Tags     []string
	Operator gateway.Operator
}

// Matches reports whether a device carrying tags is selected by the filter.
func (f Filter) Matches(tags []string) bool {
	if len(f.Tags) == 0 {
		return true
	}
	if f.Operator == gateway.OperatorAND {
		for _, t := range f.Tags {
			if !slices.Contains(tags, t) {
				return false
			}
		}
		return true
	}
	for _, t := range f.Tags {
		if slices.Contains(tags, t) {
			return true
		}
	}
	return false
}

// Registry is the system of record for devices, their accounts and their tags.
type Registry interface {
	// Bind registers the device under account, replacing any previous binding of its token.
	// Existing tags of the token are kept.
	Bind(ctx context.Context, account string, device Device) error
	// Unbind removes the token from account. Unknown tokens are not an error.
	Unbind(ctx context.Context, account, token string) error
	// UnbindAll removes every token of account.
	UnbindAll(ctx context.Context, account string) error
	// TokensForAccount lists the devices of account, oldest binding first.
	TokensForAccount(ctx context.Context, account string) ([]Device, error)
	// Lookup returns the device for token or ErrDeviceNotFound.
	Lookup(ctx context.Context, token string) (*Device, error)

	// AddTags applies the pairs. Pairs naming unknown tokens are ignored.
	AddTags(ctx context.Context, pairs []gateway.TagTokenPair) error
	// RemoveTags removes the pairs. Missing pairs are ignored.
	RemoveTags(ctx context.Context, pairs []gateway.TagTokenPair) error

	// Devices lists the devices matching filter, ordered by token.
	Devices(ctx context.Context, filter Filter) ([]Device, error)
	// Tags lists every distinct tag in use, sorted.
	Tags(ctx context.Context) ([]string, error)
}
