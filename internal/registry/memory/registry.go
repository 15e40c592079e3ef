// Package memory provides an in-process dispatch.Registry for local runs and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

type Registry struct {
	mu      sync.RWMutex
	devices map[string]*dispatch.Device
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		devices: make(map[string]*dispatch.Device),
		now:     time.Now,
	}
}

func (r *Registry) Bind(_ context.Context, account string, device dispatch.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := device
	stored.Account = account
	stored.UpdatedAt = r.now()
	if existing, ok := r.devices[device.Token]; ok {
		stored.Tags = slices.Clone(existing.Tags)
	} else {
		stored.Tags = []string{}
	}
	r.devices[device.Token] = &stored
	return nil
}

func (r *Registry) Unbind(_ context.Context, account, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[token]; ok && d.Account == account {
		delete(r.devices, token)
	}
	return nil
}

func (r *Registry) UnbindAll(_ context.Context, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, d := range r.devices {
		if d.Account == account {
			delete(r.devices, token)
		}
	}
	return nil
}

func (r *Registry) TokensForAccount(_ context.Context, account string) ([]dispatch.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []dispatch.Device
	for _, d := range r.devices {
		if d.Account == account {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *Registry) Lookup(_ context.Context, token string) (*dispatch.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[token]
	if !ok {
		return nil, dispatch.ErrDeviceNotFound
	}
	c := clone(d)
	return &c, nil
}

func (r *Registry) AddTags(_ context.Context, pairs []gateway.TagTokenPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range pairs {
		d, ok := r.devices[p.Token]
		if !ok || slices.Contains(d.Tags, p.Tag) {
			continue
		}
		d.Tags = append(d.Tags, p.Tag)
	}
	return nil
}

func (r *Registry) RemoveTags(_ context.Context, pairs []gateway.TagTokenPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range pairs {
		d, ok := r.devices[p.Token]
		if !ok {
			continue
		}
		d.Tags = slices.DeleteFunc(d.Tags, func(tag string) bool { return tag == p.Tag })
	}
	return nil
}

func (r *Registry) Devices(_ context.Context, filter dispatch.Filter) ([]dispatch.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]dispatch.Device, 0, len(r.devices))
	for _, d := range r.devices {
		if filter.Matches(d.Tags) {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (r *Registry) Tags(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, d := range r.devices {
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

func clone(d *dispatch.Device) dispatch.Device {
	c := *d
	c.Tags = slices.Clone(d.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if d.Web != nil {
		w := *d.Web
		c.Web = &w
	}
	return c
}
