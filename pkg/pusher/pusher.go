// Package pusher is the convenience layer over a push gateway: it resolves
// users to accounts, reconciles tags and splits work under the gateway's
// ceilings.
package pusher

import (
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
	"github.com/tinywideclouds/go-pusher-service/pkg/recipient"
)

const (
	DefaultAccountPrefix = "user"
	DefaultCustomKey     = "custom"
)

// Options configures a Pusher. Zero values are used as given; callers that
// want the conventional prefix and key pass DefaultAccountPrefix and
// DefaultCustomKey.
type Options struct {
	AccountPrefix string
	// CustomKey wraps custom message data under one key. Empty sends the data as is.
	CustomKey   string
	Environment gateway.Environment
	// MaxConcurrency bounds parallel chunk calls. Values below 1 mean sequential.
	MaxConcurrency int
}

type Pusher struct {
	gw             gateway.Gateway
	resolver       recipient.Resolver
	customKey      string
	maxConcurrency int
	logger         *slog.Logger

	mu  sync.RWMutex
	env gateway.Environment
}

func New(gw gateway.Gateway, opts Options, logger *slog.Logger) *Pusher {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Pusher{
		gw:             gw,
		resolver:       recipient.Resolver{Prefix: opts.AccountPrefix},
		customKey:      opts.CustomKey,
		maxConcurrency: opts.MaxConcurrency,
		env:            opts.Environment,
		logger:         logger.With("component", "pusher"),
	}
}

// Gateway exposes the underlying gateway for calls the Pusher does not wrap.
func (p *Pusher) Gateway() gateway.Gateway {
	return p.gw
}

func (p *Pusher) Environment() gateway.Environment {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.env
}

func (p *Pusher) SetEnvironment(env gateway.Environment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.env = env
}

func (p *Pusher) AccountPrefix() string {
	return p.resolver.Prefix
}

func (p *Pusher) CustomKey() string {
	return p.customKey
}

// AccountForUser returns the gateway account of user.
func (p *Pusher) AccountForUser(user recipient.UserRef) string {
	return p.resolver.Account(user)
}

// AccountsForUsers maps users to accounts in order, keeping duplicates.
func (p *Pusher) AccountsForUsers(users ...recipient.UserRef) []string {
	return p.resolver.Accounts(users)
}
