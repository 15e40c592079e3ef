// Package recipient turns caller-supplied user references into canonical
// gateway accounts.
package recipient

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// UserRef identifies a push recipient. It is one of RawID, NumericID or Record.
type UserRef interface {
	userRef()
}

// RawID is a user identifier given as a string. It may already carry the account prefix.
type RawID string

// NumericID is a user identifier given as an integer.
type NumericID int64

// Record is a user-like structure exposing its id.
type Record struct {
	ID string `json:"id"`
}

func (RawID) userRef()     {}
func (NumericID) userRef() {}
func (Record) userRef()    {}

// RawIDs adapts plain strings to user references.
func RawIDs(ids ...string) []UserRef {
	out := make([]UserRef, len(ids))
	for i, id := range ids {
		out[i] = RawID(id)
	}
	return out
}

// ResolveAccount returns prefix+id for user. A RawID that already starts with
// a non-empty prefix is returned unchanged, so resolving is idempotent.
func ResolveAccount(user UserRef, prefix string) string {
	switch u := user.(type) {
	case RawID:
		if prefix != "" && strings.HasPrefix(string(u), prefix) {
			return string(u)
		}
		return prefix + string(u)
	case NumericID:
		return prefix + strconv.FormatInt(int64(u), 10)
	case Record:
		return prefix + u.ID
	case *Record:
		if u == nil {
			return prefix
		}
		return prefix + u.ID
	default:
		return prefix
	}
}

// Validate rejects nil references, which would otherwise resolve to the bare prefix.
func Validate(users ...UserRef) error {
	for i, u := range users {
		if u == nil {
			return fmt.Errorf("%w: user %d is nil", gateway.ErrInvalidArgument, i)
		}
		if r, ok := u.(*Record); ok && r == nil {
			return fmt.Errorf("%w: user %d is nil", gateway.ErrInvalidArgument, i)
		}
	}
	return nil
}

// ResolveAccounts maps ResolveAccount over users, keeping order and duplicates.
func ResolveAccounts(users []UserRef, prefix string) []string {
	accounts := make([]string, len(users))
	for i, u := range users {
		accounts[i] = ResolveAccount(u, prefix)
	}
	return accounts
}

// Resolver carries the configured account prefix.
type Resolver struct {
	Prefix string
}

func (r Resolver) Account(user UserRef) string {
	return ResolveAccount(user, r.Prefix)
}

func (r Resolver) Accounts(users []UserRef) []string {
	return ResolveAccounts(users, r.Prefix)
}
