package recipient

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// NormalizeArgs reads a list starting at args[offset]. A []T at offset is the
// whole list and any arguments after it are ignored; otherwise every argument
// from offset on is one element. Both fn([]string{"a","b"}) and fn("a","b")
// therefore yield ["a","b"].
func NormalizeArgs[T any](args []any, offset int) ([]T, error) {
	if offset < 0 || offset >= len(args) {
		return nil, fmt.Errorf("%w: no argument at position %d", gateway.ErrInvalidArgument, offset)
	}
	if list, ok := args[offset].([]T); ok {
		out := make([]T, len(list))
		copy(out, list)
		return out, nil
	}

	out := make([]T, 0, len(args)-offset)
	for i := offset; i < len(args); i++ {
		v, ok := args[i].(T)
		if !ok {
			return nil, fmt.Errorf("%w: argument %d has type %T", gateway.ErrInvalidArgument, i, args[i])
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseUser converts a decoded JSON value into a UserRef: strings become
// RawID, integral numbers NumericID, and objects with an "id" field Record.
func ParseUser(v any) (UserRef, error) {
	switch u := v.(type) {
	case UserRef:
		return u, nil
	case string:
		if u == "" {
			return nil, fmt.Errorf("%w: empty user id", gateway.ErrInvalidArgument)
		}
		return RawID(u), nil
	case int:
		return NumericID(u), nil
	case int64:
		return NumericID(u), nil
	case float64:
		if u != math.Trunc(u) {
			return nil, fmt.Errorf("%w: user id %v is not an integer", gateway.ErrInvalidArgument, u)
		}
		return NumericID(int64(u)), nil
	case json.Number:
		if i, err := u.Int64(); err == nil {
			return NumericID(i), nil
		}
		return RawID(u.String()), nil
	case map[string]any:
		id, ok := u["id"]
		if !ok || id == nil {
			return nil, fmt.Errorf("%w: user record has no id", gateway.ErrInvalidArgument)
		}
		return Record{ID: scalarString(id)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported user reference %T", gateway.ErrInvalidArgument, v)
	}
}

// ParseUsers applies NormalizeArgs and ParseUser to dynamically shaped input.
func ParseUsers(args []any, offset int) ([]UserRef, error) {
	values, err := NormalizeArgs[any](args, offset)
	if err != nil {
		return nil, err
	}
	users := make([]UserRef, 0, len(values))
	for _, v := range values {
		u, err := ParseUser(v)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
