package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Environment selects the APNs environment for iOS deliveries.
type Environment int

const (
	// EnvUnspecified is used for Android-only pushes.
	EnvUnspecified Environment = 0
	EnvProduction  Environment = 1
	EnvDevelopment Environment = 2
)

// ParseEnvironment maps "production" to EnvProduction and anything else to EnvDevelopment.
func ParseEnvironment(s string) Environment {
	if strings.EqualFold(strings.TrimSpace(s), "production") {
		return EnvProduction
	}
	return EnvDevelopment
}

func (e Environment) String() string {
	switch e {
	case EnvProduction:
		return "production"
	case EnvDevelopment:
		return "development"
	default:
		return "unspecified"
	}
}

// Operator combines tags when pushing to tagged devices.
type Operator string

const (
	OperatorOR  Operator = "OR"
	OperatorAND Operator = "AND"
)

// ParseOperator upper-cases s. Empty input means OR.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "OR":
		return OperatorOR, nil
	case "AND":
		return OperatorAND, nil
	default:
		return "", fmt.Errorf("%w: unknown tag operator %q", ErrInvalidArgument, s)
	}
}

// TagTokenPair is the unit accepted by BatchSetTag and BatchRemoveTag.
type TagTokenPair struct {
	Tag   string `json:"tag"`
	Token string `json:"token"`
}

func (p TagTokenPair) String() string {
	return p.Tag + "@" + p.Token
}

// Response codes shared by gateway implementations.
const (
	CodeOK         = 0
	CodeParamError = -1
	CodeNotFound   = -3
	CodeInternal   = -5
)

// Response is the structured result of a gateway call.
type Response struct {
	RetCode int            `json:"ret_code"`
	ErrMsg  string         `json:"err_msg,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// OK builds a successful response carrying result.
func OK(result map[string]any) *Response {
	return &Response{RetCode: CodeOK, Result: result}
}

// Fail builds a rejected response.
func Fail(code int, format string, args ...any) *Response {
	return &Response{RetCode: code, ErrMsg: fmt.Sprintf(format, args...)}
}

// Succeeded reports whether the call completed with ret_code 0.
func (r *Response) Succeeded() bool {
	return r != nil && r.RetCode == CodeOK
}

// Code returns the ret_code, or false for a nil response.
func (r *Response) Code() (int, bool) {
	if r == nil {
		return 0, false
	}
	return r.RetCode, true
}

// Message returns err_msg.
func (r *Response) Message() string {
	if r == nil {
		return ""
	}
	return r.ErrMsg
}

// Field walks a dotted path under result. An empty path returns result itself.
func (r *Response) Field(path string) (any, bool) {
	if r == nil || r.Result == nil {
		return nil, false
	}
	if path == "" {
		return r.Result, true
	}
	var cur any = r.Result
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path or def.
func (r *Response) String(path, def string) string {
	v, ok := r.Field(path)
	if !ok {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case nil:
		return def
	default:
		return fmt.Sprint(s)
	}
}

// Int returns the integer at path or def. JSON numbers decode as float64,
// so integral floats are accepted.
func (r *Response) Int(path string, def int) int {
	v, ok := r.Field(path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

// Strings returns the string list at path. Missing fields yield an empty list.
func (r *Response) Strings(path string) []string {
	v, ok := r.Field(path)
	if !ok {
		return []string{}
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

// Records returns the list of objects at path.
func (r *Response) Records(path string) []map[string]any {
	v, ok := r.Field(path)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Err converts a rejected response into a *GatewayError tagged with op.
func (r *Response) Err(op string) error {
	if r.Succeeded() {
		return nil
	}
	if r == nil {
		return &GatewayError{Op: op, Code: CodeInternal, Message: "empty response"}
	}
	return &GatewayError{Op: op, Code: r.RetCode, Message: r.ErrMsg}
}
