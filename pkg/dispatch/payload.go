package dispatch

import (
	"encoding/json"
	"fmt"
)

// FlattenCustom turns custom message data into the string map accepted by
// data-only transports. Strings pass through; everything else is JSON encoded.
func FlattenCustom(custom map[string]any) map[string]string {
	if len(custom) == 0 {
		return nil
	}
	out := make(map[string]string, len(custom))
	for k, v := range custom {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprint(val)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// Tokens returns the tokens of devices in order.
func Tokens(devices []Device) []string {
	out := make([]string, len(devices))
	for i, d := range devices {
		out[i] = d.Token
	}
	return out
}
