// Package pipeline contains the Pub/Sub push-command processing components for the service.
package pipeline

import (
	"fmt"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// Kind names what a Command does.
type Kind string

const (
	KindDevice       Kind = "device"
	KindAll          Kind = "all"
	KindUsers        Kind = "users"
	KindTags         Kind = "tags"
	KindBatchUsers   Kind = "batch_users"
	KindBatchDevices Kind = "batch_devices"
	KindSetTags      Kind = "set_tags"
	KindAddTags      Kind = "add_tags"
	KindRemoveTags   Kind = "remove_tags"
)

// Command is the JSON payload of a push-command message.
//
// Users holds raw JSON values: strings, integral numbers or objects with an
// "id" field. Tag kinds apply to Users when present, otherwise to Tokens.
type Command struct {
	Kind     Kind            `json:"kind"`
	Tokens   []string        `json:"tokens,omitempty"`
	Users    []any           `json:"users,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
	Operator string          `json:"operator,omitempty"`
	PushID   string          `json:"push_id,omitempty"`
	Message  gateway.Message `json:"message"`
}

// IsPush reports whether the command delivers a message.
func (k Kind) IsPush() bool {
	switch k {
	case KindDevice, KindAll, KindUsers, KindTags, KindBatchUsers, KindBatchDevices:
		return true
	}
	return false
}

func (k Kind) valid() bool {
	switch k {
	case KindSetTags, KindAddTags, KindRemoveTags:
		return true
	}
	return k.IsPush()
}

// Validate checks the shape of the command. It does not check arguments
// the pusher validates itself.
func (c *Command) Validate() error {
	if !c.Kind.valid() {
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
	return nil
}
