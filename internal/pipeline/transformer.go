package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// CommandTransformer is a dataflow Transformer that decodes and validates a
// raw message payload into a Command. Failures set skip so the streaming
// service can dead-letter the message.
func CommandTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*Command, bool, error) {
	var cmd Command

	// UseNumber keeps large numeric user ids exact.
	dec := json.NewDecoder(bytes.NewReader(msg.Payload))
	dec.UseNumber()
	if err := dec.Decode(&cmd); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push command from message %s: %w", msg.ID, err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid push command in message %s: %w", msg.ID, err)
	}
	return &cmd, false, nil
}
