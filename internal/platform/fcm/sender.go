// Package fcm delivers to Android devices through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
	"github.com/tinywideclouds/go-pusher-service/pkg/tags"
)

// MaxTokensPerMulticast is the FCM limit for SendEachForMulticast.
const MaxTokensPerMulticast = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Sender struct {
	client MessagingClient
	logger *slog.Logger
}

func NewSender(client MessagingClient, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		logger: logger.With("component", "FCMSender"),
	}
}

// Send delivers msg in multicast batches. FCM has no sandbox, so env is ignored.
// A rejected batch is counted as failed; a transport failure aborts with an error.
func (s *Sender) Send(ctx context.Context, devices []dispatch.Device, msg gateway.Message, _ gateway.Environment) (dispatch.Receipt, error) {
	var receipt dispatch.Receipt
	if len(devices) == 0 {
		return receipt, nil
	}

	for _, chunk := range tags.Chunk(dispatch.Tokens(devices), MaxTokensPerMulticast) {
		br, err := s.client.SendEachForMulticast(ctx, buildMulticast(chunk, msg))
		if err != nil {
			if messaging.IsInvalidArgument(err) {
				s.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err, "tokens", len(chunk))
				receipt.Failed += len(chunk)
				continue
			}
			return receipt, fmt.Errorf("fcm transport failed: %w", err)
		}

		receipt.Sent += br.SuccessCount
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			receipt.Failed++
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				receipt.Invalid = append(receipt.Invalid, chunk[idx])
			}
		}
	}
	return receipt, nil
}

func buildMulticast(tokens []string, msg gateway.Message) *messaging.MulticastMessage {
	data := dispatch.FlattenCustom(msg.Custom)
	out := &messaging.MulticastMessage{
		Tokens:  tokens,
		Data:    data,
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
	// Passthrough messages are delivered to the app without a system notification.
	if msg.Type == gateway.TypeMessage {
		return out
	}

	out.Notification = &messaging.Notification{
		Title: msg.Headline(),
		Body:  msg.Body(),
	}
	an := &messaging.AndroidNotification{Sound: msg.Sound}
	if st := msg.Style; st != nil {
		if st.Ring == 1 && an.Sound == "" {
			an.Sound = "default"
		}
		an.DefaultVibrateTimings = st.Vibrate == 1
		an.Sticky = st.Clearable == 0
		if st.NID > 0 {
			an.Tag = strconv.Itoa(st.NID)
		}
	}
	if act := msg.Action; act != nil {
		switch act.ActionType {
		case gateway.ActionActivity:
			an.ClickAction = act.Activity
		case gateway.ActionURL:
			out.Data = withEntry(out.Data, "url", act.URL)
		case gateway.ActionIntent:
			out.Data = withEntry(out.Data, "intent", act.Intent)
		}
	}
	out.Android.Notification = an
	return out
}

func withEntry(data map[string]string, k, v string) map[string]string {
	if v == "" {
		return data
	}
	if data == nil {
		data = make(map[string]string, 1)
	}
	data[k] = v
	return data
}
