// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file
	P8KeyContent []byte
}

type Sender struct {
	production  APNSClient
	development APNSClient
	topic       string // App Bundle ID
	logger      *slog.Logger
}

// NewSender parses the P8 key immediately to fail fast on bad credentials.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	authKey, err := token.AuthKeyFromBytes(cfg.P8KeyContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return newSender(
		apns2.NewTokenClient(tokenSource).Production(),
		apns2.NewTokenClient(tokenSource).Development(),
		cfg.BundleID,
		logger,
	), nil
}

func newSender(production, development APNSClient, topic string, logger *slog.Logger) *Sender {
	return &Sender{
		production:  production,
		development: development,
		topic:       topic,
		logger:      logger.With("component", "APNSSender"),
	}
}

// Send pushes to each token in turn; APNs has no multicast endpoint.
// EnvDevelopment selects the sandbox gateway, anything else production.
func (s *Sender) Send(ctx context.Context, devices []dispatch.Device, msg gateway.Message, env gateway.Environment) (dispatch.Receipt, error) {
	var receipt dispatch.Receipt
	if len(devices) == 0 {
		return receipt, nil
	}

	client := s.production
	if env == gateway.EnvDevelopment {
		client = s.development
	}
	body := buildPayload(msg)

	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			return receipt, err
		}

		res, err := client.Push(&apns2.Notification{
			DeviceToken: d.Token,
			Topic:       s.topic,
			Payload:     body,
		})
		if err != nil {
			s.logger.Error("APNs transport failed", "token", d.Token, "err", err)
			receipt.Failed++
			continue
		}

		if res.Sent() {
			receipt.Sent++
			continue
		}
		receipt.Failed++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			receipt.Invalid = append(receipt.Invalid, d.Token)
		default:
			// Configuration problems (TopicDisallowed, PayloadEmpty) say nothing about the token.
			s.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}
	return receipt, nil
}

func buildPayload(msg gateway.Message) *payload.Payload {
	p := payload.NewPayload()
	switch {
	case msg.Title != "":
		p.AlertTitle(msg.Title).AlertBody(msg.Body())
	case msg.Alert != "":
		p.Alert(msg.Alert)
	default:
		p.ContentAvailable()
	}
	if msg.Badge != nil {
		p.Badge(*msg.Badge)
	}
	if msg.Sound != "" {
		p.Sound(msg.Sound)
	}
	for k, v := range msg.Custom {
		p.Custom(k, v)
	}
	return p
}
