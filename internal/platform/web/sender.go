// Package web delivers to browsers through the Web Push protocol with VAPID.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// Config holds the VAPID identity of the service.
type Config struct {
	SubscriberEmail string
	PublicKey       string
	PrivateKey      string
	// TTL in seconds the push service keeps an undelivered message. Zero means 60.
	TTL int
}

type Sender struct {
	cfg        Config
	httpClient webpush.HTTPClient
	logger     *slog.Logger
}

// NewSender creates a web push sender. A nil client uses a default http.Client.
func NewSender(cfg Config, client webpush.HTTPClient, logger *slog.Logger) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &Sender{
		cfg:        cfg,
		httpClient: client,
		logger:     logger.With("component", "WebPushSender"),
	}
}

// Send encrypts and posts msg to every subscription. Devices without a
// subscription cannot be reached and count as invalid.
func (s *Sender) Send(ctx context.Context, devices []dispatch.Device, msg gateway.Message, _ gateway.Environment) (dispatch.Receipt, error) {
	var receipt dispatch.Receipt
	if len(devices) == 0 {
		return receipt, nil
	}

	payloadBytes, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": msg.Headline(),
			"body":  msg.Body(),
		},
		"data": msg.Custom,
	})
	if err != nil {
		return receipt, fmt.Errorf("failed to marshal payload: %w", err)
	}

	urgency := webpush.UrgencyHigh
	if msg.Type == gateway.TypeMessage {
		urgency = webpush.UrgencyNormal
	}

	for _, d := range devices {
		if d.Web == nil || d.Web.Endpoint == "" {
			receipt.Failed++
			receipt.Invalid = append(receipt.Invalid, d.Token)
			continue
		}

		sub := &webpush.Subscription{
			Endpoint: d.Web.Endpoint,
			Keys: webpush.Keys{
				P256dh: d.Web.Keys.P256dh,
				Auth:   d.Web.Keys.Auth,
			},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, sub, &webpush.Options{
			Subscriber:      s.cfg.SubscriberEmail,
			VAPIDPublicKey:  s.cfg.PublicKey,
			VAPIDPrivateKey: s.cfg.PrivateKey,
			TTL:             s.cfg.TTL,
			Urgency:         urgency,
			HTTPClient:      s.httpClient,
		})
		if err != nil {
			// Transport error (DNS, timeout, bad keys): keep the subscription.
			s.logger.Error("WebPush transport error", "endpoint", d.Web.Endpoint, "err", err)
			receipt.Failed++
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated, http.StatusOK, http.StatusAccepted:
			receipt.Sent++
		case http.StatusGone, http.StatusNotFound:
			receipt.Failed++
			receipt.Invalid = append(receipt.Invalid, d.Token)
		default:
			s.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", d.Web.Endpoint)
			receipt.Failed++
		}
	}
	return receipt, nil
}
