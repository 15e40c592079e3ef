// Package api exposes the caller-scoped device and tag endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/recipient"
	"github.com/tinywideclouds/go-pusher-service/pkg/tags"
)

// Pusher is the part of *pusher.Pusher the API uses.
type Pusher interface {
	AccountForUser(user recipient.UserRef) string
	DeleteDeviceTokensForUser(ctx context.Context, user recipient.UserRef, tokens ...string) error
	QueryTagsForUser(ctx context.Context, user recipient.UserRef) (tags.ObservedTags, error)
	SetTagsForUser(ctx context.Context, user recipient.UserRef, tagList ...string) error
}

type DeviceAPI struct {
	Registry dispatch.Registry
	Pusher   Pusher
	Logger   *slog.Logger
}

func NewDeviceAPI(registry dispatch.Registry, pusher Pusher, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Registry: registry,
		Pusher:   pusher,
		Logger:   logger.With("component", "DeviceAPI"),
	}
}

// caller resolves the authenticated user handle to a recipient.
func (api *DeviceAPI) caller(w http.ResponseWriter, r *http.Request) (recipient.UserRef, bool) {
	handle, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	userURN, err := urn.Parse(handle)
	if err != nil {
		api.Logger.Warn("Rejected malformed user handle", "handle", handle, "err", err)
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid user handle")
		return nil, false
	}
	return recipient.RawID(userURN.String()), true
}

type RegisterDeviceRequest struct {
	Token           string                        `json:"token"`
	Platform        string                        `json:"platform"`
	WebSubscription *dispatch.WebPushSubscription `json:"web_subscription,omitempty"`
}

// RegisterDevice binds a device to the caller's account. Web devices are
// keyed by their subscription endpoint when no token is given.
func (api *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := api.caller(w, r)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	platform, ok := dispatch.ParsePlatform(req.Platform)
	if !ok {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	device := dispatch.Device{Token: req.Token, Platform: platform}
	if platform == dispatch.PlatformWeb {
		sub := req.WebSubscription
		if sub == nil || sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
			response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
			return
		}
		device.Web = sub
		if device.Token == "" {
			device.Token = sub.Endpoint
		}
	}
	if device.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	account := api.Pusher.AccountForUser(user)
	if err := api.Registry.Bind(r.Context(), account, device); err != nil {
		api.Logger.Error("Failed to bind device", "account", account, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Device registered", "account", account, "platform", platform)

	w.WriteHeader(http.StatusNoContent)
}

type UnregisterDeviceRequest struct {
	Token string `json:"token"`
}

func (api *DeviceAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := api.caller(w, r)
	if !ok {
		return
	}

	var req UnregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Pusher.DeleteDeviceTokensForUser(r.Context(), user, req.Token); err != nil {
		api.Logger.Warn("Failed to unregister device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
