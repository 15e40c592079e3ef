package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// GetTags answers {token: [tags]} for every device of the caller.
func (api *DeviceAPI) GetTags(w http.ResponseWriter, r *http.Request) {
	user, ok := api.caller(w, r)
	if !ok {
		return
	}

	observed, err := api.Pusher.QueryTagsForUser(r.Context(), user)
	if err != nil {
		api.Logger.Error("Failed to query tags", "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "failed to query tags")
		return
	}
	writeJSON(w, http.StatusOK, observed.Map())
}

type SetTagsRequest struct {
	Tags []string `json:"tags"`
}

type FailedChunk struct {
	Index int    `json:"index"`
	Size  int    `json:"size"`
	Error string `json:"error"`
}

type PartialFailureResponse struct {
	Error  string        `json:"error"`
	Failed []FailedChunk `json:"failed"`
	Total  int           `json:"total"`
}

// SetTags makes the tags of every device of the caller exactly the given
// list. A partially applied change answers 207 with the failed calls.
func (api *DeviceAPI) SetTags(w http.ResponseWriter, r *http.Request) {
	user, ok := api.caller(w, r)
	if !ok {
		return
	}

	var req SetTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	for _, tag := range req.Tags {
		if tag == "" {
			response.WriteJSONError(w, http.StatusBadRequest, "empty tag")
			return
		}
	}

	err := api.Pusher.SetTagsForUser(r.Context(), user, req.Tags...)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var batchErr *gateway.BatchError
	if errors.As(err, &batchErr) && batchErr.Partial() {
		api.Logger.Warn("Tags partially applied", "err", err)
		resp := PartialFailureResponse{Error: "tags partially applied", Total: batchErr.Total}
		for _, f := range batchErr.Failures {
			resp.Failed = append(resp.Failed, FailedChunk{Index: f.Index, Size: f.Size, Error: f.Err.Error()})
		}
		writeJSON(w, http.StatusMultiStatus, resp)
		return
	}

	api.Logger.Error("Failed to set tags", "err", err)
	response.WriteJSONError(w, http.StatusBadGateway, "failed to set tags")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
