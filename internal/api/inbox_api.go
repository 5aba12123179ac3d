package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

// InboxAPI is the durable-write surface behind the client inbox's optimistic
// layer: mark-read, batched mark-all-read, and dismiss. The client computes
// which records a batch covers; the server just applies it.
type InboxAPI struct {
	Store  notify.NotificationStore
	Logger *slog.Logger
}

func NewInboxAPI(store notify.NotificationStore, logger *slog.Logger) *InboxAPI {
	return &InboxAPI{
		Store:  store,
		Logger: logger,
	}
}

func (api *InboxAPI) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing notification id")
		return
	}

	if err := api.Store.MarkRead(ctx, userID, id); err != nil {
		api.Logger.Error("failed to mark notification read", "id", id, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type markAllReadRequest struct {
	IDs []string `json:"ids"`
}

// MarkAllRead applies one batched write covering exactly the ids the client
// computed as unread at call time. Records that became unread afterwards are
// deliberately untouched.
func (api *InboxAPI) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req markAllReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.IDs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := api.Store.MarkRead(ctx, userID, req.IDs...); err != nil {
		api.Logger.Error("failed to mark notifications read", "count", len(req.IDs), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *InboxAPI) Dismiss(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing notification id")
		return
	}

	if err := api.Store.Delete(ctx, userID, id); err != nil {
		api.Logger.Error("failed to dismiss notification", "id", id, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
