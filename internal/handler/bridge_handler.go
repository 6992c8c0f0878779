package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"hzrealtime/internal/app/bridge"
	"hzrealtime/internal/pkg/auth/jwt"
	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/metrics"
	"hzrealtime/internal/pkg/req"
	"hzrealtime/internal/pkg/resp"
)

// bind decodes and validates a bridge body, writing the error response on failure.
func bind(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	err := req.BindJSON(w, r, dst)
	if err == nil {
		err = req.Validate(dst)
	}
	if err != nil {
		metrics.BridgeRequests.WithLabelValues("http", op, "error").Inc()
		resp.RespondError(w, r, err)
		return false
	}
	return true
}

// logDispatch records which service token caller triggered a dispatch. Unguarded routes have no caller.
func logDispatch(r *http.Request, op string, res bridge.DispatchResult) {
	ev := zerolog.Ctx(r.Context()).Info().
		Str("op", op).
		Str("event", res.Event).
		Str("event_id", res.EventID).
		Int("delivered", res.Delivered)
	if p := jwt.GetPayloadFromContext(r); p != nil {
		ev = ev.Str("caller", p.ID)
	}
	ev.Msg("Bridge dispatch served.")
}

func respond(w http.ResponseWriter, r *http.Request, op string, data any, err *errs.CustomError) {
	if err != nil {
		metrics.BridgeRequests.WithLabelValues("http", op, "error").Inc()
		resp.RespondError(w, r, err)
		return
	}
	metrics.BridgeRequests.WithLabelValues("http", op, "ok").Inc()
	resp.RespondSuccess(w, r, data)
}

// HandleNotifyUser handles POST /notify-user.
func HandleNotifyUser(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body bridge.NotifyUserRequest
		if !bind(w, r, bridge.OpNotifyUser, &body) {
			return
		}
		res, err := deps.Bridge.NotifyUser(body)
		if err == nil {
			logDispatch(r, bridge.OpNotifyUser, res)
		}
		respond(w, r, bridge.OpNotifyUser, res, err)
	}
}

// HandleBroadcastRoom handles POST /broadcast-room.
func HandleBroadcastRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body bridge.BroadcastRoomRequest
		if !bind(w, r, bridge.OpBroadcastRoom, &body) {
			return
		}
		res, err := deps.Bridge.BroadcastRoom(body)
		if err == nil {
			logDispatch(r, bridge.OpBroadcastRoom, res)
		}
		respond(w, r, bridge.OpBroadcastRoom, res, err)
	}
}

// HandleBroadcast handles POST /broadcast.
func HandleBroadcast(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body bridge.BroadcastRequest
		if !bind(w, r, bridge.OpBroadcast, &body) {
			return
		}
		res, err := deps.Bridge.Broadcast(body)
		if err == nil {
			logDispatch(r, bridge.OpBroadcast, res)
		}
		respond(w, r, bridge.OpBroadcast, res, err)
	}
}

// HandleGetPresence handles GET /presence/{user_id}.
func HandleGetPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Bridge.Presence(r.Context(), chi.URLParam(r, "user_id"))
		respond(w, r, "presence", rec, err)
	}
}

// HandleOnlineUsers lists users who are not offline.
func HandleOnlineUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Bridge.OnlineUsers())
	}
}

// HandleHealth is the liveness probe polled by the CRUD tier.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Bridge.Health())
	}
}
