/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which rejects upgrades when the registry is full,
upgrades the HTTP connection to WebSocket, and runs the client's read and write loops.
*/
package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hzrealtime/internal/app/chat"
	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
	"hzrealtime/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// Authentication happens in-band with the authenticate event, after the upgrade.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Hub.Registry().Full() {
			logx.Warn("WebSocket connection rejected: Capacity reached.", "connections", deps.Hub.Registry().Count())
			metrics.ConnectRejected.WithLabelValues("capacity").Inc()
			resp.RespondError(w, r, errs.NewError(errs.ErrCapacityExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client, cerr := chat.NewClient(deps.Hub, conn, deps.ClientConfig())
		if cerr != nil {
			// Lost the race for the last slot after the pre-check.
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, cerr.Message)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
			logx.Warn("WebSocket connection closed after upgrade.", "code", cerr.Code)
			return
		}

		go client.WritePump()

		logx.Debug("WebSocket connection established", "connection_id", client.Connection().ID())

		client.ReadPump()
	}
}
