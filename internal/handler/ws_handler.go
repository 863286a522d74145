/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, credential
verification, upgrading the HTTP connection to WebSocket, and attaching the connection to the gateway.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"courier/internal/pkg/errs"
	"courier/internal/pkg/limiter"
	"courier/internal/pkg/logx"
	"courier/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// The credential travels in the "token" query parameter and is verified before the
// upgrade, so a rejected handshake costs no connection state.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		token := r.URL.Query().Get("token")

		identity, customErr := deps.Gateway.Authenticate(token)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		conn := deps.Gateway.Attach(sock, identity)

		logx.Info("WebSocket connection established", "conn_id", conn.ID(), "user_id", identity.UserID)

		conn.ReadPump()
	}
}
