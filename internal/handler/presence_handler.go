package handler

import (
	"net/http"

	"courier/internal/pkg/auth/jwt"
	"courier/internal/pkg/errs"
	"courier/internal/pkg/resp"
)

// HandleOnlineUsers returns the current presence snapshot over plain HTTP, for
// clients that need the online set without holding a WebSocket open.
func HandleOnlineUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jwt.GetPayloadFromContext(r) == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		data := map[string]any{
			"userIds": deps.Gateway.OnlineUserIDs(),
		}
		resp.RespondSuccess(w, r, data)
	}
}
