package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
	"github.com/dukerupert/sharepool/internal/auth"
	"github.com/dukerupert/sharepool/internal/model"
)

// HandleWebSocket upgrades an authenticated request and streams that
// account's ledger notifications until the connection closes.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept failed", "account", id.AccountID, "error", err)
			return
		}
		defer conn.CloseNow()

		logger.Debug("websocket connected", "account", id.AccountID)
		NewClient(hub, conn, id.AccountID, id.Role == model.RoleAdmin).Run(r.Context())
		logger.Debug("websocket disconnected", "account", id.AccountID)
	}
}
