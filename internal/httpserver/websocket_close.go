package httpserver

import (
	"log/slog"

	"nhooyr.io/websocket"
)

// closeWebsocket performs a normal close handshake and logs failures at debug level.
func closeWebsocket(logger *slog.Logger, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil && logger != nil {
		logger.Debug("websocket close failed", "err", err)
	}
}
