package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"gowa-dispatch/internal/ws"
)

// upgrader untuk Gorilla; origin dibatasi oleh CORS middleware di depan
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler meng-handle koneksi WS di route /ws. Query ?userId=
// membatasi event ke milik user itu saja.
func WebSocketHandler(hub *ws.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade error")
			return err
		}

		client := ws.NewClient(hub, conn, c.QueryParam("userId"))
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()

		return nil
	}
}
