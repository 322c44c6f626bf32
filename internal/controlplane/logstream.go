package controlplane

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/manager"
)

// RegisterLogStream mounts a per-station log tail at /ws/stations/:id/logs
// on the control API itself. Unlike the fleet feed, this rides the same
// Fiber app as the REST surface because dashboards open it next to the
// station detail view they already fetched from there.
func RegisterLogStream(app *fiber.App, fleet *manager.Manager, log *zap.Logger) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/stations/:id/logs", websocket.New(func(c *websocket.Conn) {
		defer c.Close()
		stationID := c.Params("id")
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		var lastLen int
		for range ticker.C {
			logs, err := fleet.GetStationLogs(stationID)
			if err != nil {
				_ = c.WriteJSON(fiber.Map{"detail": err.Error()})
				return
			}
			// The ring holds at most 50 entries; resend only when it grew
			// or rolled over.
			if len(logs) != lastLen {
				lastLen = len(logs)
				if err := c.WriteJSON(fiber.Map{"logs": logs}); err != nil {
					return
				}
			}
		}
	}))
}
