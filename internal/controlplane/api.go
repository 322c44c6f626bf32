// Package controlplane binds the station manager's capability set to its
// external consumers: a REST/JSON surface, a read-only WebSocket fleet
// feed, and an optional Redis snapshot cache for multi-process dashboards.
package controlplane

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/csms"
	"github.com/seu-repo/sigec-swarm/internal/manager"
	"github.com/seu-repo/sigec-swarm/internal/ocpp"
	"github.com/seu-repo/sigec-swarm/internal/profile"
)

// Handler exposes the fleet over REST. Routes go directly onto the station
// manager; this layer only translates transport concerns (status codes,
// param parsing) and never holds state of its own.
type Handler struct {
	fleet *manager.Manager
	cache *SnapshotCache
	log   *zap.Logger
}

func NewHandler(fleet *manager.Manager, cache *SnapshotCache, log *zap.Logger) *Handler {
	return &Handler{fleet: fleet, cache: cache, log: log}
}

// Register mounts the control-plane routes on the app.
func (h *Handler) Register(app *fiber.App) {
	v1 := app.Group("/api/v1")

	v1.Get("/stations", h.ListStations)
	v1.Post("/stations/scale", h.Scale)
	v1.Post("/stations/start-all", h.StartAll)
	v1.Post("/stations/stop-all", h.StopAll)
	v1.Get("/stations/:id", h.GetStation)
	v1.Post("/stations/:id/start", h.StartStation)
	v1.Post("/stations/:id/stop", h.StopStation)
	v1.Get("/stations/:id/logs", h.StationLogs)
	v1.Post("/stations/:id/charging-profile", h.SendChargingProfile)
	v1.Get("/stations/:id/composite-schedule", h.GetCompositeSchedule)
	v1.Post("/stations/:id/clear-profile", h.ClearChargingProfile)
	v1.Post("/stations/:id/test-profile", h.SendTestProfile)
	v1.Get("/price", h.GetPrice)
	v1.Post("/price", h.SetPrice)
	v1.Get("/totals", h.GetTotals)
}

// detail is the structured error body every control-plane failure carries.
func detail(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(fiber.Map{"detail": msg})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, manager.ErrNotFound):
		return detail(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, manager.ErrUnknownProfile), errors.Is(err, ocpp.ErrValidation):
		return detail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ocpp.ErrStationDisconnected):
		return detail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, ocpp.ErrRejected):
		return detail(c, fiber.StatusConflict, err.Error())
	default:
		h.log.Error("control plane request failed", zap.Error(err))
		return detail(c, fiber.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) ListStations(c *fiber.Ctx) error {
	if h.cache != nil {
		if snaps, ok := h.cache.Snapshots(c.Context()); ok {
			return c.JSON(snaps)
		}
	}
	snaps := h.fleet.GetSnapshot()
	if h.cache != nil {
		h.cache.StoreSnapshots(c.Context(), snaps)
	}
	return c.JSON(snaps)
}

func (h *Handler) GetStation(c *fiber.Ctx) error {
	snap, err := h.fleet.GetStationSnapshot(c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(snap)
}

type scaleReq struct {
	Count   int    `json:"count"`
	Profile string `json:"profile"`
}

func (h *Handler) Scale(c *fiber.Ctx) error {
	var req scaleReq
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Count < 0 {
		return detail(c, fiber.StatusBadRequest, "count must be >= 0")
	}
	count, err := h.fleet.Scale(req.Count, req.Profile)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

type startReq struct {
	Profile string `json:"profile"`
}

func (h *Handler) StartStation(c *fiber.Ctx) error {
	var req startReq
	_ = c.BodyParser(&req)
	snap, err := h.fleet.StartStation(c.Params("id"), req.Profile)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(snap)
}

func (h *Handler) StopStation(c *fiber.Ctx) error {
	snap, err := h.fleet.StopStation(c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(snap)
}

func (h *Handler) StartAll(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"started": h.fleet.StartAll()})
}

func (h *Handler) StopAll(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"stopped": h.fleet.StopAll()})
}

func (h *Handler) StationLogs(c *fiber.Ctx) error {
	logs, err := h.fleet.GetStationLogs(c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"logs": logs})
}

type priceReq struct {
	Price float64 `json:"price"`
}

func (h *Handler) GetPrice(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"price": h.fleet.CurrentPrice()})
}

func (h *Handler) SetPrice(c *fiber.Ctx) error {
	var req priceReq
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.fleet.SetPrice(req.Price); err != nil {
		return detail(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"price": h.fleet.CurrentPrice()})
}

func (h *Handler) GetTotals(c *fiber.Ctx) error {
	if h.cache != nil {
		if totals, ok := h.cache.Totals(c.Context()); ok {
			return c.JSON(totals)
		}
	}
	totals := h.fleet.GetTotals()
	if h.cache != nil {
		h.cache.StoreTotals(c.Context(), totals)
	}
	return c.JSON(totals)
}

type sendProfileReq struct {
	ConnectorID     int                     `json:"connectorId"`
	ChargingProfile profile.ChargingProfile `json:"csChargingProfiles"`
}

func (h *Handler) SendChargingProfile(c *fiber.Ctx) error {
	var req sendProfileReq
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "invalid request body")
	}
	result, err := h.fleet.SendChargingProfile(c.Params("id"), req.ConnectorID, req.ChargingProfile)
	if err != nil && result.Status == "" {
		return h.fail(c, err)
	}
	return c.JSON(result)
}

func (h *Handler) GetCompositeSchedule(c *fiber.Ctx) error {
	connectorID := c.QueryInt("connectorId", 1)
	duration := c.QueryInt("duration", 3600)
	unit := c.Query("unit", "W")
	raw, err := h.fleet.GetCompositeSchedule(c.Params("id"), connectorID, duration, unit)
	if err != nil {
		return h.fail(c, err)
	}
	c.Set("Content-Type", "application/json")
	return c.Send(raw)
}

func (h *Handler) ClearChargingProfile(c *fiber.Ctx) error {
	var filter csms.ClearFilter
	if err := c.BodyParser(&filter); err != nil {
		return detail(c, fiber.StatusBadRequest, "invalid request body")
	}
	status, err := h.fleet.ClearChargingProfile(c.Params("id"), filter)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": status, "filters": filter})
}

type testProfileReq struct {
	Scenario string              `json:"scenario"`
	Params   csms.ScenarioParams `json:"params"`
}

func (h *Handler) SendTestProfile(c *fiber.Ctx) error {
	var req testProfileReq
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "invalid request body")
	}
	result, err := h.fleet.SendTestProfile(c.Params("id"), req.Scenario, req.Params)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(result)
}
