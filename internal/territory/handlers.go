package territory

import (
	"context"
	"errors"
	"strconv"

	"github.com/thisyearnofear/runrealm-sub003/internal/run"

	"github.com/gofiber/fiber/v2"
)

// SessionLookup resolves a runner's last completed session for claiming.
type SessionLookup func(ctx context.Context, userID string) (run.Session, bool)

func RegisterRoutes(r fiber.Router, registry *Registry, authMiddleware fiber.Handler, lastRun SessionLookup) {
	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(registry.Claimed())
	})

	r.Get("/nearby", authMiddleware, func(c *fiber.Ctx) error {
		lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
		lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
		if err1 != nil || err2 != nil {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lng required")
		}
		return c.JSON(registry.UpdateProximity(userIDFrom(c), lat, lng))
	})

	r.Post("/claim", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			ChainID int64 `json:"chain_id"`
		}
		_ = c.BodyParser(&req)
		if req.ChainID == 0 {
			req.ChainID = registry.cfg.HomeChainID
		}

		userID := userIDFrom(c)
		session, ok := lastRun(c.Context(), userID)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no completed run to claim")
		}

		territory, err := registry.RequestClaim(c.Context(), userID, session, req.ChainID, "")
		if err != nil {
			return fiber.NewError(statusForClaimErr(err), FulfillmentMessage(err))
		}
		return c.Status(fiber.StatusCreated).JSON(territory)
	})

	r.Post("/intents", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Bounds        Bounds      `json:"bounds"`
			PlannedRoute  []run.Point `json:"planned_route"`
			EstDistanceM  float64     `json:"est_distance_m"`
			EstDurationMs int64       `json:"est_duration_ms"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Bounds.North < req.Bounds.South || req.Bounds.East < req.Bounds.West {
			return fiber.NewError(fiber.StatusBadRequest, "invalid bounds")
		}
		intent := registry.CreateIntent(c.Context(), userIDFrom(c), req.Bounds, req.PlannedRoute, req.EstDistanceM, req.EstDurationMs)
		return c.Status(fiber.StatusCreated).JSON(intent)
	})

	r.Get("/intents", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(registry.ActiveIntents(c.Context()))
	})

	r.Delete("/intents/:id", authMiddleware, func(c *fiber.Ctx) error {
		cancelled := registry.CancelIntent(c.Context(), c.Params("id"))
		return c.JSON(fiber.Map{"cancelled": cancelled})
	})

	r.Get("/crosschain/log", func(c *fiber.Ctx) error {
		return c.JSON(registry.CrossChainLog())
	})

	// Confirmation and failure events arrive from the external backend.
	r.Post("/crosschain/confirm", func(c *fiber.Ctx) error {
		var req struct {
			Geohash string `json:"geohash"`
			TxID    string `json:"tx_id"`
		}
		if err := c.BodyParser(&req); err != nil || req.Geohash == "" {
			return fiber.NewError(fiber.StatusBadRequest, "geohash required")
		}
		if !registry.ConfirmCrossChain(c.Context(), req.Geohash, req.TxID) {
			return fiber.NewError(fiber.StatusNotFound, "no pending claim for geohash")
		}
		return c.JSON(fiber.Map{"confirmed": true})
	})

	r.Post("/crosschain/fail", func(c *fiber.Ctx) error {
		var req struct {
			Geohash string `json:"geohash"`
			Reason  string `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil || req.Geohash == "" {
			return fiber.NewError(fiber.StatusBadRequest, "geohash required")
		}
		if !registry.FailCrossChain(c.Context(), req.Geohash, req.Reason) {
			return fiber.NewError(fiber.StatusNotFound, "no pending claim for geohash")
		}
		return c.JSON(fiber.Map{"failed": true})
	})
}

func userIDFrom(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}

func statusForClaimErr(err error) int {
	var overlap *OverlapError
	var alreadyClaimed *AlreadyClaimedError
	switch {
	case errors.Is(err, ErrInvalidRunData):
		return fiber.StatusBadRequest
	case errors.As(err, &overlap), errors.As(err, &alreadyClaimed):
		return fiber.StatusConflict
	default:
		return fiber.StatusBadGateway
	}
}
