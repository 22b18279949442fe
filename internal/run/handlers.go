package run

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
)

// CompletedFunc is invoked after a session finalizes (stop or import) so the
// caller can archive it and attempt territory fulfilment. Must not mutate
// the session; it receives a value copy.
type CompletedFunc func(ctx context.Context, session Session, report Eligibility)

func RegisterRoutes(r fiber.Router, tracker *Tracker, authMiddleware fiber.Handler, onCompleted CompletedFunc) {
	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Fix *LocationFix `json:"fix"`
		}
		_ = c.BodyParser(&req)

		session, err := tracker.Start(c.Context(), userIDFrom(c), req.Fix)
		if err != nil {
			return fiber.NewError(statusForTrackerErr(err), err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Post("/location", authMiddleware, func(c *fiber.Ctx) error {
		var fix LocationFix
		if err := c.BodyParser(&fix); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		accepted, err := tracker.ProcessFix(userIDFrom(c), fix)
		if err != nil {
			return fiber.NewError(statusForTrackerErr(err), err.Error())
		}
		resp := fiber.Map{"accepted": accepted}
		if session, ok := tracker.Current(userIDFrom(c)); ok {
			resp["stats"] = session.Stats()
		}
		return c.JSON(resp)
	})

	r.Post("/pause", authMiddleware, func(c *fiber.Ctx) error {
		stats, err := tracker.Pause(userIDFrom(c))
		if err != nil {
			return fiber.NewError(statusForTrackerErr(err), err.Error())
		}
		return c.JSON(stats)
	})

	r.Post("/resume", authMiddleware, func(c *fiber.Ctx) error {
		stats, err := tracker.Resume(userIDFrom(c))
		if err != nil {
			return fiber.NewError(statusForTrackerErr(err), err.Error())
		}
		return c.JSON(stats)
	})

	r.Post("/lap", authMiddleware, func(c *fiber.Ctx) error {
		lap, err := tracker.Lap(userIDFrom(c))
		if err != nil {
			return fiber.NewError(statusForTrackerErr(err), err.Error())
		}
		return c.JSON(lap)
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		session, report, err := tracker.Stop(c.Context(), userIDFrom(c))
		if err != nil {
			return fiber.NewError(statusForTrackerErr(err), err.Error())
		}
		if onCompleted != nil {
			onCompleted(c.Context(), session, report)
		}
		return c.JSON(fiber.Map{"run": session, "eligibility": report})
	})

	r.Post("/cancel", authMiddleware, func(c *fiber.Ctx) error {
		cancelled := tracker.Cancel(userIDFrom(c))
		return c.JSON(fiber.Map{"cancelled": cancelled})
	})

	r.Get("/current", authMiddleware, func(c *fiber.Ctx) error {
		session, ok := tracker.Current(userIDFrom(c))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, ErrNoActiveRun.Error())
		}
		return c.JSON(session)
	})

	r.Get("/last", authMiddleware, func(c *fiber.Ctx) error {
		session, ok := tracker.LastCompleted(c.Context(), userIDFrom(c))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no completed run")
		}
		return c.JSON(session)
	})

	r.Post("/import", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Polyline   string `json:"polyline"`
			ExternalID string `json:"external_id"`
		}
		if err := c.BodyParser(&req); err != nil || req.Polyline == "" {
			return fiber.NewError(fiber.StatusBadRequest, "polyline required")
		}
		session, report, err := tracker.Import(c.Context(), userIDFrom(c), req.Polyline, req.ExternalID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if onCompleted != nil {
			onCompleted(c.Context(), session, report)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"run": session, "eligibility": report})
	})
}

func userIDFrom(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}

func statusForTrackerErr(err error) int {
	switch {
	case errors.Is(err, ErrAlreadyRecording), errors.Is(err, ErrNotRecording), errors.Is(err, ErrNotPaused):
		return fiber.StatusConflict
	case errors.Is(err, ErrNoActiveRun):
		return fiber.StatusNotFound
	case errors.Is(err, ErrLocationUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusServiceUnavailable
	}
}
