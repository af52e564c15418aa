package ride

import (
	"errors"
	"fmt"
	"time"

	"backend-bikeride/internal/routeexport"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderFromCtx(c)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(svc.Start(riderID))
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderFromCtx(c)
		if err != nil {
			return err
		}
		summary, err := svc.Stop(riderID)
		if err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.JSON(summary)
	})

	r.Post("/fixes", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderFromCtx(c)
		if err != nil {
			return err
		}
		var body struct {
			Fixes []Fix `json:"fixes"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if len(body.Fixes) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "fixes required")
		}
		now := time.Now()
		for i := range body.Fixes {
			if err := body.Fixes[i].Validate(); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("fixes[%d]: %v", i, err))
			}
			if body.Fixes[i].Timestamp.IsZero() {
				body.Fixes[i].Timestamp = now
			}
		}

		outcomes := svc.Ingest(riderID, body.Fixes)
		session, err := svc.Session(riderID)
		if err != nil && !errors.Is(err, ErrNoRide) {
			return err
		}
		return c.JSON(fiber.Map{
			"outcomes":   outcomes,
			"distance_m": session.DistanceM,
			"waypoints":  len(session.Waypoints),
		})
	})

	r.Post("/authorization", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderFromCtx(c)
		if err != nil {
			return err
		}
		var body struct {
			Status AuthorizationStatus `json:"status"`
		}
		if err := c.BodyParser(&body); err != nil || body.Status == "" {
			return fiber.NewError(fiber.StatusBadRequest, "status required")
		}
		if err := svc.Authorize(riderID, body.Status); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/errors", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderFromCtx(c)
		if err != nil {
			return err
		}
		var body struct {
			Description string `json:"description"`
		}
		if err := c.BodyParser(&body); err != nil || body.Description == "" {
			return fiber.NewError(fiber.StatusBadRequest, "description required")
		}
		svc.ReportError(riderID, body.Description)
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Put("/map-mode", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderFromCtx(c)
		if err != nil {
			return err
		}
		var body struct {
			Selector *int `json:"selector"`
		}
		if err := c.BodyParser(&body); err != nil || body.Selector == nil {
			return fiber.NewError(fiber.StatusBadRequest, "selector required")
		}
		mode, err := svc.SetMapMode(riderID, *body.Selector)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(mode)
	})

	r.Post("/show-user", authMiddleware, func(c *fiber.Ctx) error {
		riderID, err := riderFromCtx(c)
		if err != nil {
			return err
		}
		svc.ShowUser(riderID)
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/session", authMiddleware, func(c *fiber.Ctx) error {
		session, err := sessionFor(c, svc)
		if err != nil {
			return err
		}
		return c.JSON(session)
	})

	r.Get("/route.geojson", authMiddleware, func(c *fiber.Ctx) error {
		session, err := sessionFor(c, svc)
		if err != nil {
			return err
		}
		out, err := routeexport.GeoJSON(exportRoute(session))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(out)
	})

	r.Get("/route.gpx", authMiddleware, func(c *fiber.Ctx) error {
		session, err := sessionFor(c, svc)
		if err != nil {
			return err
		}
		out, err := routeexport.GPX(exportRoute(session))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/gpx+xml")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="ride-%s.gpx"`, session.ID))
		return c.Send(out)
	})
}

// riderFromCtx reads the rider ID that the auth middleware stored in locals.
func riderFromCtx(c *fiber.Ctx) (string, error) {
	riderID, _ := c.Locals("user_id").(string)
	if riderID == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "rider identity missing")
	}
	return riderID, nil
}

func sessionFor(c *fiber.Ctx, svc *Service) (Session, error) {
	riderID, err := riderFromCtx(c)
	if err != nil {
		return Session{}, err
	}
	session, err := svc.Session(riderID)
	if errors.Is(err, ErrNoRide) {
		return Session{}, fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return session, err
}

func exportRoute(s Session) routeexport.Route {
	r := routeexport.Route{
		Name:      "Ride " + s.StartedAt.UTC().Format("2006-01-02 15:04"),
		DistanceM: s.DistanceM,
	}
	for _, f := range s.Fixes {
		r.Track = append(r.Track, routeexport.Point{Lat: f.Lat, Lng: f.Lng, Time: f.Timestamp})
	}
	for _, w := range s.Waypoints {
		r.Waypoints = append(r.Waypoints, routeexport.Point{
			Lat:  w.Lat,
			Lng:  w.Lng,
			Time: w.RecordedAt,
			Name: w.Label,
			Note: w.Note,
		})
	}
	return r
}
