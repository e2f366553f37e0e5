package timeline

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/rbac"
	"github.com/vetpms/emr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", rbac.RequireRole(emr.RoleAssistant))
	g.POST("/events", h.Append)
	g.GET("/patients/:patient_id/timeline", h.Timeline)
	g.GET("/encounters/:id/events", h.EncounterEvents)

	corrections := api.Group("", rbac.RequireRole(emr.RoleTechnician))
	corrections.POST("/events/:id/correct", h.Correct)
}

func (h *Handler) Append(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	var in NewEvent
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ev, err := h.svc.Append(c.Request().Context(), actor, in)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, ev)
}

func (h *Handler) Correct(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ev, err := h.svc.Correct(c.Request().Context(), actor, id, body.Reason)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, ev)
}

func (h *Handler) Timeline(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	pg := pagination.FromContext(c)

	var f Filters
	if encID := c.QueryParam("encounter_id"); encID != "" {
		id, err := uuid.Parse(encID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter_id")
		}
		f.EncounterID = &id
	}
	f.Kind = c.QueryParam("kind")
	f.SignificantOnly = c.QueryParam("significant") == "true"

	events, total, err := h.svc.Timeline(c.Request().Context(), patientID, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg, c.Request().URL.Path))
}

func (h *Handler) EncounterEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	events, err := h.svc.EncounterEvents(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, events)
}
