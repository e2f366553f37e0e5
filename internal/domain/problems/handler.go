package problems

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
	// alerts and the problem list are shown at check-in, so reads sit at
	// the front-desk level
	reads := api.Group("", rbac.RequireRole(emr.RoleReceptionist))
	reads.GET("/patients/:patient_id/problems", h.ListByPatient)
	reads.GET("/patients/:patient_id/alerts", h.ActiveAlerts)
	reads.GET("/problems/:id", h.Get)

	writes := api.Group("", rbac.RequireRole(emr.RoleAssistant))
	writes.POST("/problems", h.Add)

	status := api.Group("", rbac.RequireRole(emr.RoleTechnician))
	status.POST("/problems/:id/status", h.UpdateStatus)
}

func (h *Handler) Add(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	var in AddInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Add(c.Request().Context(), actor, in)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, body.Status)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	pg := pagination.FromContext(c)
	problems, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(problems, total, pg, c.Request().URL.Path))
}

func (h *Handler) ActiveAlerts(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	alerts, err := h.svc.ActiveAlerts(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, alerts)
}
