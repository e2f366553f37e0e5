package encounter

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
	g := api.Group("", rbac.RequireRole(emr.RoleReceptionist))
	g.GET("/encounters", h.List)
	g.GET("/encounters/whiteboard", h.Whiteboard)
	g.GET("/encounters/:id", h.Get)
	g.GET("/encounters/:id/state", h.CurrentState)
	g.GET("/encounters/:id/summary", h.GetSummary)
	g.POST("/encounters", h.Create)
	g.POST("/encounters/check-in", h.CheckIn)
	g.POST("/encounters/:id/transition", h.Transition)

	billing := api.Group("", rbac.RequireRole(emr.RolePracticeManager))
	billing.POST("/encounters/:id/invoice", h.AttachInvoice)
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) CheckIn(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	var in CheckInInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc, err := h.svc.CheckIn(c.Request().Context(), actor, in)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		encs, total, err := h.svc.ListByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg, c.Request().URL.Path))
	}

	encs, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg, c.Request().URL.Path))
}

func (h *Handler) Whiteboard(c echo.Context) error {
	board, err := h.svc.Whiteboard(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, board)
}

func (h *Handler) CurrentState(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	state, err := h.svc.CurrentState(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"state": state})
}

func (h *Handler) Transition(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		State string `json:"state"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc, err := h.svc.Transition(c.Request().Context(), actor, id, body.State)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) AttachInvoice(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		InvoiceID uuid.UUID `json:"invoice_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc, err := h.svc.AttachInvoice(c.Request().Context(), actor, id, body.InvoiceID)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) GetSummary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	summary, err := h.svc.Summary(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}
