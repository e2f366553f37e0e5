package notes

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/rbac"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", rbac.RequireRole(emr.RoleAssistant))
	g.POST("/encounters/:id/notes", h.CreateDraft)
	g.GET("/encounters/:id/notes", h.ListByEncounter)
	g.GET("/notes/:id", h.Get)
	g.GET("/notes/:id/addenda", h.ListAddenda)
	g.PUT("/notes/:id", h.UpdateDraft)
	g.POST("/notes/:id/addendum", h.AddAddendum)

	signoff := api.Group("", rbac.RequireRole(emr.RoleVeterinarian))
	signoff.POST("/notes/:id/finalize", h.Finalize)
}

func (h *Handler) CreateDraft(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	encounterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var sections Sections
	if err := c.Bind(&sections); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.CreateDraft(c.Request().Context(), actor, encounterID, sections)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) UpdateDraft(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var sections Sections
	if err := c.Bind(&sections); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.UpdateDraft(c.Request().Context(), actor, id, sections)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Finalize(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.Finalize(c.Request().Context(), actor, id)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) AddAddendum(c echo.Context) error {
	actor, err := rbac.Actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var sections Sections
	if err := c.Bind(&sections); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.AddAddendum(c.Request().Context(), actor, id, sections)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListByEncounter(c echo.Context) error {
	encounterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	docs, err := h.svc.ListByEncounter(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *Handler) ListAddenda(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	docs, err := h.svc.ListAddenda(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(emr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, docs)
}
