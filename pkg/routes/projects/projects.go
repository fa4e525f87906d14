package projects

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/governance"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/utils"
)

type Handler struct {
	svc *governance.Service
}

func NewHandler(svc *governance.Service) *Handler {
	return &Handler{svc: svc}
}

// Register registers project-level routes on a group scoped to /projects/:project_id
func (h *Handler) Register(g *echo.Group) {
	g.GET("/freeze", h.FreezeStatus)
	g.POST("/freeze", h.Freeze)
	g.POST("/unfreeze", h.Unfreeze)
	g.GET("/drift", h.Diagnose)
	g.POST("/drift/repair", h.Repair)
	g.GET("/history", h.History)
}

func (h *Handler) FreezeStatus(c echo.Context) error {
	status, err := h.svc.FreezeStatus(c.Request().Context(), c.Param("project_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) Freeze(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := utils.BindRequest[models.FreezeRequest](c)
	if err != nil {
		return err
	}
	record, err := h.svc.Freeze(ctx, c.Param("project_id"), context.GetActor(ctx), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, record)
}

func (h *Handler) Unfreeze(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := utils.BindRequest[models.UnfreezeRequest](c)
	if err != nil {
		return err
	}
	record, err := h.svc.Unfreeze(ctx, c.Param("project_id"), context.GetActor(ctx), req.ConfirmationPhrase)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, record)
}

func (h *Handler) Diagnose(c echo.Context) error {
	report, err := h.svc.Diagnose(c.Request().Context(), c.Param("project_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// Repair defaults to dry_run when no mode is given.
func (h *Handler) Repair(c echo.Context) error {
	ctx := c.Request().Context()
	mode := models.RepairMode(c.QueryParam("mode"))
	if mode == "" {
		mode = models.RepairDryRun
	}
	req, err := utils.Validate(models.RepairRequest{Mode: mode})
	if err != nil {
		return httperror.WrapError(http.StatusBadRequest, err)
	}
	report, err := h.svc.Repair(ctx, c.Param("project_id"), req.Mode, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) History(c echo.Context) error {
	history, err := h.svc.History(c.Request().Context(), c.Param("project_id"), nil)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}
