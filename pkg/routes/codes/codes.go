package codes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/governance"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/params"
	"github.com/Ramsey-B/fern/pkg/utils"
)

type Handler struct {
	svc *governance.Service
}

func NewHandler(svc *governance.Service) *Handler {
	return &Handler{svc: svc}
}

// Register registers code routes on a group scoped to /projects/:project_id
func (h *Handler) Register(g *echo.Group) {
	g.POST("/codes", h.CreateCandidate)
	g.GET("/codes", h.ListCandidates)
	g.POST("/codes/batch/validate", h.BatchValidate)
	g.POST("/codes/batch/reject", h.BatchReject)
	g.POST("/codes/batch/revert", h.RevertToPending)
	g.GET("/codes/:stable_id", h.GetEntry)
	g.GET("/codes/:stable_id/history", h.History)
	g.POST("/codes/:stable_id/evidence", h.AttachEvidence)
	g.POST("/codes/:stable_id/validate", h.Validate)
	g.POST("/codes/:stable_id/reject", h.Reject)
	g.POST("/codes/:stable_id/promote", h.Promote)
	g.POST("/codes/:stable_id/supersede", h.Supersede)
	g.POST("/codes/:stable_id/relabel", h.Relabel)
	g.POST("/merges", h.Merge)
	g.GET("/resolve", h.Resolve)
}

func (h *Handler) CreateCandidate(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := utils.BindRequest[models.CreateCandidateRequest](c)
	if err != nil {
		return err
	}
	req.ProjectID = c.Param("project_id")
	req.Actor = context.GetActor(ctx)

	result, err := h.svc.CreateCandidate(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// ListCandidates filters by ?status=a,b&promoted=true&limit=&offset=
func (h *Handler) ListCandidates(c echo.Context) error {
	ctx := c.Request().Context()
	filter := models.EntryFilter{}
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, models.CodeStatus(strings.TrimSpace(s)))
		}
	}
	if raw := c.QueryParam("promoted"); raw != "" {
		promoted, err := strconv.ParseBool(raw)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "promoted must be true or false")
		}
		filter.Promoted = &promoted
	}
	limit, err := params.OptionalInt(c, "limit")
	if err != nil {
		return err
	}
	if limit != nil {
		filter.Limit = int(*limit)
	}
	offset, err := params.OptionalInt(c, "offset")
	if err != nil {
		return err
	}
	if offset != nil {
		filter.Offset = int(*offset)
	}

	entries, err := h.svc.ListCandidates(ctx, c.Param("project_id"), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := params.StableID(c)
	if err != nil {
		return err
	}
	entry, err := h.svc.GetEntry(c.Request().Context(), c.Param("project_id"), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) History(c echo.Context) error {
	id, err := params.StableID(c)
	if err != nil {
		return err
	}
	history, err := h.svc.History(c.Request().Context(), c.Param("project_id"), &id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) AttachEvidence(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.StableID(c)
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[models.AttachEvidenceRequest](c)
	if err != nil {
		return err
	}
	entry, err := h.svc.AttachEvidence(ctx, c.Param("project_id"), id, req.EvidenceRefs, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Validate(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.StableID(c)
	if err != nil {
		return err
	}
	entry, err := h.svc.Validate(ctx, c.Param("project_id"), id, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Reject(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.StableID(c)
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[models.RejectRequest](c)
	if err != nil {
		return err
	}
	entry, err := h.svc.Reject(ctx, c.Param("project_id"), id, req.Memo, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Promote(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.StableID(c)
	if err != nil {
		return err
	}
	entry, err := h.svc.Promote(ctx, c.Param("project_id"), id, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Supersede(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.StableID(c)
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[models.SupersedeRequest](c)
	if err != nil {
		return err
	}
	entry, err := h.svc.Supersede(ctx, c.Param("project_id"), id, req.ReplacementID, req.Memo, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Relabel(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := params.StableID(c)
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[models.RelabelRequest](c)
	if err != nil {
		return err
	}
	entry, err := h.svc.Relabel(ctx, c.Param("project_id"), id, req.Label, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) BatchValidate(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := utils.BindRequest[models.BatchValidateRequest](c)
	if err != nil {
		return err
	}
	result, err := h.svc.BatchValidate(ctx, c.Param("project_id"), req.StableIDs, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) BatchReject(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := utils.BindRequest[models.BatchRejectRequest](c)
	if err != nil {
		return err
	}
	result, err := h.svc.BatchReject(ctx, c.Param("project_id"), req.StableIDs, req.Memo, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) RevertToPending(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := utils.BindRequest[models.BatchValidateRequest](c)
	if err != nil {
		return err
	}
	result, err := h.svc.RevertToPending(ctx, c.Param("project_id"), req.StableIDs, context.GetActor(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type MergeResponse struct {
	*models.MergeResult
	Replayed bool `json:"replayed"`
}

// Merge answers 201 when the merge is applied and 200 when a stored result is replayed.
func (h *Handler) Merge(c echo.Context) error {
	ctx := c.Request().Context()
	req, err := utils.BindRequest[models.MergeRequest](c)
	if err != nil {
		return err
	}
	req.ProjectID = c.Param("project_id")
	req.Actor = context.GetActor(ctx)

	result, replayed, err := h.svc.Merge(ctx, req)
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	return c.JSON(status, MergeResponse{MergeResult: result, Replayed: replayed})
}

// Resolve takes ?stable_id= or ?label=
func (h *Handler) Resolve(c echo.Context) error {
	id, err := params.OptionalInt(c, "stable_id")
	if err != nil {
		return err
	}
	res, err := h.svc.Resolve(c.Request().Context(), c.Param("project_id"), governance.ResolveQuery{
		StableID: id,
		Label:    c.QueryParam("label"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
