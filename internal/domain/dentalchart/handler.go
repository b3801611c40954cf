package dentalchart

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/odontogram/internal/domain/odontogram"
	"github.com/ehr/odontogram/internal/platform/auth"
	"github.com/ehr/odontogram/pkg/pagination"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RejectionBody is the 422 payload of a refused chart edit.
type RejectionBody struct {
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message"`
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "dentist", "hygienist"))
	read.GET("/catalog", h.ListCatalog)
	read.GET("/patients/:patient_id/odontogram", h.GetChart)
	read.GET("/patients/:patient_id/odontogram/teeth/:tooth_id", h.GetTooth)
	read.POST("/patients/:patient_id/odontogram/surface-groups", h.GroupSelection)
	read.GET("/patients/:patient_id/odontogram/history", h.GetHistory)
	read.GET("/patients/:patient_id/odontogram/export.xlsx", h.ExportChart)

	write := api.Group("", auth.RequireRole("admin", "dentist"))
	write.POST("/patients/:patient_id/odontogram/entries", h.ApplyEntry)
	write.DELETE("/patients/:patient_id/odontogram/teeth/:tooth_id/surfaces/:surface_id/entries/:entry_id", h.RemoveEntry)
	write.DELETE("/patients/:patient_id/odontogram/teeth/:tooth_id/groups/:group_key", h.RemoveGroup)
	write.PUT("/patients/:patient_id/odontogram", h.SaveChart)
	write.POST("/patients/:patient_id/odontogram/discard", h.DiscardChart)
}

func patientParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("patient_id"))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	return id, nil
}

// chartError maps service errors to HTTP errors. Missing entries, groups,
// teeth and snapshots are 404; other rejections are 422.
func chartError(err error) error {
	if r, ok := odontogram.AsRejection(err); ok {
		body := RejectionBody{Code: r.Code, Detail: r.Detail, Message: r.Err.Error()}
		switch {
		case errors.Is(r, odontogram.ErrEntryNotFound), errors.Is(r, odontogram.ErrGroupNotFound):
			return echo.NewHTTPError(http.StatusNotFound, body)
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, body)
	}
	if errors.Is(err, ErrSnapshotNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) ListCatalog(c echo.Context) error {
	filter, err := odontogram.ParseAreaFilter(c.QueryParam("area"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"categories": h.svc.Catalog(filter)})
}

func (h *Handler) GetChart(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	chart, err := h.svc.Chart(c.Request().Context(), pid)
	if err != nil {
		return chartError(err)
	}
	return c.JSON(http.StatusOK, chart)
}

func (h *Handler) GetTooth(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	tooth, err := h.svc.Tooth(c.Request().Context(), pid, c.Param("tooth_id"))
	if err != nil {
		if errors.Is(err, odontogram.ErrUnknownTooth) {
			return echo.NewHTTPError(http.StatusNotFound, "tooth not found")
		}
		return chartError(err)
	}
	return c.JSON(http.StatusOK, tooth)
}

func (h *Handler) ApplyEntry(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	var req odontogram.ApplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Apply(c.Request().Context(), pid, req)
	if err != nil {
		return chartError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) RemoveEntry(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	tooth, err := h.svc.Remove(c.Request().Context(), pid, c.Param("tooth_id"), c.Param("surface_id"), c.Param("entry_id"))
	if err != nil {
		return chartError(err)
	}
	return c.JSON(http.StatusOK, tooth)
}

func (h *Handler) RemoveGroup(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	n, tooth, err := h.svc.RemoveGroup(c.Request().Context(), pid, c.Param("tooth_id"), c.Param("group_key"))
	if err != nil {
		return chartError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"removed": n, "tooth": tooth})
}

func (h *Handler) GroupSelection(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	var req SelectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.GroupSelection(c.Request().Context(), pid, req)
	if err != nil {
		return chartError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SaveChart(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Save(c.Request().Context(), pid)
	if err != nil {
		return chartError(err)
	}
	chart, err := h.svc.Chart(c.Request().Context(), pid)
	if err != nil {
		return chartError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"snapshot": rec, "chart": chart})
}

func (h *Handler) DiscardChart(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	h.svc.Discard(c.Request().Context(), pid)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetHistory(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	v, err := h.svc.History(c.Request().Context(), pid, HistoryQuery{
		Limit:    p.Limit,
		Offset:   p.Offset,
		Selected: c.QueryParam("selected"),
		Compare:  c.QueryParam("compare"),
	})
	if err != nil {
		return chartError(err)
	}
	v.Links = p.Links(c.Request().URL.Path, v.Total, c.QueryParams())
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ExportChart(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Export(c.Request().Context(), pid)
	if err != nil {
		return chartError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="odontogram-%s.xlsx"`, pid))
	return c.Blob(http.StatusOK, xlsxMIME, b)
}
