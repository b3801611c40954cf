package dentalchart

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	return NewHandler(newTestService(t, newMockChartRepo())), echo.New()
}

func patientContext(e *echo.Echo, method, target, body string, pid uuid.UUID, extra ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	names := []string{"patient_id"}
	values := []string{pid.String()}
	for i := 0; i+1 < len(extra); i += 2 {
		names = append(names, extra[i])
		values = append(values, extra[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return httpErr.Code
}

func TestHandler_ApplyEntry(t *testing.T) {
	h, e := newTestHandler(t)
	pid := uuid.New()
	body := `{"tooth_id":"16","surface_ids":["oclusal","distal"],"procedure_id":"caries_profunda","areas":["crown"]}`
	c, rec := patientContext(e, http.MethodPost, "/", body, pid)

	if err := h.ApplyEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var res ApplyResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Batch.EntryIDs) != 2 || res.Tooth.Color != "#E53935" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHandler_ApplyEntry_Rejected(t *testing.T) {
	h, e := newTestHandler(t)
	pid := uuid.New()
	c, _ := patientContext(e, http.MethodPost, "/", `{"tooth_id":"16","surface_ids":["raiz_unica"],"procedure_id":"caries_radicular","areas":["root"]}`, pid)

	err := h.ApplyEntry(c)
	if code := httpCode(t, err); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	body, ok := err.(*echo.HTTPError).Message.(RejectionBody)
	if !ok || body.Code != "invalid_surface" {
		t.Errorf("expected invalid_surface rejection, got %+v", err.(*echo.HTTPError).Message)
	}
}

func TestHandler_ApplyEntry_BadJSON(t *testing.T) {
	h, e := newTestHandler(t)
	c, _ := patientContext(e, http.MethodPost, "/", `{"tooth_id":`, uuid.New())
	if code := httpCode(t, h.ApplyEntry(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_InvalidPatientID(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("patient_id")
	c.SetParamValues("not-a-uuid")
	if code := httpCode(t, h.GetChart(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetChart(t *testing.T) {
	h, e := newTestHandler(t)
	pid := uuid.New()
	h.svc.Apply(context.Background(), pid, extractionOf("26"))

	c, rec := patientContext(e, http.MethodGet, "/", "", pid)
	if err := h.GetChart(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var chart ChartView
	if err := json.Unmarshal(rec.Body.Bytes(), &chart); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chart.BlockedTeeth) != 1 || chart.BlockedTeeth[0] != "26" {
		t.Errorf("expected tooth 26 blocked, got %+v", chart.BlockedTeeth)
	}
}

func TestHandler_GetTooth_Unknown(t *testing.T) {
	h, e := newTestHandler(t)
	c, _ := patientContext(e, http.MethodGet, "/", "", uuid.New(), "tooth_id", "99")
	if code := httpCode(t, h.GetTooth(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_RemoveEntry(t *testing.T) {
	h, e := newTestHandler(t)
	pid := uuid.New()
	res, _ := h.svc.Apply(context.Background(), pid, cariesOn("16", "oclusal"))

	c, rec := patientContext(e, http.MethodDelete, "/", "", pid,
		"tooth_id", "16", "surface_id", "oclusal", "entry_id", res.Batch.EntryIDs[0])
	if err := h.RemoveEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = patientContext(e, http.MethodDelete, "/", "", pid,
		"tooth_id", "16", "surface_id", "oclusal", "entry_id", res.Batch.EntryIDs[0])
	if code := httpCode(t, h.RemoveEntry(c)); code != http.StatusNotFound {
		t.Errorf("expected 404 for removed entry, got %d", code)
	}
}

func TestHandler_RemoveGroup_NotFound(t *testing.T) {
	h, e := newTestHandler(t)
	c, _ := patientContext(e, http.MethodDelete, "/", "", uuid.New(), "tooth_id", "16", "group_key", "nope")
	if code := httpCode(t, h.RemoveGroup(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ListCatalog(t *testing.T) {
	h, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?area=root", nil), httptest.NewRecorder())
	if err := h.ListCatalog(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?area=enamel", nil), httptest.NewRecorder())
	if code := httpCode(t, h.ListCatalog(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown area, got %d", code)
	}
}

func TestHandler_SaveAndHistory(t *testing.T) {
	h, e := newTestHandler(t)
	pid := uuid.New()
	h.svc.Apply(context.Background(), pid, cariesOn("16", "oclusal"))

	c, rec := patientContext(e, http.MethodPut, "/", "", pid)
	if err := h.SaveChart(c); err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, rec = patientContext(e, http.MethodGet, "/?limit=5", "", pid)
	if err := h.GetHistory(c); err != nil {
		t.Fatalf("history: %v", err)
	}
	var v HistoryView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Total != 1 || v.Limit != 5 || v.Selected == nil || v.Compare != nil {
		t.Errorf("unexpected history %+v", v)
	}
	if len(v.Links) != 1 || v.Links[0].Rel != "self" {
		t.Errorf("expected a single self link, got %+v", v.Links)
	}

	c, _ = patientContext(e, http.MethodGet, "/?selected="+uuid.NewString(), "", pid)
	if code := httpCode(t, h.GetHistory(c)); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown snapshot, got %d", code)
	}
}

func TestHandler_DiscardChart(t *testing.T) {
	h, e := newTestHandler(t)
	pid := uuid.New()
	h.svc.Apply(context.Background(), pid, cariesOn("16", "oclusal"))

	c, rec := patientContext(e, http.MethodPost, "/", "", pid)
	if err := h.DiscardChart(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	chart, _ := h.svc.Chart(context.Background(), pid)
	if chart.EntryCount != 0 {
		t.Errorf("expected unsaved entries discarded, got %d", chart.EntryCount)
	}
}

func TestHandler_GroupSelection(t *testing.T) {
	h, e := newTestHandler(t)
	body := `{"tooth_id":"16","surface_ids":["raiz_mesial","raiz_distal","raiz_palatina"]}`
	c, rec := patientContext(e, http.MethodPost, "/", body, uuid.New())
	if err := h.GroupSelection(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v SelectionView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(v.Groups) != 1 || v.Groups[0].Label != "full root" {
		t.Errorf("expected a full root group, got %+v", v.Groups)
	}
}

func TestHandler_ExportChart(t *testing.T) {
	h, e := newTestHandler(t)
	pid := uuid.New()
	h.svc.Apply(context.Background(), pid, cariesOn("16", "oclusal", "distal"))

	c, rec := patientContext(e, http.MethodGet, "/", "", pid)
	if err := h.ExportChart(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != xlsxMIME {
		t.Errorf("unexpected content type %s", ct)
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus one grouped finding, got %d rows", len(rows))
	}
}
