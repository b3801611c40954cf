package dentalchart

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/ehr/odontogram/internal/domain/odontogram"
)

func TestExportWorkbook(t *testing.T) {
	chart := &ChartView{
		PatientID: uuid.New(),
		Teeth: []ToothView{
			{
				ToothID: "16",
				Diagnostics: []odontogram.GroupedDiagnostic{{
					Name:         "Restauración Existente",
					Abbreviation: "RE",
					Color:        "#4FC3F7",
					Priority:     4,
					Label:        "oclusal, distal",
					Attributes:   odontogram.Selections{"material": odontogram.SelectValue("resina"), "estado": odontogram.RadioValue("buena")},
				}},
			},
			{ToothID: "26", Blocked: true, Diagnostics: []odontogram.GroupedDiagnostic{{Name: "Extracción", Color: "#212121", Priority: 3, Label: "diente completo"}}},
		},
	}

	b, err := ExportWorkbook(chart)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if list := f.GetSheetList(); len(list) != 1 || list[0] != exportSheet {
		t.Errorf("expected only the %s sheet, got %v", exportSheet, list)
	}
	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "Tooth" || rows[1][0] != "16" || rows[1][1] != "oclusal, distal" {
		t.Errorf("unexpected rows %v", rows[:2])
	}
	if rows[1][6] != "estado: buena; material: resina" {
		t.Errorf("unexpected attributes cell %q", rows[1][6])
	}
	if rows[2][8] != "Yes" {
		t.Errorf("expected blocked tooth flagged, got %q", rows[2][8])
	}
}

func TestFormatAttributes(t *testing.T) {
	tests := []struct {
		sel  odontogram.Selections
		want string
	}{
		{nil, ""},
		{odontogram.Selections{"nota": odontogram.TextValue("sensibilidad")}, "nota: sensibilidad"},
		{odontogram.Selections{"caras": odontogram.CheckboxValue("a", "b")}, "caras: a/b"},
	}
	for _, tt := range tests {
		if got := formatAttributes(tt.sel); got != tt.want {
			t.Errorf("formatAttributes(%v) = %q, want %q", tt.sel, got, tt.want)
		}
	}
}
