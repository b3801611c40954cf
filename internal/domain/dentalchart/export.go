package dentalchart

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ehr/odontogram/internal/domain/odontogram"
)

const exportSheet = "Odontograma"

// ExportHeader is the column layout of the findings sheet.
var ExportHeader = []string{
	"Tooth",
	"Surfaces",
	"Procedure",
	"Abbreviation",
	"Priority",
	"Color",
	"Attributes",
	"Note",
	"Blocked",
}

var exportColumnWidths = []float64{8, 32, 30, 12, 10, 10, 40, 40, 10}

// ExportWorkbook writes one row per grouped diagnostic of the chart. The
// Color cell is filled with the diagnostic color.
func ExportWorkbook(chart *ChartView) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range ExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, name, name, exportColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	colorStyles := map[string]int{}
	row := 2
	for _, tooth := range chart.Teeth {
		for _, g := range tooth.Diagnostics {
			values := []interface{}{
				tooth.ToothID,
				g.Label,
				g.Name,
				g.Abbreviation,
				g.Priority,
				g.Color,
				formatAttributes(g.Attributes),
				g.Note,
				yesNo(tooth.Blocked),
			}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row)
				if err := f.SetCellValue(exportSheet, cell, v); err != nil {
					f.Close()
					return nil, fmt.Errorf("set cell %s: %w", cell, err)
				}
			}
			if g.Color != "" {
				style, ok := colorStyles[g.Color]
				if !ok {
					if style, err = f.NewStyle(&excelize.Style{
						Fill: excelize.Fill{Type: "pattern", Color: []string{g.Color}, Pattern: 1},
					}); err != nil {
						f.Close()
						return nil, fmt.Errorf("create color style: %w", err)
					}
					colorStyles[g.Color] = style
				}
				cell, _ := excelize.CoordinatesToCellName(6, row)
				if err := f.SetCellStyle(exportSheet, cell, cell, style); err != nil {
					f.Close()
					return nil, err
				}
			}
			row++
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formatAttributes renders selections as "group: value" pairs sorted by group.
func formatAttributes(sel odontogram.Selections) string {
	if len(sel) == 0 {
		return ""
	}
	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := sel[k]
		var val string
		switch {
		case v.Text != "":
			val = v.Text
		case len(v.Options) > 0:
			val = strings.Join(v.Options, "/")
		default:
			val = v.Option
		}
		parts = append(parts, k+": "+val)
	}
	return strings.Join(parts, "; ")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
