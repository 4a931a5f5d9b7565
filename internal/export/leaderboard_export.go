// Package export renders leaderboards as downloadable spreadsheets and PDFs.
package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"analytics-service/internal/models"
	"analytics-service/internal/period"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/xuri/excelize/v2"
)

// Format is an export file type
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts xlsx or pdf, defaulting to xlsx when empty
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Report is one leaderboard window ready for rendering
type Report struct {
	Title       string
	PeriodLabel string
	Window      period.Window
	Mode        models.LeaderboardMode
	GeneratedAt time.Time
	Rows        []models.LeaderboardRow
}

var columns = []struct {
	header string
	width  float64
}{
	{"Rank", 8},
	{"Store ID", 10},
	{"Store", 30},
	{"Status", 12},
	{"Points", 12},
	{"Followers", 12},
	{"Orders", 12},
	{"Products", 12},
	{"Revenue", 14},
}

// FileName builds a download name such as leaderboard_this_month_20240120.xlsx
func FileName(r *Report, f Format) string {
	label := strings.ReplaceAll(r.PeriodLabel, " ", "_")
	if label == "" {
		label = "custom"
	}
	return fmt.Sprintf("leaderboard_%s_%s.%s", label, r.GeneratedAt.Format("20060102"), f)
}

// Render produces the report in the requested format
func Render(r *Report, f Format) ([]byte, error) {
	switch f {
	case FormatXLSX:
		return RenderXLSX(r)
	case FormatPDF:
		return RenderPDF(r)
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
}

func rowValues(row models.LeaderboardRow) []interface{} {
	return []interface{}{
		row.Rank,
		row.StoreID,
		row.StoreName,
		string(row.Status),
		row.TotalPoints,
		row.FollowerCount,
		row.OrderCount,
		row.ProductCount,
		row.RevenueSum,
	}
}

// RenderXLSX writes the leaderboard to a single-sheet workbook
func RenderXLSX(r *Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Leaderboard"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})

	f.SetCellValue(sheetName, "A1", r.Title)
	f.SetCellStyle(sheetName, "A1", "A1", titleStyle)
	f.SetCellValue(sheetName, "A2", fmt.Sprintf("Period: %s (%s)", r.PeriodLabel, r.Window.Label()))
	f.SetCellValue(sheetName, "A3", fmt.Sprintf("Generated: %s", r.GeneratedAt.Format(time.RFC3339)))

	const headerRow = 5
	for i, c := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(sheetName, cell, c.header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, colName, colName, c.width)
	}

	for rowIdx, row := range r.Rows {
		for colIdx, value := range rowValues(row) {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, headerRow+1+rowIdx)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPDF lays the leaderboard out as a table
func RenderPDF(r *Report) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber().
		WithLeftMargin(10).
		WithTopMargin(15).
		WithRightMargin(10).
		Build()

	m := maroto.New(cfg)

	addPDFHeader(m, r)
	addPDFTable(m, r)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return doc.GetBytes(), nil
}

func addPDFHeader(m core.Maroto, r *Report) {
	m.AddRow(20,
		col.New(8).Add(
			text.New(r.Title, props.Text{
				Size:  16,
				Style: fontstyle.Bold,
				Align: align.Left,
			}),
			text.New(fmt.Sprintf("Period: %s (%s)", r.PeriodLabel, r.Window.Label()), props.Text{
				Size:  9,
				Top:   8,
				Align: align.Left,
			}),
		),
		col.New(4).Add(
			text.New(r.GeneratedAt.Format("Jan 02, 2006 15:04 MST"), props.Text{
				Size:  9,
				Align: align.Right,
			}),
		),
	)

	if r.Mode == models.LeaderboardModeFallbackAllZero {
		m.AddRow(8,
			col.New(12).Add(
				text.New("No points have been awarded yet. All stores are listed at zero.", props.Text{
					Size:  8,
					Style: fontstyle.Italic,
					Align: align.Left,
				}),
			),
		)
	}

	m.AddRow(5, line.NewCol(12))
}

// pdfColumns maps the spreadsheet columns onto the 12-unit grid
var pdfColumns = []struct {
	index int
	size  int
}{
	{0, 1}, {2, 4}, {4, 2}, {5, 1}, {6, 1}, {7, 1}, {8, 2},
}

func addPDFTable(m core.Maroto, r *Report) {
	header := make([]core.Col, 0, len(pdfColumns))
	for _, pc := range pdfColumns {
		header = append(header, col.New(pc.size).Add(
			text.New(columns[pc.index].header, props.Text{
				Size:  9,
				Style: fontstyle.Bold,
				Align: align.Left,
			}),
		))
	}
	m.AddRow(8, header...)
	m.AddRow(2, line.NewCol(12))

	if len(r.Rows) == 0 {
		m.AddRow(8, col.New(12).Add(
			text.New("No stores ranked in this period.", props.Text{Size: 9, Align: align.Left}),
		))
		return
	}

	for _, row := range r.Rows {
		values := rowValues(row)
		cols := make([]core.Col, 0, len(pdfColumns))
		for _, pc := range pdfColumns {
			cols = append(cols, col.New(pc.size).Add(
				text.New(formatValue(values[pc.index]), props.Text{Size: 8, Align: align.Left}),
			))
		}
		m.AddRow(6, cols...)
	}
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', 2, 64)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
