package report

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"tg_station_report_bot/internal/drova"
	"tg_station_report_bot/internal/logging"
)

// hourTotalFormat renders durations past 24 hours without wrapping into days.
const hourTotalFormat = "[h]:mm:ss"

const yellowFill = "FFFF00"

// CrosstabResult is the outcome of a station-by-product matrix export.
// Attachment is nil when no station reported any product data; that is not an
// error.
type CrosstabResult struct {
	Attachment   *Attachment
	StationNames map[string]string
	Status       int
}

// StationProductCrosstab builds a workbook with product titles as rows and
// stations as columns. Cells carry either the availability state ("Active" or
// a flags description, degraded cells filled yellow) or, with withTime, the
// cumulative session duration of that product on that station within the
// trailing daysLimit days (0 = all history). A trailing column sums each row
// with a live formula.
func (b *Builder) StationProductCrosstab(ctx context.Context, token, userID string, withTime bool, daysLimit int) CrosstabResult {
	servers, status := b.gw.Servers(ctx, token, userID)
	if status != http.StatusOK || servers == nil {
		return CrosstabResult{Status: status}
	}

	names := stationNameMap(servers)
	now := b.now()

	// title -> station uuid -> product record
	allProducts := make(map[string]map[string]drova.ServerProduct)
	allSessions := make(map[string][]drova.Session)

	firstSession := now
	lastSession := time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local)

	for _, server := range servers {
		products, st := b.gw.ServerProducts(ctx, token, userID, server.UUID)
		if st == http.StatusOK {
			for _, p := range products {
				if allProducts[p.Title] == nil {
					allProducts[p.Title] = make(map[string]drova.ServerProduct)
				}
				allProducts[p.Title][server.UUID] = p
			}
		}

		if !withTime {
			continue
		}

		list, st := b.gw.Sessions(ctx, token, server.UUID, "", 0)
		if st != http.StatusOK || list == nil {
			b.logger.WithFields(logging.Fields{
				"event":   "crosstab_station_skipped",
				"station": server.UUID,
				"status":  st,
			}).Warn("session fetch failed, station durations omitted")
			continue
		}

		allSessions[server.UUID] = list.Sessions

		if daysLimit == 0 {
			for _, s := range list.Sessions {
				started := time.UnixMilli(s.CreatedOn)
				if started.After(lastSession) {
					lastSession = started
				}
				if started.Before(firstSession) {
					firstSession = started
				}
			}
		}
	}

	if len(allProducts) == 0 {
		return CrosstabResult{StationNames: names, Status: status}
	}

	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)

	sortedNames := make([]string, 0, len(names))
	for _, name := range names {
		sortedNames = append(sortedNames, name)
	}
	sort.Strings(sortedNames)

	colByName := make(map[string]int, len(sortedNames))
	lastCol := len(sortedNames) + 2
	widths := make([]float64, lastCol)

	setCell := func(col, row int, value string) {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return
		}
		_ = wb.SetCellValue(sheet, cell, value)
		if value != "" && float64(len(value)) > widths[col-1] {
			widths[col-1] = float64(len(value))
		}
	}

	setCell(1, 1, b.crosstabHeader(now, withTime, daysLimit, firstSession, lastSession))
	b.styleCrosstabHeader(wb, sheet, withTime && daysLimit == 0)

	for i, name := range sortedNames {
		col := i + 2
		colByName[name] = col
		setCell(col, 1, name)
	}
	setCell(lastCol, 1, "Всего")

	styleTime, _ := wb.NewStyle(&excelize.Style{CustomNumFmt: strPtr(hourTotalFormat)})
	styleYellow, _ := wb.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{yellowFill}, Pattern: 1},
	})
	styleTimeYellow, _ := wb.NewStyle(&excelize.Style{
		CustomNumFmt: strPtr(hourTotalFormat),
		Fill:         excelize.Fill{Type: "pattern", Color: []string{yellowFill}, Pattern: 1},
	})

	titles := make([]string, 0, len(allProducts))
	for title := range allProducts {
		titles = append(titles, title)
	}
	sort.Strings(titles)

	for idx, title := range titles {
		row := idx + 2
		setCell(1, row, title)

		for stationID, product := range allProducts[title] {
			col := colByName[names[stationID]]
			if col == 0 {
				continue
			}

			flagged, value := productState(product, "Active")
			if withTime {
				sessions := filterSessionsByProductAndDays(allSessions[stationID], product.ProductID, daysLimit, now)
				value = FormatDuration(sumSessionDurations(sessions, now), false)
			}
			setCell(col, row, value)

			cell, err := excelize.CoordinatesToCellName(col, row)
			if err != nil {
				continue
			}
			switch {
			case withTime && flagged:
				_ = wb.SetCellStyle(sheet, cell, cell, styleTimeYellow)
			case withTime:
				_ = wb.SetCellStyle(sheet, cell, cell, styleTime)
			case flagged:
				_ = wb.SetCellStyle(sheet, cell, cell, styleYellow)
			}
		}

		b.setRowTotal(wb, sheet, row, lastCol, styleTime, widths)
	}

	applyColumnWidths(wb, sheet, widths)

	buf, err := wb.WriteToBuffer()
	if err != nil {
		b.logger.WithFields(logging.Fields{
			"event": "crosstab_workbook_error",
		}).WithError(err).Error("workbook render failed")
		return CrosstabResult{StationNames: names, Status: drova.StatusTransportError}
	}

	return CrosstabResult{
		Attachment: &Attachment{
			Filename: crosstabFilename(userID, withTime, daysLimit),
			Data:     buf.Bytes(),
		},
		StationNames: names,
		Status:       status,
	}
}

func (b *Builder) crosstabHeader(now time.Time, withTime bool, daysLimit int, first, last time.Time) string {
	header := now.Format("2006-01-02 15:04:05")
	if !withTime {
		return header
	}

	if daysLimit > 0 {
		return header + fmt.Sprintf(" данные за %d дней", daysLimit)
	}

	return header + fmt.Sprintf(" данные с %s по %s", first.Format("2006-01-02"), last.Format("2006-01-02")) +
		"\r\nу разных станций доступно разное количество сессий, дата начала взята с самой старой"
}

func (b *Builder) styleCrosstabHeader(wb *excelize.File, sheet string, wrap bool) {
	alignment := &excelize.Alignment{Horizontal: "center"}
	if wrap {
		alignment = &excelize.Alignment{WrapText: true}
	}

	style, err := wb.NewStyle(&excelize.Style{Alignment: alignment})
	if err != nil {
		return
	}
	_ = wb.SetCellStyle(sheet, "A1", "A1", style)
}

// setRowTotal writes the trailing SUM formula covering the station columns of
// one data row.
func (b *Builder) setRowTotal(wb *excelize.File, sheet string, row, lastCol, style int, widths []float64) {
	var formula strings.Builder
	formula.WriteString("SUM(")
	for col := 2; col < lastCol; col++ {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			continue
		}
		if col > 2 {
			formula.WriteString("+")
		}
		formula.WriteString(cell)
	}
	formula.WriteString(")")

	cell, err := excelize.CoordinatesToCellName(lastCol, row)
	if err != nil {
		return
	}

	_ = wb.SetCellFormula(sheet, cell, formula.String())
	_ = wb.SetCellStyle(sheet, cell, cell, style)

	if w := float64(formula.Len() + 1); w > widths[lastCol-1] {
		widths[lastCol-1] = w
	}
}

func crosstabFilename(userID string, withTime bool, daysLimit int) string {
	switch {
	case withTime && daysLimit > 0:
		return fmt.Sprintf("productStatesDays%d_%s.xlsx", daysLimit, userID)
	case withTime:
		return fmt.Sprintf("productStatesWithTime%s.xlsx", userID)
	default:
		return fmt.Sprintf("productStates%s.xlsx", userID)
	}
}

func strPtr(s string) *string {
	return &s
}
