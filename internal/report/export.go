package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"tg_station_report_bot/internal/drova"
	"tg_station_report_bot/internal/logging"
)

// exportColumns is the fixed CSV column order: derived columns first, then the
// raw vendor fields.
var exportColumns = []string{
	"Game name", "creator_ip", "City", "RangeKm", "ASN", "Date", "Duration",
	"Start time", "Finish time", "billing_type", "status", "abort_comment",
	"client_id", "id", "uuid", "server_id", "merchant_id", "product_id",
	"created_on", "finished_on", "score", "score_reason", "score_text",
	"parent", "sched_hints",
}

// workbookColumns is the one-file sheet layout: the CSV columns minus the
// always-empty raw fields, plus the station name to disambiguate rows.
var workbookColumns = append(append([]string{}, exportColumns[:23]...), "Station Name")

// ExportResult is the outcome of a session export.
type ExportResult struct {
	Attachments  []Attachment
	StationNames map[string]string
	Status       int
}

// ExportSessions dumps the full session history of every station, enriched
// with the derived columns, either as one CSV per station or as a single
// workbook with a Station Name column and full timestamps. A station whose
// fetch fails is skipped without aborting the rest.
func (b *Builder) ExportSessions(ctx context.Context, token, userID string, oneFile bool, titles map[string]string) ExportResult {
	servers, status := b.gw.Servers(ctx, token, userID)
	if status != http.StatusOK || servers == nil {
		return ExportResult{Status: status}
	}

	names := stationNameMap(servers)

	var attachments []Attachment
	var wb *excelize.File
	var sheet string
	var widths []float64
	workbookRow := 1

	if oneFile {
		wb = excelize.NewFile()
		sheet = wb.GetSheetName(0)
		widths = make([]float64, len(workbookColumns))
	}

	for _, server := range servers {
		list, st := b.gw.Sessions(ctx, token, server.UUID, "", 0)
		if st != http.StatusOK || list == nil {
			b.logger.WithFields(logging.Fields{
				"event":   "export_station_skipped",
				"station": server.UUID,
				"status":  st,
			}).Warn("session fetch failed, skipping station")
			continue
		}

		if oneFile {
			workbookRow = b.appendWorkbookRows(wb, sheet, server, list.Sessions, titles, widths, workbookRow)
			continue
		}

		doc, err := b.stationCSV(server, list.Sessions, titles)
		if err != nil {
			b.logger.WithFields(logging.Fields{
				"event":   "export_station_skipped",
				"station": server.UUID,
			}).WithError(err).Warn("csv render failed, skipping station")
			continue
		}

		attachments = append(attachments, Attachment{
			Filename: "sessions-" + server.Name + ".csv",
			Data:     doc,
		})
	}

	if oneFile && workbookRow > 1 {
		applyColumnWidths(wb, sheet, widths)

		buf, err := wb.WriteToBuffer()
		if err != nil {
			b.logger.WithFields(logging.Fields{
				"event": "export_workbook_error",
			}).WithError(err).Error("workbook render failed")
			return ExportResult{StationNames: names, Status: drova.StatusTransportError}
		}

		attachments = append(attachments, Attachment{
			Filename: fmt.Sprintf("data%s.xlsx", userID),
			Data:     buf.Bytes(),
		})
	}

	return ExportResult{
		Attachments:  attachments,
		StationNames: names,
		Status:       status,
	}
}

func (b *Builder) stationCSV(server drova.Server, sessions []drova.Session, titles map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true

	if err := w.Write(exportColumns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, s := range sessions {
		record := b.sessionRecord(s, server, titles, false)
		row := make([]string, len(exportColumns))
		for i, col := range exportColumns {
			row[i] = record[col]
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return buf.Bytes(), nil
}

func (b *Builder) appendWorkbookRows(wb *excelize.File, sheet string, server drova.Server, sessions []drova.Session, titles map[string]string, widths []float64, nextRow int) int {
	if len(sessions) == 0 {
		return nextRow
	}

	if nextRow == 1 {
		writeSheetRow(wb, sheet, 1, workbookColumns, widths)
		nextRow = 2
	}

	for _, s := range sessions {
		record := b.sessionRecord(s, server, titles, true)
		record["Station Name"] = server.Name

		row := make([]string, len(workbookColumns))
		for i, col := range workbookColumns {
			row[i] = record[col]
		}
		writeSheetRow(wb, sheet, nextRow, row, widths)
		nextRow++
	}

	return nextRow
}

// sessionRecord flattens one session into the export column set. With
// fullTimestamps the raw epoch columns are rendered as readable timestamps
// for the workbook layout instead of milliseconds.
func (b *Builder) sessionRecord(s drova.Session, server drova.Server, titles map[string]string, fullTimestamps bool) map[string]string {
	title, ok := titles[s.ProductID]
	if !ok {
		title = UnknownGame
	}

	started := time.UnixMilli(s.CreatedOn)

	finish := "Now"
	finishedOn := ""
	if s.FinishedOn != nil {
		finish = time.UnixMilli(*s.FinishedOn).Format("15:04:05")
		if fullTimestamps {
			finishedOn = time.UnixMilli(*s.FinishedOn).Format("2006-01-02 15:04:05")
		} else {
			finishedOn = strconv.FormatInt(*s.FinishedOn, 10)
		}
	}

	createdOn := strconv.FormatInt(s.CreatedOn, 10)
	if fullTimestamps {
		createdOn = started.Format("2006-01-02 15:04:05")
	}

	score := ""
	if s.Score != nil {
		score = strconv.Itoa(*s.Score)
	}

	return map[string]string{
		"Game name":     title,
		"creator_ip":    s.CreatorIP,
		"City":          b.geo.City(s.CreatorIP, defaultCityOr),
		"RangeKm":       formatRangeKm(b.geo.DistanceKm(server.Latitude, server.Longitude, s.CreatorIP)),
		"ASN":           b.geo.Org(s.CreatorIP, defaultCityOr),
		"Date":          started.Format("2006-01-02"),
		"Duration":      FormatDuration(SessionDuration(s, b.now()), false),
		"Start time":    started.Format("15:04:05"),
		"Finish time":   finish,
		"billing_type":  derefString(s.BillingType),
		"status":        s.Status,
		"abort_comment": derefString(s.AbortComment),
		"client_id":     s.ClientID,
		"id":            s.ID,
		"uuid":          s.UUID,
		"server_id":     s.ServerID,
		"merchant_id":   s.MerchantID,
		"product_id":    s.ProductID,
		"created_on":    createdOn,
		"finished_on":   finishedOn,
		"score":         score,
		"score_reason":  derefString(s.ScoreReason),
		"score_text":    derefString(s.ScoreText),
		"parent":        "",
		"sched_hints":   "",
	}
}

func formatRangeKm(km float64) string {
	if km == -1 {
		return "-1"
	}

	return strconv.FormatFloat(km, 'f', 1, 64)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

func writeSheetRow(wb *excelize.File, sheet string, row int, values []string, widths []float64) {
	for i, value := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			continue
		}
		_ = wb.SetCellValue(sheet, cell, value)

		if value != "" && float64(len(value)) > widths[i] {
			widths[i] = float64(len(value))
		}
	}
}

func applyColumnWidths(wb *excelize.File, sheet string, widths []float64) {
	for i, w := range widths {
		if w == 0 {
			continue
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			continue
		}
		_ = wb.SetColWidth(sheet, col, col, w*1.1)
	}
}
