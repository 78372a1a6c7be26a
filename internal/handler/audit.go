package handler

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"gowa-dispatch/internal/model"
)

const defaultAuditLimit = 100

type AuditHandler struct {
	audit model.AuditRepository
}

func NewAuditHandler(audit model.AuditRepository) *AuditHandler {
	return &AuditHandler{audit: audit}
}

type auditEntry struct {
	ID           int64                  `json:"id"`
	UserID       string                 `json:"userId"`
	SessionID    string                 `json:"sessionId,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resourceType,omitempty"`
	ResourceID   string                 `json:"resourceId,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

func toAuditEntry(l model.AuditLog) auditEntry {
	return auditEntry{
		ID:           l.ID,
		UserID:       l.UserID,
		SessionID:    l.SessionID.String,
		Action:       l.Action,
		ResourceType: l.ResourceType.String,
		ResourceID:   l.ResourceID.String,
		Details:      l.Details,
		CreatedAt:    l.CreatedAt,
	}
}

// GET /api/audit/:resourceType/:resourceId?limit=&format=json|xlsx|csv
func (h *AuditHandler) List(c echo.Context) error {
	resourceType := c.Param("resourceType")
	resourceID := c.Param("resourceId")
	if resourceType != model.AuditResourceCustomer && resourceType != model.AuditResourceJob {
		return ErrorResponse(c, http.StatusBadRequest, "resourceType must be customer or job", "VALIDATION_ERROR", "")
	}

	limit := defaultAuditLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			return ErrorResponse(c, http.StatusBadRequest, "limit must be between 1 and 1000", "VALIDATION_ERROR", "")
		}
		limit = n
	}

	logs, err := h.audit.ListByResource(c.Request().Context(), resourceType, resourceID, limit)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to load audit history", "INTERNAL_ERROR", err.Error())
	}

	entries := make([]auditEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, toAuditEntry(l))
	}

	switch c.QueryParam("format") {
	case "xlsx":
		return exportAuditExcel(c, entries, resourceType, resourceID)
	case "csv":
		return exportAuditCSV(c, entries, resourceType, resourceID)
	}

	return SuccessResponse(c, http.StatusOK, "Audit history", map[string]interface{}{
		"resourceType": resourceType,
		"resourceId":   resourceID,
		"total":        len(entries),
		"entries":      entries,
	})
}

var auditHeaders = []string{"No", "Time", "Action", "Session", "Details"}

func auditRow(i int, e auditEntry) []string {
	details := ""
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			details = string(b)
		}
	}
	return []string{
		strconv.Itoa(i + 1),
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.Action,
		e.SessionID,
		details,
	}
}

func exportAuditExcel(c echo.Context, entries []auditEntry, resourceType, resourceID string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Audit"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to create Excel sheet", "EXCEL_ERROR", err.Error())
	}

	for i, header := range auditHeaders {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	f.SetCellStyle(sheetName, "A1", "E1", headerStyle)

	for i, e := range entries {
		row := auditRow(i, e)
		for col, value := range row {
			f.SetCellValue(sheetName, fmt.Sprintf("%c%d", 'A'+col, i+2), value)
		}
	}

	f.SetColWidth(sheetName, "A", "A", 5)
	f.SetColWidth(sheetName, "B", "B", 22)
	f.SetColWidth(sheetName, "C", "C", 30)
	f.SetColWidth(sheetName, "D", "D", 12)
	f.SetColWidth(sheetName, "E", "E", 60)

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	filename := fmt.Sprintf("audit_%s_%s.xlsx", resourceType, resourceID)
	c.Response().Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	return f.Write(c.Response().Writer)
}

func exportAuditCSV(c echo.Context, entries []auditEntry, resourceType, resourceID string) error {
	c.Response().Header().Set("Content-Type", "text/csv")
	filename := fmt.Sprintf("audit_%s_%s.csv", resourceType, resourceID)
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(c.Response().Writer)
	defer writer.Flush()

	if err := writer.Write(auditHeaders); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to write CSV headers", "CSV_ERROR", err.Error())
	}
	for i, e := range entries {
		if err := writer.Write(auditRow(i, e)); err != nil {
			return err
		}
	}
	return nil
}
