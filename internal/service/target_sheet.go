package service

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

var sheetColumns = map[string]string{
	"customer_id":     "customer_id",
	"id":              "customer_id",
	"name":            "name",
	"phone":           "phone",
	"phone_number":    "phone",
	"secondary_phone": "secondary_phone",
	"phone2":          "secondary_phone",
	"message":         "message",
}

// ParseTargetSheet reads targets from the first sheet of an xlsx workbook.
// Row 1 is the header. Columns named message, message2, ... each add one
// message; rows without any message get defaultMessage.
func ParseTargetSheet(r io.Reader, defaultMessage string) ([]Target, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %q has no data rows", sheets[0])
	}

	columns := make([]string, len(rows[0]))
	hasPhone := false
	for i, header := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(header))
		key = strings.ReplaceAll(key, " ", "_")
		if strings.HasPrefix(key, "message") {
			columns[i] = "message"
			continue
		}
		columns[i] = sheetColumns[key]
		if columns[i] == "phone" {
			hasPhone = true
		}
	}
	if !hasPhone {
		return nil, fmt.Errorf("sheet %q has no phone column", sheets[0])
	}

	var targets []Target
	for _, row := range rows[1:] {
		var t Target
		for i, cell := range row {
			if i >= len(columns) {
				break
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			switch columns[i] {
			case "customer_id":
				t.CustomerID = cell
			case "name":
				t.Name = cell
			case "phone":
				t.Phone = cell
			case "secondary_phone":
				t.SecondaryPhone = cell
			case "message":
				t.Messages = append(t.Messages, cell)
			}
		}
		if t.Phone == "" && t.SecondaryPhone == "" {
			continue
		}
		if len(t.Messages) == 0 && defaultMessage != "" {
			t.Messages = []string{defaultMessage}
		}
		targets = append(targets, t)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("sheet %q has no rows with a phone number", sheets[0])
	}
	return targets, nil
}
