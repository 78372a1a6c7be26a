package service

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseTargetSheet(t *testing.T) {
	t.Run("reads named columns and several messages", func(t *testing.T) {
		buf := workbook(t, [][]interface{}{
			{"Name", "Phone", "Secondary Phone", "Message", "Message 2"},
			{"Dana", "050-123-4567", "052-999-9999", "hello", "bye"},
			{"Avi", "0541111111", "", "", ""},
			{"No phone", "", "", "ignored", ""},
		})

		targets, err := ParseTargetSheet(buf, "default text")
		require.NoError(t, err)
		require.Len(t, targets, 2)

		assert.Equal(t, Target{
			Name:           "Dana",
			Phone:          "050-123-4567",
			SecondaryPhone: "052-999-9999",
			Messages:       []string{"hello", "bye"},
		}, targets[0])
		assert.Equal(t, []string{"default text"}, targets[1].Messages)
	})

	t.Run("requires a phone column", func(t *testing.T) {
		buf := workbook(t, [][]interface{}{
			{"Name", "Message"},
			{"Dana", "hello"},
		})
		_, err := ParseTargetSheet(buf, "")
		assert.Error(t, err)
	})

	t.Run("header only", func(t *testing.T) {
		buf := workbook(t, [][]interface{}{{"Phone"}})
		_, err := ParseTargetSheet(buf, "")
		assert.Error(t, err)
	})

	t.Run("not a workbook", func(t *testing.T) {
		_, err := ParseTargetSheet(bytes.NewBufferString("phone\n0501234567\n"), "")
		assert.Error(t, err)
	})
}
