package helper

import (
	"bytes"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sheetHeader(name, contentType string, size int64) *multipart.FileHeader {
	h := textproto.MIMEHeader{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &multipart.FileHeader{Filename: name, Header: h, Size: size}
}

func TestValidateSheetFile(t *testing.T) {
	xlsx := "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	tests := []struct {
		name    string
		header  *multipart.FileHeader
		wantErr bool
	}{
		{name: "valid", header: sheetHeader("targets.xlsx", xlsx, 1024)},
		{name: "upper case extension", header: sheetHeader("TARGETS.XLSX", xlsx, 1024)},
		{name: "no content type", header: sheetHeader("targets.xlsx", "", 1024)},
		{name: "empty", header: sheetHeader("targets.xlsx", xlsx, 0), wantErr: true},
		{name: "too large", header: sheetHeader("targets.xlsx", xlsx, MaxSheetSizeBytes+1), wantErr: true},
		{name: "csv", header: sheetHeader("targets.csv", "text/csv", 1024), wantErr: true},
		{name: "wrong mime", header: sheetHeader("targets.xlsx", "image/png", 1024), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSheetFile(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckSheetMagicBytes(t *testing.T) {
	t.Run("zip signature passes and rewinds", func(t *testing.T) {
		r := bytes.NewReader([]byte{0x50, 0x4B, 0x03, 0x04, 0x14, 0x00})
		assert.NoError(t, CheckSheetMagicBytes(r))
		assert.Equal(t, 6, r.Len())
	})

	t.Run("other content fails", func(t *testing.T) {
		assert.Error(t, CheckSheetMagicBytes(bytes.NewReader([]byte("name,phone\n"))))
	})

	t.Run("short content fails", func(t *testing.T) {
		assert.Error(t, CheckSheetMagicBytes(bytes.NewReader([]byte{0x50})))
	})
}
