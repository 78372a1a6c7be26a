package helper

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
)

const (
	MaxSheetSizeMB    = 5
	MaxSheetSizeBytes = MaxSheetSizeMB * 1024 * 1024
)

var (
	AllowedSheetExtensions = []string{".xlsx"}
	AllowedSheetMIMETypes  = []string{
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/octet-stream",
		"application/zip",
	}
)

// xlsx adalah zip, jadi signature-nya "PK\x03\x04"
var sheetMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// ValidateSheetFile checks size, extension and declared MIME type of an upload.
func ValidateSheetFile(fileHeader *multipart.FileHeader) error {
	if fileHeader.Size > MaxSheetSizeBytes {
		return fmt.Errorf("file too large: max size is %dMB", MaxSheetSizeMB)
	}
	if fileHeader.Size == 0 {
		return fmt.Errorf("file is empty")
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !contains(AllowedSheetExtensions, ext) {
		return fmt.Errorf("invalid file type: only XLSX is allowed")
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType != "" && !contains(AllowedSheetMIMETypes, contentType) {
		return fmt.Errorf("invalid MIME type: %s", contentType)
	}
	return nil
}

// CheckSheetMagicBytes validates the file signature and rewinds the file.
func CheckSheetMagicBytes(file io.ReadSeeker) error {
	buffer := make([]byte, len(sheetMagic))
	n, err := io.ReadFull(file, buffer)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to reset file pointer: %w", err)
	}

	if n < len(sheetMagic) || !bytes.Equal(buffer, sheetMagic) {
		return fmt.Errorf("invalid file signature: not a valid xlsx file")
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
