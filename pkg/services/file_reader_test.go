package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestReadCSV(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte(
		"First Name ,Last Name,Glucose\nJane,Doe,90\nJohn,Smith,105\n"))

	data, err := NewFileReader(zap.NewNop()).Read(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"First Name", "Last Name", "Glucose"}, data.Columns)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "Jane", data.Rows[0]["First Name"])
	assert.Equal(t, "105", data.Rows[1]["Glucose"])
}

func TestReadCSVLatin1Fallback(t *testing.T) {
	// "José" in latin-1: 0xE9 is not valid utf-8.
	content := append([]byte("Name\nJos"), 0xE9, '\n')
	path := writeTempFile(t, "latin1.csv", content)

	data, err := NewFileReader(zap.NewNop()).Read(path)
	require.NoError(t, err)

	require.Len(t, data.Rows, 1)
	assert.Equal(t, "José", data.Rows[0]["Name"])
}

func TestReadCSVShortRowsPadEmpty(t *testing.T) {
	path := writeTempFile(t, "short.csv", []byte("A,B,C\n1,2\n"))

	data, err := NewFileReader(zap.NewNop()).Read(path)
	require.NoError(t, err)

	require.Len(t, data.Rows, 1)
	assert.Equal(t, "", data.Rows[0]["C"])
}

func TestReadMissingFile(t *testing.T) {
	_, err := NewFileReader(zap.NewNop()).Read(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestReadUnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "data.txt", []byte("whatever"))

	_, err := NewFileReader(zap.NewNop()).Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{" First Name ", "Glucose"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Jane", 90}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"John"}))

	path := filepath.Join(t.TempDir(), "data.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	data, err := NewFileReader(zap.NewNop()).Read(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"First Name", "Glucose"}, data.Columns)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "90", data.Rows[0]["Glucose"])
	// Missing trailing cells coerce to empty string.
	assert.Equal(t, "", data.Rows[1]["Glucose"])
}
