// Package services contains the business logic for biomark-engine.
package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// TableData is the uniform in-memory form of an uploaded spreadsheet:
// an ordered column list plus one string map per data row.
type TableData struct {
	Columns []string
	Rows    []map[string]string
}

// FileReader loads CSV and Excel files into TableData.
type FileReader interface {
	Read(path string) (*TableData, error)
}

type fileReader struct {
	logger *zap.Logger
}

// NewFileReader creates a new file reader.
func NewFileReader(logger *zap.Logger) FileReader {
	return &fileReader{logger: logger.Named("file_reader")}
}

func (r *fileReader) Read(path string) (*TableData, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file not found: %s: %w", filepath.Base(path), err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return r.readCSV(path)
	case ".xlsx", ".xls":
		return r.readExcel(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
}

// csvDecoders is the fallback order for CSV character encodings. Files from
// older clinical exports are frequently latin-1 or windows-1252.
var csvDecoders = []struct {
	name    string
	charmap *charmap.Charmap
}{
	{"utf-8", nil},
	{"latin-1", charmap.ISO8859_1},
	{"cp1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
}

func (r *fileReader) readCSV(path string) (*TableData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var decoded string
	decodedOK := false
	for _, dec := range csvDecoders {
		if dec.charmap == nil {
			if utf8.Valid(raw) {
				decoded = string(raw)
				decodedOK = true
			}
		} else if out, _, err := transform.Bytes(dec.charmap.NewDecoder(), raw); err == nil {
			decoded = string(out)
			decodedOK = true
			r.logger.Debug("decoded csv with fallback encoding",
				zap.String("encoding", dec.name),
				zap.String("file", filepath.Base(path)))
		}
		if decodedOK {
			break
		}
	}
	if !decodedOK {
		// Lossy utf-8: replace invalid sequences rather than failing.
		decoded = strings.ToValidUTF8(string(raw), "�")
		r.logger.Warn("csv decoding fell back to lossy utf-8",
			zap.String("file", filepath.Base(path)))
	}

	reader := csv.NewReader(strings.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return &TableData{}, nil
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	columns := cleanColumns(header)
	data := &TableData{Columns: columns}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			} else {
				row[col] = ""
			}
		}
		data.Rows = append(data.Rows, row)
	}
	return data, nil
}

func (r *fileReader) readExcel(path string) (*TableData, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &TableData{}, nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(rows) == 0 {
		return &TableData{}, nil
	}

	columns := cleanColumns(rows[0])
	data := &TableData{Columns: columns}
	for _, record := range rows[1:] {
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			} else {
				row[col] = ""
			}
		}
		data.Rows = append(data.Rows, row)
	}
	return data, nil
}

func cleanColumns(header []string) []string {
	columns := make([]string, 0, len(header))
	for _, h := range header {
		columns = append(columns, strings.TrimSpace(h))
	}
	return columns
}
