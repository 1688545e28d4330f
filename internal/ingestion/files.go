package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/prodtrace/prodtrace/internal/domain"
)

// ErrUnsupportedFormat is returned for file extensions the decoder cannot
// handle.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// DecodeFile turns an uploaded CSV or XLSX payload into keyed rows. The first
// non-empty row is the header; cells are keyed by the sanitized header name
// and row indexes are 1-based data-row positions in file order.
func DecodeFile(fileName string, payload []byte) ([]domain.Row, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return decodeCSV(payload)
	case ".xlsx":
		return decodeExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func decodeCSV(payload []byte) ([]domain.Row, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return keyRows(records)
}

func decodeExcel(payload []byte) ([]domain.Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return keyRows(records)
}

// keyRows detects the header row, sanitizes its names and maps every
// following non-empty row onto it.
func keyRows(records [][]string) ([]domain.Row, error) {
	var headers []string
	var rows []domain.Row

	for _, record := range records {
		if isEmptyRow(record) {
			continue
		}
		if headers == nil {
			headers = sanitizeHeaders(record)
			continue
		}

		cells := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(record) {
				cells[header] = strings.TrimSpace(record[i])
			} else {
				cells[header] = ""
			}
		}
		rows = append(rows, domain.Row{Index: len(rows) + 1, Cells: cells})
	}

	if headers == nil {
		return nil, errors.New("header row could not be detected")
	}
	return rows, nil
}

// sanitizeHeaders lowercases and snake_cases raw header labels, numbering
// duplicates and blanks.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
