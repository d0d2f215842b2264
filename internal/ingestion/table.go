package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var (
	// ErrUnsupportedFormat is returned when a source file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Table is a parsed source sheet: the header row and one value map per data
// row. Blank cells are absent from the row map.
type Table struct {
	Headers []string
	Rows    []map[string]any
}

// Limit returns a table truncated to the first n rows. n <= 0 keeps all rows.
func (t Table) Limit(n int) Table {
	if n <= 0 || n >= len(t.Rows) {
		return t
	}
	return Table{Headers: t.Headers, Rows: t.Rows[:n]}
}

// ReadFile parses a CSV or XLSX file from disk.
func ReadFile(path string) (Table, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ReadTable(filepath.Base(path), payload)
}

// ReadTable parses a CSV or XLSX payload. The format is chosen by extension.
func ReadTable(fileName string, payload []byte) (Table, error) {
	if len(payload) == 0 {
		return Table{}, errors.New("file is empty")
	}

	var (
		records [][]string
		err     error
	)
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv", ".txt":
		records, err = readCSV(payload)
	case ".xlsx", ".xlsm":
		records, err = readExcel(payload)
	default:
		return Table{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Table{}, err
	}
	return normalizeTable(records)
}

func readCSV(payload []byte) ([][]string, error) {
	var source io.Reader = bytes.NewReader(payload)
	if !utf8.Valid(payload) {
		// Legacy exports are Windows-1252 more often than anything else.
		source = transform.NewReader(source, charmap.Windows1252.NewDecoder())
	}

	reader := bufio.NewReader(source)
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true
	csvReader.Comma = detectDelimiter(payload)

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

// detectDelimiter picks between comma, semicolon and tab from the first line.
func detectDelimiter(payload []byte) rune {
	line := payload
	if idx := bytes.IndexByte(payload, '\n'); idx >= 0 {
		line = payload[:idx]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, candidate := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(candidate))); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}

func readExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	// Raw values keep date serials numeric so the transformer can decode them.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

func normalizeTable(records [][]string) (Table, error) {
	if len(records) == 0 {
		return Table{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}
	if headerRow == nil {
		return Table{}, errors.New("header row could not be detected")
	}

	headers := uniqueHeaders(headerRow)
	table := Table{Headers: headers, Rows: make([]map[string]any, 0, len(dataRows))}
	for _, raw := range dataRows {
		row := padRow(raw, len(headers))
		values := make(map[string]any, len(headers))
		for i, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			values[headers[i]] = cell
		}
		if len(values) == 0 {
			continue
		}
		table.Rows = append(table.Rows, values)
	}
	return table, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

// uniqueHeaders keeps the original header text, which dictionary lookups rely
// on, and only disambiguates blanks and duplicates.
func uniqueHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.Join(strings.Fields(value), " ")
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

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
