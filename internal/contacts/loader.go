package contacts

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"

	"github.com/example/emaileria/internal/models"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("contacts: unsupported file format")
	// ErrEmptyTable is returned when the file has a header but no data.
	ErrEmptyTable = errors.New("contacts: table has no data rows")
)

// MissingColumnsError reports required columns absent from the header.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("contacts: required column(s) missing: %s (every table needs %s, matched case-insensitively)",
		strings.Join(e.Missing, ", "), strings.Join(models.RequiredKeys, ", "))
}

// Options select which part of a table is loaded.
type Options struct {
	// Sheet names the workbook sheet; empty selects the first one.
	Sheet string
	// Offset skips that many contacts after blank rows and rows without an
	// email are removed.
	Offset int
	// Limit caps the number of contacts returned; 0 means no cap.
	Limit int
}

// Table holds the contacts read from a file.
type Table struct {
	Headers []string
	Records []models.ContactRecord
	// Rows holds the 1-based data row of each record, counting non-blank
	// rows only.
	Rows []int
	// Skipped counts rows dropped because their email cell was empty.
	Skipped int
	Sheet   string
}

// Load reads contacts from a .csv or .xlsx file.
func Load(path string, opts Options) (*Table, error) {
	var (
		raw   [][]string
		sheet string
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		raw, err = readCSV(path)
	case ".xlsx", ".xlsm":
		raw, sheet, err = readWorkbook(path, opts.Sheet)
	default:
		return nil, fmt.Errorf("%w: %q (use .csv or .xlsx)", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	table, err := build(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	table.Sheet = sheet
	table.window(opts.Offset, opts.Limit)
	return table, nil
}

// Sheets lists the sheets of a workbook. CSV files have none.
func Sheets(path string) ([]string, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".xlsx" && ext != ".xlsm" {
		return nil, nil
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("contacts: open workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

func build(raw [][]string) (*Table, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyTable
	}

	headers := normalizeHeaders(raw[0])
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	var missing []string
	for _, key := range models.RequiredKeys {
		if !present[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingColumnsError{Missing: missing}
	}

	table := &Table{Headers: headers}
	dataRow := 0
	for _, cells := range raw[1:] {
		if isBlank(cells) {
			continue
		}
		dataRow++
		rec := make(models.ContactRecord, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			var cell string
			if i < len(cells) {
				cell = strings.TrimSpace(cells[i])
			}
			if cell == "" {
				rec[h] = nil
				continue
			}
			rec[h] = cell
		}
		if models.FormatValue(rec[models.KeyEmail]) == "" {
			table.Skipped++
			continue
		}
		table.Records = append(table.Records, rec)
		table.Rows = append(table.Rows, dataRow)
	}
	if dataRow == 0 {
		return nil, ErrEmptyTable
	}
	return table, nil
}

func (t *Table) window(offset, limit int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(t.Records) {
		offset = len(t.Records)
	}
	end := len(t.Records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	t.Records = t.Records[offset:end]
	t.Rows = t.Rows[offset:end]
}

// normalizeHeaders trims every header and lowercases the required ones.
func normalizeHeaders(row []string) []string {
	return lo.Map(row, func(h string, _ int) string {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if models.IsRequiredKey(h) {
			return strings.ToLower(h)
		}
		return h
	})
}

func isBlank(cells []string) bool {
	return lo.EveryBy(cells, func(c string) bool { return strings.TrimSpace(c) == "" })
}

func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("contacts: read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = detectDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("contacts: parse %s: %w", filepath.Base(path), err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// detectDelimiter picks ';' when the header line uses it more than ','.
func detectDelimiter(data []byte) rune {
	line, _, _ := bufio.NewReader(bytes.NewReader(data)).ReadLine()
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func readWorkbook(path, sheet string) ([][]string, string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("contacts: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, "", ErrEmptyTable
	}
	if sheet == "" {
		sheet = sheets[0]
	} else if !lo.Contains(sheets, sheet) {
		return nil, "", fmt.Errorf("contacts: sheet %q not found (available: %s)", sheet, strings.Join(sheets, ", "))
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, "", fmt.Errorf("contacts: read sheet %q: %w", sheet, err)
	}
	return rows, sheet, nil
}
