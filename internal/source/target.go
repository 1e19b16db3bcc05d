package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/cohortwatch/internal/domain"
)

// ErrUnsupportedFormat is returned for seed files that are neither csv nor xlsx.
var ErrUnsupportedFormat = errors.New("unsupported seed file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Target is one company to observe during a crawl.
type Target struct {
	ExternalID  string `json:"external_id" validate:"required,max=200,excludesall=/?#"`
	DisplayName string `json:"display_name" validate:"max=200"`
	URL         string `json:"url" validate:"required,http_url"`
}

// WithDefaults trims fields and derives a missing URL from baseURL.
func (t Target) WithDefaults(baseURL string) Target {
	t.ExternalID = strings.TrimSpace(t.ExternalID)
	t.DisplayName = strings.TrimSpace(t.DisplayName)
	t.URL = strings.TrimSpace(t.URL)
	if t.URL == "" && t.ExternalID != "" && baseURL != "" {
		t.URL = CompanyURL(baseURL, t.ExternalID)
	}
	return t
}

// Validate reports the first invalid field as a *domain.ValidationError.
func (t Target) Validate() error {
	if err := validate.Struct(t); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &domain.ValidationError{Field: fe.Field(), Reason: "failed " + fe.Tag()}
		}
		return &domain.ValidationError{Field: "target", Reason: err.Error()}
	}
	return nil
}

var columnAliases = map[string]string{
	"external_id":  "external_id",
	"id":           "external_id",
	"slug":         "external_id",
	"company_id":   "external_id",
	"name":         "display_name",
	"display_name": "display_name",
	"company":      "display_name",
	"url":          "url",
	"link":         "url",
}

// LoadTargets reads a seed list from a .csv or .xlsx file. The first non-empty
// row is the header; rows without an external id are skipped. Duplicate ids
// keep their first row.
func LoadTargets(fileName string, data []byte, baseURL string) ([]Target, error) {
	records, err := parseTable(fileName, data)
	if err != nil {
		return nil, err
	}

	var header []string
	targets := []Target{}
	seen := make(map[string]struct{})
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if header == nil {
			header = sanitizeHeaders(row)
			if !hasColumn(header, "external_id") {
				return nil, &domain.ValidationError{Field: "header", Reason: "no external_id, id or slug column"}
			}
			continue
		}

		var target Target
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			switch columnAliases[header[i]] {
			case "external_id":
				target.ExternalID = cell
			case "display_name":
				target.DisplayName = cell
			case "url":
				target.URL = cell
			}
		}
		target = target.WithDefaults(baseURL)
		if target.ExternalID == "" {
			continue
		}
		if _, dup := seen[target.ExternalID]; dup {
			continue
		}
		seen[target.ExternalID] = struct{}{}
		targets = append(targets, target)
	}

	if header == nil {
		return nil, errors.New("no rows found in file")
	}
	return targets, nil
}

func hasColumn(header []string, canonical string) bool {
	for _, name := range header {
		if columnAliases[name] == canonical {
			return true
		}
	}
	return false
}

func parseTable(fileName string, payload []byte) ([][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) ([][]string, error) {
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
	return records, nil
}

func parseExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
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

// sanitizeHeaders lower-cases header cells and maps separators to underscores.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.NewReplacer(" ", "_", ".", "_", "-", "_").Replace(name)
		headers[idx] = strings.Trim(name, "_")
	}
	return headers
}
