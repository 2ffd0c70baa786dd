package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/duckquery/duckquery/internal/dataset"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var (
	ErrNoColumns         = errors.New("dataset has no columns")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrInvalidTableName  = errors.New("invalid table name")
)

// ParseError marks a body that could not be read as the declared format.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s dataset: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "csv", "text/csv":
		return FormatCSV, nil
	case "json", "application/json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// Batch is a parsed upload: typed columns and rows whose values match them.
type Batch struct {
	Columns []dataset.Column
	Rows    [][]any
}

func Parse(format Format, r io.Reader) (Batch, error) {
	var (
		batch Batch
		err   error
	)
	switch format {
	case FormatCSV:
		batch, err = ParseCSV(r)
	case FormatJSON:
		batch, err = ParseJSON(r)
	default:
		return Batch{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil && !errors.Is(err, ErrNoColumns) {
		return Batch{}, &ParseError{Format: format, Err: err}
	}
	return batch, err
}

// ParseCSV reads a header row then data rows. Short rows are padded with
// nulls; long rows are an error.
func ParseCSV(r io.Reader) (Batch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Batch{}, ErrNoColumns
		}
		return Batch{}, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	raw := make([][]any, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return Batch{}, fmt.Errorf("csv parse error at line %d, column %d: %w", parseErr.Line, parseErr.Column, parseErr.Err)
			}
			return Batch{}, fmt.Errorf("read csv row %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" && len(header) > 1 {
			continue
		}
		if len(record) > len(header) {
			return Batch{}, fmt.Errorf("csv row %d has %d fields, header has %d", line, len(record), len(header))
		}
		row := make([]any, len(header))
		for i, cell := range record {
			row[i] = cell
		}
		raw = append(raw, row)
	}
	return buildBatch(header, raw)
}

// ParseJSON accepts an array of objects or an object with a "rows" array.
// Column order follows first appearance of each key.
func ParseJSON(r io.Reader) (Batch, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	token, err := decoder.Token()
	if err != nil {
		return Batch{}, fmt.Errorf("read json: %w", err)
	}
	switch token {
	case json.Delim('['):
	case json.Delim('{'):
		if err := seekRowsKey(decoder); err != nil {
			return Batch{}, err
		}
	default:
		return Batch{}, fmt.Errorf("json dataset must be an array of objects or an object with a rows array")
	}

	names := make([]string, 0)
	index := map[string]int{}
	objects := make([]map[string]any, 0)
	for decoder.More() {
		object, keys, err := readObject(decoder)
		if err != nil {
			return Batch{}, fmt.Errorf("json row %d: %w", len(objects)+1, err)
		}
		for _, key := range keys {
			if _, ok := index[key]; !ok {
				index[key] = len(names)
				names = append(names, key)
			}
		}
		objects = append(objects, object)
	}
	if _, err := decoder.Token(); err != nil {
		return Batch{}, fmt.Errorf("read json: %w", err)
	}

	raw := make([][]any, 0, len(objects))
	for _, object := range objects {
		row := make([]any, len(names))
		for key, value := range object {
			row[index[key]] = value
		}
		raw = append(raw, row)
	}
	return buildBatch(names, raw)
}

func seekRowsKey(decoder *json.Decoder) error {
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("read json: %w", err)
		}
		key, _ := keyToken.(string)
		if key != "rows" {
			var skip json.RawMessage
			if err := decoder.Decode(&skip); err != nil {
				return fmt.Errorf("read json: %w", err)
			}
			continue
		}
		open, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("read json: %w", err)
		}
		if open != json.Delim('[') {
			return fmt.Errorf("json rows must be an array")
		}
		return nil
	}
	return fmt.Errorf("json object has no rows array")
}

func readObject(decoder *json.Decoder) (map[string]any, []string, error) {
	open, err := decoder.Token()
	if err != nil {
		return nil, nil, err
	}
	if open != json.Delim('{') {
		return nil, nil, fmt.Errorf("expected an object")
	}
	object := map[string]any{}
	keys := make([]string, 0)
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := keyToken.(string)
		var value any
		if err := decoder.Decode(&value); err != nil {
			return nil, nil, err
		}
		if _, seen := object[key]; !seen {
			keys = append(keys, key)
		}
		object[key] = value
	}
	if _, err := decoder.Token(); err != nil {
		return nil, nil, err
	}
	return object, keys, nil
}

func buildBatch(header []string, raw [][]any) (Batch, error) {
	if len(header) == 0 {
		return Batch{}, ErrNoColumns
	}
	names := SanitizeColumnNames(header)

	texts := make([][]*string, len(raw))
	for r, row := range raw {
		texts[r] = make([]*string, len(header))
		for c, value := range row {
			texts[r][c] = cellText(value)
		}
	}

	columns := make([]dataset.Column, len(names))
	for c, name := range names {
		values := make([]*string, len(texts))
		for r := range texts {
			values[r] = texts[r][c]
		}
		columnType, nullable := inferColumn(values)
		columns[c] = dataset.Column{Name: name, Type: columnType, Nullable: nullable}
	}

	rows := make([][]any, len(texts))
	for r, cells := range texts {
		row := make([]any, len(columns))
		for c, cell := range cells {
			value, err := convertCell(cell, columns[c].Type)
			if err != nil {
				return Batch{}, fmt.Errorf("row %d column %q: %w", r+1, columns[c].Name, err)
			}
			row[c] = value
		}
		rows[r] = row
	}
	return Batch{Columns: columns, Rows: rows}, nil
}

// cellText returns nil for null or blank cells.
func cellText(value any) *string {
	var text string
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		text = typed
	case json.Number:
		text = typed.String()
	case bool:
		if typed {
			text = "true"
		} else {
			text = "false"
		}
	default:
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		encoder.SetEscapeHTML(false)
		if err := encoder.Encode(typed); err != nil {
			text = fmt.Sprint(typed)
		} else {
			text = strings.TrimSpace(buf.String())
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return &text
}
