package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/duckquery/duckquery/internal/dataset"
)

// archiveRow stores one dataset row as a JSON object keyed by column name.
// Column types live in the catalog entry next to the object key.
type archiveRow struct {
	RowIndex    int64  `parquet:"row_index"`
	PayloadJSON string `parquet:"payload_json"`
}

func EncodeParquet(batch Batch) ([]byte, error) {
	if len(batch.Columns) == 0 {
		return nil, ErrNoColumns
	}

	rows := make([]archiveRow, 0, len(batch.Rows))
	for index, values := range batch.Rows {
		if len(values) != len(batch.Columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", index, len(values), len(batch.Columns))
		}
		payload := make(map[string]any, len(values))
		for i, column := range batch.Columns {
			payload[column.Name] = archiveValue(values[i])
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode row %d: %w", index, err)
		}
		rows = append(rows, archiveRow{RowIndex: int64(index), PayloadJSON: string(encoded)})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[archiveRow](buf)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet rebuilds a batch from an archive using the recorded columns.
func DecodeParquet(data []byte, columns []dataset.Column) (Batch, error) {
	if len(columns) == 0 {
		return Batch{}, ErrNoColumns
	}
	reader := parquet.NewGenericReader[archiveRow](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	archived := make([]archiveRow, reader.NumRows())
	if len(archived) > 0 {
		read, err := reader.Read(archived)
		if err != nil && !errors.Is(err, io.EOF) {
			return Batch{}, fmt.Errorf("read parquet rows: %w", err)
		}
		archived = archived[:read]
	}

	rows := make([][]any, len(archived))
	for _, item := range archived {
		if item.RowIndex < 0 || item.RowIndex >= int64(len(rows)) {
			return Batch{}, fmt.Errorf("archive row index %d out of range", item.RowIndex)
		}
		decoder := json.NewDecoder(bytes.NewReader([]byte(item.PayloadJSON)))
		decoder.UseNumber()
		payload := map[string]any{}
		if err := decoder.Decode(&payload); err != nil {
			return Batch{}, fmt.Errorf("decode archive row %d: %w", item.RowIndex, err)
		}
		row := make([]any, len(columns))
		for i, column := range columns {
			value, err := restoreValue(payload[column.Name], column.Type)
			if err != nil {
				return Batch{}, fmt.Errorf("archive row %d column %q: %w", item.RowIndex, column.Name, err)
			}
			row[i] = value
		}
		rows[item.RowIndex] = row
	}

	restored := make([]dataset.Column, len(columns))
	copy(restored, columns)
	return Batch{Columns: restored, Rows: rows}, nil
}

func archiveValue(value any) any {
	if ts, ok := value.(time.Time); ok {
		return ts.UTC().Format(time.RFC3339Nano)
	}
	return value
}

func restoreValue(value any, columnType dataset.ColumnType) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch columnType {
	case dataset.TypeInteger:
		number, ok := value.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", value)
		}
		return number.Int64()
	case dataset.TypeFloat:
		number, ok := value.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected float, got %T", value)
		}
		return number.Float64()
	case dataset.TypeBoolean:
		flag, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", value)
		}
		return flag, nil
	case dataset.TypeTimestamp:
		text, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp string, got %T", value)
		}
		return time.Parse(time.RFC3339Nano, text)
	default:
		switch typed := value.(type) {
		case string:
			return typed, nil
		case json.Number:
			return typed.String(), nil
		case bool:
			return strconv.FormatBool(typed), nil
		default:
			return fmt.Sprint(typed), nil
		}
	}
}
