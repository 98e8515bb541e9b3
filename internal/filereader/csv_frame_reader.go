// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package filereader turns input files into frames for the pipeline. It is
// the producer-side counterpart of the sinks and is also used by tests to
// parse sink output back.
package filereader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cardinalhq/streamsink/internal/pipeline"
)

// CSVFrameReader reads a headered CSV stream into frames. When a schema is
// supplied, values are parsed to the schema's types; otherwise every column
// is read as a string.
type CSVFrameReader struct {
	reader    *csv.Reader
	schema    *pipeline.Schema
	closer    io.Closer
	batchSize int
	rowIndex  int
	closed    bool
}

// NewCSVFrameReader creates a reader over rc. The reader takes ownership of
// rc and closes it on Close. The first record is consumed as the header; a
// nil schema is inferred from it with all-string fields.
func NewCSVFrameReader(rc io.ReadCloser, schema *pipeline.Schema, batchSize int) (*CSVFrameReader, error) {
	csvReader := csv.NewReader(rc)
	csvReader.FieldsPerRecord = -1

	headers, err := csvReader.Read()
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("filereader: read CSV headers: %w", err)
	}
	if len(headers) == 0 {
		_ = rc.Close()
		return nil, fmt.Errorf("filereader: CSV file has no headers")
	}

	if schema == nil {
		fields := make([]pipeline.Field, len(headers))
		for i, h := range headers {
			fields[i] = pipeline.Field{Name: h, Type: pipeline.TypeString}
		}
		schema = pipeline.NewSchema(fields...)
	} else if schema.Len() != len(headers) {
		_ = rc.Close()
		return nil, fmt.Errorf("filereader: schema has %d fields, CSV header has %d", schema.Len(), len(headers))
	}

	if batchSize <= 0 {
		batchSize = 1000
	}

	return &CSVFrameReader{
		reader:    csvReader,
		schema:    schema,
		closer:    rc,
		batchSize: batchSize,
	}, nil
}

// Schema returns the schema frames are produced with.
func (r *CSVFrameReader) Schema() *pipeline.Schema {
	return r.schema
}

// Next returns the next frame, or io.EOF once the stream ends.
func (r *CSVFrameReader) Next() (*pipeline.Frame, error) {
	if r.closed {
		return nil, io.EOF
	}

	frame := pipeline.NewFrame(r.schema, r.batchSize)
	for frame.Len() < r.batchSize {
		record, err := r.reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("filereader: CSV read error at line %d: %w", r.rowIndex+2, err)
		}
		r.rowIndex++

		if len(record) != r.schema.Len() {
			return nil, fmt.Errorf("filereader: line %d has %d fields, schema has %d", r.rowIndex+1, len(record), r.schema.Len())
		}

		vals := make([]any, len(record))
		for i, raw := range record {
			v, err := r.parseValue(raw, r.schema.Field(i))
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		if err := frame.AppendRow(vals...); err != nil {
			return nil, err
		}
	}

	if frame.Len() == 0 {
		r.closed = true
		return nil, io.EOF
	}
	return frame, nil
}

func (r *CSVFrameReader) parseValue(raw string, field pipeline.Field) (any, error) {
	switch field.Type {
	case pipeline.TypeString:
		return raw, nil
	case pipeline.TypeInt64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("filereader: field %q: %w", field.Name, err)
		}
		return v, nil
	case pipeline.TypeFloat64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("filereader: field %q: %w", field.Name, err)
		}
		return v, nil
	case pipeline.TypeBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("filereader: field %q: %w", field.Name, err)
		}
		return v, nil
	case pipeline.TypeDatetime, pipeline.TypeDate, pipeline.TypeTime:
		v, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("filereader: field %q: %w", field.Name, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("filereader: field %q has unsupported type %s", field.Name, field.Type)
	}
}

// Close closes the underlying stream.
func (r *CSVFrameReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}
