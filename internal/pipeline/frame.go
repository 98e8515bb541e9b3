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

package pipeline

import "fmt"

// Frame is a bounded, column-major tabular chunk. A frame is owned by
// exactly one stage at a time; consumers must not retain it after handing
// it downstream.
//
// Cell values are one of: nil, int64, float64, string, bool, time.Time.
// The schema's field type decides how a time.Time cell is rendered.
type Frame struct {
	schema *Schema
	cols   [][]any
	length int
}

// NewFrame creates an empty frame with the given schema and row capacity.
// A zero-capacity frame is valid and is how a schema-only (header) write is
// expressed.
func NewFrame(schema *Schema, capacity int) *Frame {
	cols := make([][]any, schema.Len())
	for i := range cols {
		cols[i] = make([]any, 0, capacity)
	}
	return &Frame{schema: schema, cols: cols}
}

// Schema returns the frame's schema.
func (f *Frame) Schema() *Schema {
	return f.schema
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return f.length
}

// AppendRow appends one row. The number of values must match the schema.
func (f *Frame) AppendRow(vals ...any) error {
	if len(vals) != f.schema.Len() {
		return fmt.Errorf("pipeline: row has %d values, schema has %d fields", len(vals), f.schema.Len())
	}
	for i, v := range vals {
		f.cols[i] = append(f.cols[i], v)
	}
	f.length++
	return nil
}

// Value returns the cell at (row, col).
func (f *Frame) Value(row, col int) any {
	return f.cols[col][row]
}

// Column returns the backing slice for column col. The slice is owned by
// the frame; callers must not modify it.
func (f *Frame) Column(col int) []any {
	return f.cols[col]
}
