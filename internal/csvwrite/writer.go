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

package csvwrite

import (
	"fmt"
	"io"

	"github.com/cardinalhq/streamsink/internal/pipeline"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Writer configures a CSV serialization target. Terminal method Batched
// binds it to a schema and returns the writer that does the work.
type Writer struct {
	w             io.Writer
	includeBOM    bool
	includeHeader bool
	opts          SerializeOptions
}

// NewWriter starts a writer configuration against w with the default dialect.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, opts: DefaultSerializeOptions()}
}

// IncludeBOM controls whether a UTF-8 BOM precedes all output.
func (w *Writer) IncludeBOM(b bool) *Writer {
	w.includeBOM = b
	return w
}

// IncludeHeader controls whether a header record precedes the data.
func (w *Writer) IncludeHeader(b bool) *Writer {
	w.includeHeader = b
	return w
}

// WithOptions replaces the dialect.
func (w *Writer) WithOptions(opts SerializeOptions) *Writer {
	w.opts = opts
	return w
}

// Batched validates the configuration and binds it to a schema. The
// returned BatchedWriter must be used from a single goroutine.
func (w *Writer) Batched(schema *pipeline.Schema) (*BatchedWriter, error) {
	if err := w.opts.validate(); err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, fmt.Errorf("csvwrite: schema is required")
	}
	return &BatchedWriter{
		w:             w.w,
		schema:        schema,
		opts:          w.opts,
		includeBOM:    w.includeBOM,
		includeHeader: w.includeHeader,
	}, nil
}

// BatchedWriter serializes frames record by record. The BOM and header are
// emitted exactly once, before the first record of the first batch; writing
// an empty frame emits just that preamble.
type BatchedWriter struct {
	w             io.Writer
	schema        *pipeline.Schema
	opts          SerializeOptions
	includeBOM    bool
	includeHeader bool
	started       bool
	scratch       []byte
}

// WriteBatch appends every row of the frame to the output. The frame's
// schema must match the writer's schema.
func (bw *BatchedWriter) WriteBatch(f *pipeline.Frame) error {
	if !f.Schema().Equal(bw.schema) {
		return fmt.Errorf("csvwrite: frame schema does not match writer schema")
	}

	if !bw.started {
		bw.started = true
		if err := bw.writePreamble(); err != nil {
			return err
		}
	}

	nCols := bw.schema.Len()
	for row := 0; row < f.Len(); row++ {
		bw.scratch = bw.scratch[:0]
		for col := 0; col < nCols; col++ {
			if col > 0 {
				bw.scratch = append(bw.scratch, bw.opts.Separator)
			}
			var err error
			bw.scratch, err = bw.appendCell(bw.scratch, f.Value(row, col), bw.schema.Field(col))
			if err != nil {
				return err
			}
		}
		bw.scratch = append(bw.scratch, bw.opts.LineTerminator...)
		if _, err := bw.w.Write(bw.scratch); err != nil {
			return err
		}
	}
	return nil
}

func (bw *BatchedWriter) writePreamble() error {
	if bw.includeBOM {
		if _, err := bw.w.Write(utf8BOM); err != nil {
			return err
		}
	}
	if !bw.includeHeader {
		return nil
	}
	bw.scratch = bw.scratch[:0]
	for i, name := range bw.schema.Names() {
		if i > 0 {
			bw.scratch = append(bw.scratch, bw.opts.Separator)
		}
		bw.scratch = bw.appendField(bw.scratch, name, false)
	}
	bw.scratch = append(bw.scratch, bw.opts.LineTerminator...)
	_, err := bw.w.Write(bw.scratch)
	return err
}
