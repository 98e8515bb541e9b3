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
	"strconv"
	"strings"
	"time"

	"github.com/cardinalhq/streamsink/internal/pipeline"
)

// appendCell renders one cell and appends it, quoted per the dialect.
func (bw *BatchedWriter) appendCell(dst []byte, v any, field pipeline.Field) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return bw.appendField(dst, bw.opts.Null, false), nil
	case int64:
		return bw.appendField(dst, strconv.FormatInt(v, 10), true), nil
	case int:
		return bw.appendField(dst, strconv.FormatInt(int64(v), 10), true), nil
	case float64:
		return bw.appendField(dst, bw.formatFloat(v), true), nil
	case float32:
		return bw.appendField(dst, bw.formatFloat(float64(v)), true), nil
	case bool:
		return bw.appendField(dst, strconv.FormatBool(v), false), nil
	case string:
		return bw.appendField(dst, v, false), nil
	case time.Time:
		return bw.appendField(dst, v.Format(bw.timeLayout(field.Type)), false), nil
	default:
		return nil, fmt.Errorf("csvwrite: unsupported value type %T in field %q", v, field.Name)
	}
}

func (bw *BatchedWriter) timeLayout(t pipeline.DataType) string {
	switch t {
	case pipeline.TypeDate:
		return bw.opts.dateFormat()
	case pipeline.TypeTime:
		return bw.opts.timeFormat()
	default:
		return bw.opts.datetimeFormat()
	}
}

func (bw *BatchedWriter) formatFloat(v float64) string {
	prec := bw.opts.FloatPrecision
	if bw.opts.FloatScientific != nil {
		format := byte('f')
		if *bw.opts.FloatScientific {
			format = 'e'
		}
		return strconv.FormatFloat(v, format, prec, 64)
	}
	if prec >= 0 {
		return strconv.FormatFloat(v, 'f', prec, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// appendField applies the quote style to an already-rendered field.
func (bw *BatchedWriter) appendField(dst []byte, field string, numeric bool) []byte {
	quote := false
	switch bw.opts.QuoteStyle {
	case QuoteAlways:
		quote = true
	case QuoteNonNumeric:
		quote = !numeric
	case QuoteNecessary:
		quote = bw.needsQuoting(field)
	case QuoteNever:
	}
	if !quote {
		return append(dst, field...)
	}

	q := bw.opts.QuoteChar
	dst = append(dst, q)
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c == q {
			dst = append(dst, q)
		}
		dst = append(dst, c)
	}
	return append(dst, q)
}

func (bw *BatchedWriter) needsQuoting(field string) bool {
	if strings.IndexByte(field, bw.opts.Separator) >= 0 ||
		strings.IndexByte(field, bw.opts.QuoteChar) >= 0 ||
		strings.IndexByte(field, '\n') >= 0 ||
		strings.IndexByte(field, '\r') >= 0 {
		return true
	}
	// Custom terminators are not covered by the CR/LF check above.
	if lt := bw.opts.LineTerminator; lt != "\n" && lt != "\r\n" && strings.Contains(field, lt) {
		return true
	}
	return false
}
