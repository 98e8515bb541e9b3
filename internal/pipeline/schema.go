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

// Package pipeline provides the data model shared by morsel producers and
// sinks: schemas, columnar frames, morsels with consumption tokens, and the
// fan-in port a sink consumes from. Frames are immutable once handed to a
// morsel; the morsel owns the frame until an encoder consumes it.
package pipeline

// DataType identifies the logical type of a schema field.
type DataType int

const (
	TypeInt64 DataType = iota
	TypeFloat64
	TypeString
	TypeBool
	TypeDatetime
	TypeDate
	TypeTime
)

func (t DataType) String() string {
	switch t {
	case TypeInt64:
		return "i64"
	case TypeFloat64:
		return "f64"
	case TypeString:
		return "str"
	case TypeBool:
		return "bool"
	case TypeDatetime:
		return "datetime"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	default:
		return "unknown"
	}
}

// Field is a named, typed column in a schema.
type Field struct {
	Name string
	Type DataType
}

// Schema is an ordered list of fields. It is immutable after construction
// and safe to share across goroutines.
type Schema struct {
	fields []Field
}

// NewSchema creates a schema from the given fields, in order.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{fields: make([]Field, len(fields))}
	copy(s.fields, fields)
	return s
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	return len(s.fields)
}

// Field returns the field at index i.
func (s *Schema) Field(i int) Field {
	return s.fields[i]
}

// Names returns the field names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Equal reports whether two schemas have identical fields in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil || len(s.fields) != len(other.fields) {
		return false
	}
	for i, f := range s.fields {
		if other.fields[i] != f {
			return false
		}
	}
	return true
}
