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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return NewSchema(
		Field{Name: "a", Type: TypeInt64},
		Field{Name: "b", Type: TypeString},
	)
}

func TestFrameAppendRow(t *testing.T) {
	f := NewFrame(testSchema(), 4)
	require.Equal(t, 0, f.Len())

	require.NoError(t, f.AppendRow(int64(1), "x"))
	require.NoError(t, f.AppendRow(int64(2), "y"))
	assert.Equal(t, 2, f.Len())

	assert.Equal(t, int64(1), f.Value(0, 0))
	assert.Equal(t, "y", f.Value(1, 1))
}

func TestFrameAppendRowArityMismatch(t *testing.T) {
	f := NewFrame(testSchema(), 1)
	err := f.AppendRow(int64(1))
	require.Error(t, err)
	assert.Equal(t, 0, f.Len())
}

func TestEmptyFrameKeepsSchema(t *testing.T) {
	schema := testSchema()
	f := NewFrame(schema, 0)
	assert.Equal(t, 0, f.Len())
	assert.True(t, f.Schema().Equal(schema))
}

func TestSchemaEqual(t *testing.T) {
	a := testSchema()
	b := testSchema()
	assert.True(t, a.Equal(b))

	c := NewSchema(Field{Name: "a", Type: TypeFloat64}, Field{Name: "b", Type: TypeString})
	assert.False(t, a.Equal(c))

	d := NewSchema(Field{Name: "a", Type: TypeInt64})
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(nil))
}

func TestSchemaNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, testSchema().Names())
}
