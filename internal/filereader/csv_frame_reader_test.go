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

package filereader

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/streamsink/internal/pipeline"
)

func reader(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func TestCSVFrameReaderInferredSchema(t *testing.T) {
	r, err := NewCSVFrameReader(reader("a,b\n1,x\n2,y\n"), nil, 100)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	require.Equal(t, 2, r.Schema().Len())
	assert.Equal(t, []string{"a", "b"}, r.Schema().Names())
	assert.Equal(t, pipeline.TypeString, r.Schema().Field(0).Type)

	frame, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, 2, frame.Len())
	assert.Equal(t, "1", frame.Value(0, 0))
	assert.Equal(t, "y", frame.Value(1, 1))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCSVFrameReaderTypedSchema(t *testing.T) {
	schema := pipeline.NewSchema(
		pipeline.Field{Name: "n", Type: pipeline.TypeInt64},
		pipeline.Field{Name: "f", Type: pipeline.TypeFloat64},
		pipeline.Field{Name: "ok", Type: pipeline.TypeBool},
	)
	r, err := NewCSVFrameReader(reader("n,f,ok\n42,1.5,true\n"), schema, 100)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	frame, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, 1, frame.Len())
	assert.Equal(t, int64(42), frame.Value(0, 0))
	assert.Equal(t, 1.5, frame.Value(0, 1))
	assert.Equal(t, true, frame.Value(0, 2))
}

func TestCSVFrameReaderBatching(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("a\n")
	for i := 0; i < 5; i++ {
		sb.WriteString("v\n")
	}
	r, err := NewCSVFrameReader(reader(sb.String()), nil, 2)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var sizes []int
	for {
		frame, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, frame.Len())
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestCSVFrameReaderQuotedFields(t *testing.T) {
	r, err := NewCSVFrameReader(reader("a,b\n1,\"y,z\"\n2,\"say \"\"hi\"\"\"\n"), nil, 100)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	frame, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, 2, frame.Len())
	assert.Equal(t, "y,z", frame.Value(0, 1))
	assert.Equal(t, `say "hi"`, frame.Value(1, 1))
}

func TestCSVFrameReaderSchemaArityMismatch(t *testing.T) {
	schema := pipeline.NewSchema(pipeline.Field{Name: "only", Type: pipeline.TypeString})
	_, err := NewCSVFrameReader(reader("a,b\n1,2\n"), schema, 100)
	assert.Error(t, err)
}

func TestCSVFrameReaderRaggedRow(t *testing.T) {
	r, err := NewCSVFrameReader(reader("a,b\n1,x\n2\n"), nil, 100)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Next()
	assert.Error(t, err)
}

func TestCSVFrameReaderBadTypedValue(t *testing.T) {
	schema := pipeline.NewSchema(pipeline.Field{Name: "n", Type: pipeline.TypeInt64})
	r, err := NewCSVFrameReader(reader("n\nnotanumber\n"), schema, 100)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Next()
	assert.Error(t, err)
}

func TestCSVFrameReaderEmptyInput(t *testing.T) {
	_, err := NewCSVFrameReader(reader(""), nil, 100)
	assert.Error(t, err)
}

func TestCSVFrameReaderHeaderOnly(t *testing.T) {
	r, err := NewCSVFrameReader(reader("a,b\n"), nil, 100)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCSVFrameReaderNextAfterClose(t *testing.T) {
	r, err := NewCSVFrameReader(reader("a\n1\n"), nil, 100)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
