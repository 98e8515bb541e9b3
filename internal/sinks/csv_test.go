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

package sinks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/streamsink/internal/csvwrite"
	"github.com/cardinalhq/streamsink/internal/filereader"
	"github.com/cardinalhq/streamsink/internal/linearizer"
	"github.com/cardinalhq/streamsink/internal/pipeline"
	"github.com/cardinalhq/streamsink/internal/writeable"
)

func testSchema() *pipeline.Schema {
	return pipeline.NewSchema(
		pipeline.Field{Name: "a", Type: pipeline.TypeInt64},
		pipeline.Field{Name: "b", Type: pipeline.TypeString},
	)
}

func rowFrame(t *testing.T, schema *pipeline.Schema, rows ...[]any) *pipeline.Frame {
	t.Helper()
	f := pipeline.NewFrame(schema, len(rows))
	for _, row := range rows {
		require.NoError(t, f.AppendRow(row...))
	}
	return f
}

func newSink(t *testing.T, opts SinkOptions, wopts WriteOptions) (*CSVSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.csv")
	return &CSVSink{
		Path:         path,
		Schema:       testSchema(),
		Options:      opts,
		WriteOptions: wopts,
	}, path
}

// runSink spawns the sink over the given number of lanes, feeds it, and
// waits for every task to finish.
func runSink(t *testing.T, sink *CSVSink, lanes int, feed func(senders []chan<- pipeline.Morsel)) error {
	t.Helper()
	port, senders := pipeline.NewSinkPort(lanes, 8)
	group, ctx := errgroup.WithContext(context.Background())
	sink.SpawnSink(ctx, lanes, port, &pipeline.ExecState{}, group)

	go func() {
		feed(senders)
		for _, tx := range senders {
			close(tx)
		}
	}()

	return group.Wait()
}

func TestCSVSinkBasicOutput(t *testing.T) {
	sink, path := newSink(t,
		SinkOptions{MaintainOrder: true},
		WriteOptions{IncludeHeader: true, Serialize: csvwrite.DefaultSerializeOptions()},
	)

	err := runSink(t, sink, 1, func(senders []chan<- pipeline.Morsel) {
		senders[0] <- pipeline.Morsel{
			Frame: rowFrame(t, sink.Schema,
				[]any{int64(1), "x"},
				[]any{int64(2), "y,z"},
			),
			Seq: 0,
		}
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,x\n2,\"y,z\"\n", string(data))
}

func TestCSVSinkMaintainOrderTwoLanes(t *testing.T) {
	sink, path := newSink(t,
		SinkOptions{MaintainOrder: true},
		WriteOptions{Serialize: csvwrite.DefaultSerializeOptions()},
	)

	morsel := func(seq uint64) pipeline.Morsel {
		return pipeline.Morsel{
			Frame: rowFrame(t, sink.Schema, []any{int64(seq), "r"}),
			Seq:   seq,
		}
	}

	err := runSink(t, sink, 2, func(senders []chan<- pipeline.Morsel) {
		// Deliver out of global order across lanes.
		senders[1] <- morsel(1)
		senders[1] <- morsel(3)
		senders[0] <- morsel(0)
		senders[0] <- morsel(2)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0,r\n1,r\n2,r\n3,r\n", string(data))
}

func TestCSVSinkUnorderedKeepsAllRows(t *testing.T) {
	sink, path := newSink(t,
		SinkOptions{MaintainOrder: false},
		WriteOptions{Serialize: csvwrite.DefaultSerializeOptions()},
	)

	err := runSink(t, sink, 2, func(senders []chan<- pipeline.Morsel) {
		for seq := uint64(0); seq < 4; seq++ {
			senders[seq%2] <- pipeline.Morsel{
				Frame: rowFrame(t, sink.Schema, []any{int64(seq), "r"}),
				Seq:   seq,
			}
		}
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.ElementsMatch(t, []string{"0,r", "1,r", "2,r", "3,r"}, lines)
}

func TestCSVSinkBOMOnlyEmptyStream(t *testing.T) {
	sink, path := newSink(t,
		SinkOptions{MaintainOrder: true},
		WriteOptions{IncludeBOM: true, Serialize: csvwrite.DefaultSerializeOptions()},
	)

	err := runSink(t, sink, 1, func([]chan<- pipeline.Morsel) {})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xEF, 0xBB, 0xBF}, data)
}

func TestCSVSinkEmptyStreamCreatesEmptyFile(t *testing.T) {
	sink, path := newSink(t,
		SinkOptions{MaintainOrder: true},
		WriteOptions{Serialize: csvwrite.DefaultSerializeOptions()},
	)

	err := runSink(t, sink, 2, func([]chan<- pipeline.Morsel) {})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestCSVSinkSyncOnClose(t *testing.T) {
	sink, _ := newSink(t,
		SinkOptions{MaintainOrder: true, SyncOnClose: writeable.SyncAll},
		WriteOptions{Serialize: csvwrite.DefaultSerializeOptions()},
	)

	before := writeable.GlobalSyncCount()
	err := runSink(t, sink, 1, func(senders []chan<- pipeline.Morsel) {
		senders[0] <- pipeline.Morsel{
			Frame: rowFrame(t, sink.Schema, []any{int64(1), "x"}),
			Seq:   0,
		}
	})
	require.NoError(t, err)
	assert.Equal(t, before+1, writeable.GlobalSyncCount())
}

func TestCSVSinkSerializationErrorFailsGroup(t *testing.T) {
	sink, _ := newSink(t,
		SinkOptions{MaintainOrder: true},
		WriteOptions{Serialize: csvwrite.DefaultSerializeOptions()},
	)

	var released []uint64
	morsel := func(seq uint64, vals ...any) pipeline.Morsel {
		return pipeline.Morsel{
			Frame: rowFrame(t, sink.Schema, vals),
			Seq:   seq,
			Token: pipeline.NewConsumeToken(func() { released = append(released, seq) }),
		}
	}

	err := runSink(t, sink, 1, func(senders []chan<- pipeline.Morsel) {
		senders[0] <- morsel(0, int64(0), "ok")
		senders[0] <- morsel(1, int64(1), "ok")
		// struct{}{} has no CSV representation.
		senders[0] <- morsel(2, struct{}{}, "bad")
		senders[0] <- morsel(3, int64(3), "ok")
		senders[0] <- morsel(4, int64(4), "ok")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "morsel 2")

	// Every morsel the encoder consumed had its token released, including
	// the failing one.
	assert.Subset(t, released, []uint64{0, 1, 2})
}

func TestTokenReleasedBeforePublish(t *testing.T) {
	sink, _ := newSink(t,
		SinkOptions{MaintainOrder: true},
		WriteOptions{Serialize: csvwrite.DefaultSerializeOptions()},
	)

	lin, txs := linearizer.New[Linearized](1, 1, true)
	rx := make(chan pipeline.Morsel, 2)
	released := make(chan uint64, 2)

	morsel := func(seq uint64) pipeline.Morsel {
		return pipeline.Morsel{
			Frame: rowFrame(t, sink.Schema, []any{int64(seq), "r"}),
			Seq:   seq,
			Token: pipeline.NewConsumeToken(func() { released <- seq }),
		}
	}
	rx <- morsel(0)
	rx <- morsel(1)

	done := make(chan error, 1)
	go func() {
		done <- sink.runEncoder(context.Background(), rx, txs[0])
	}()

	// Nothing is consuming the linearizer: seq 0 fills the lane buffer and
	// seq 1's insert blocks. Both tokens must still come back, otherwise a
	// credit-limited producer would deadlock against the blocked insert.
	for i := 0; i < 2; i++ {
		select {
		case <-released:
		case <-time.After(5 * time.Second):
			t.Fatal("token not released while insert was blocked")
		}
	}

	lin.Close()
	select {
	case err := <-done:
		require.NoError(t, err, "shutdown during insert is not an encoder error")
	case <-time.After(5 * time.Second):
		t.Fatal("encoder did not stop after consumer close")
	}
}

func TestNextAllocationSize(t *testing.T) {
	assert.Equal(t, DefaultAllocationSize, nextAllocationSize(DefaultAllocationSize, 100))
	assert.Equal(t, DefaultAllocationSize+1, nextAllocationSize(DefaultAllocationSize, DefaultAllocationSize+1))

	// Monotone: a later smaller morsel never shrinks the hint.
	grown := nextAllocationSize(DefaultAllocationSize, DefaultAllocationSize*2)
	assert.Equal(t, grown, nextAllocationSize(grown, 10))
}

func TestCSVSinkRoundTrip(t *testing.T) {
	sink, path := newSink(t,
		SinkOptions{MaintainOrder: true},
		WriteOptions{IncludeHeader: true, Serialize: csvwrite.DefaultSerializeOptions()},
	)

	err := runSink(t, sink, 2, func(senders []chan<- pipeline.Morsel) {
		for seq := uint64(0); seq < 6; seq++ {
			senders[seq%2] <- pipeline.Morsel{
				Frame: rowFrame(t, sink.Schema, []any{int64(seq * 10), "row"}),
				Seq:   seq,
			}
		}
	})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	r, err := filereader.NewCSVFrameReader(f, sink.Schema, 100)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	frame, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, 6, frame.Len())
	for i := 0; i < 6; i++ {
		assert.Equal(t, int64(i*10), frame.Value(i, 0))
		assert.Equal(t, "row", frame.Value(i, 1))
	}
}

func TestTaskPriorityString(t *testing.T) {
	assert.Equal(t, "high", TaskPriorityHigh.String())
	assert.Equal(t, "low", TaskPriorityLow.String())
}
