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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/streamsink/internal/csvwrite"
	"github.com/cardinalhq/streamsink/internal/linearizer"
	"github.com/cardinalhq/streamsink/internal/logctx"
	"github.com/cardinalhq/streamsink/internal/pipeline"
	"github.com/cardinalhq/streamsink/internal/writeable"
)

// DefaultAllocationSize is the starting capacity of an encoder's output
// buffer: 16 MiB.
const DefaultAllocationSize = 1 << 24

// DefaultSinkLinearizerBufferSize is the per-lane buffer between encoders
// and the IO task.
const DefaultSinkLinearizerBufferSize = linearizer.DefaultSinkBufferSize

// SinkOptions controls ordering and end-of-stream durability.
type SinkOptions struct {
	MaintainOrder bool
	SyncOnClose   writeable.SyncMode
}

// WriteOptions is the CSV output configuration.
type WriteOptions struct {
	IncludeHeader bool
	IncludeBOM    bool
	Serialize     csvwrite.SerializeOptions
}

// Linearized is one encoded buffer in flight between an encoder and the IO
// task.
type Linearized struct {
	Seq uint64
	Buf []byte
}

// SeqNum implements linearizer.Sequenced.
func (l Linearized) SeqNum() uint64 {
	return l.Seq
}

// CSVSink writes a morsel stream to one CSV file, local or object store.
// Each of the P input lanes gets its own encoder worker; a single IO task
// drains the linearizer and owns the output handle exclusively.
type CSVSink struct {
	Path         string
	Schema       *pipeline.Schema
	Options      SinkOptions
	WriteOptions WriteOptions
	CloudOptions *writeable.CloudOptions
}

var _ SinkNode = (*CSVSink)(nil)

func (s *CSVSink) Name() string {
	return "csv_sink"
}

func (s *CSVSink) DoMaintainOrder() bool {
	return s.Options.MaintainOrder
}

// SpawnSink takes the parallel view of the port and delegates to
// SpawnSinkOnce. Call exactly once per sink instance.
func (s *CSVSink) SpawnSink(ctx context.Context, numPipelines int, port *pipeline.SinkPort, state *pipeline.ExecState, handles *errgroup.Group) {
	s.SpawnSinkOnce(ctx, numPipelines, port.Parallel(), state, handles)
}

// SpawnSinkOnce wires encoders and the IO task for already-resolved
// receivers.
func (s *CSVSink) SpawnSinkOnce(ctx context.Context, numPipelines int, rxs []<-chan pipeline.Morsel, state *pipeline.ExecState, handles *errgroup.Group) {
	lin, txs := linearizer.New[Linearized](numPipelines, DefaultSinkLinearizerBufferSize, s.Options.MaintainOrder)

	for i := range rxs {
		rx, tx := rxs[i], txs[i]
		spawn(ctx, handles, TaskPriorityHigh, "csv_sink_encoder", func() error {
			return s.runEncoder(ctx, rx, tx)
		})
	}

	spawn(ctx, handles, TaskPriorityLow, "csv_sink_io", func() error {
		return s.runIO(ctx, state, lin)
	})
}

// runEncoder serializes one lane's morsels into byte buffers and publishes
// them to the linearizer.
func (s *CSVSink) runEncoder(ctx context.Context, rx <-chan pipeline.Morsel, tx *linearizer.Inserter[Linearized]) error {
	defer tx.Close()

	// Amortize allocations over time: if a morsel encodes larger than the
	// current size, later buffers start at that size.
	allocationSize := DefaultAllocationSize

	for {
		var morsel pipeline.Morsel
		var ok bool
		select {
		case morsel, ok = <-rx:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		buf := bytes.NewBuffer(make([]byte, 0, allocationSize))
		// BOM and header are handled once by the IO task.
		writer, err := csvwrite.NewWriter(buf).
			IncludeBOM(false).
			IncludeHeader(false).
			WithOptions(s.WriteOptions.Serialize).
			Batched(s.Schema)
		if err != nil {
			morsel.Token.Release()
			return err
		}
		if err := writer.WriteBatch(morsel.Frame); err != nil {
			morsel.Token.Release()
			return fmt.Errorf("csv sink: encode morsel %d: %w", morsel.Seq, err)
		}

		allocationSize = nextAllocationSize(allocationSize, buf.Len())
		morselsEncoded.Add(ctx, 1)
		encodedBytes.Add(ctx, int64(buf.Len()))

		// The token must be released before the insert below. The insert can
		// block for a long time behind a slow writer, and a producer waiting
		// on this token's credit would deadlock against it.
		morsel.Token.Release()

		if err := tx.Insert(ctx, Linearized{Seq: morsel.Seq, Buf: buf.Bytes()}); err != nil {
			if errors.Is(err, linearizer.ErrClosed) {
				// The IO task already decided to stop; not an encoder error.
				return nil
			}
			return err
		}
	}
}

// nextAllocationSize grows the per-worker allocation hint monotonically.
func nextAllocationSize(current, encoded int) int {
	if encoded > current {
		return encoded
	}
	return current
}

// runIO owns the destination: open, preamble, drain, sync, close.
func (s *CSVSink) runIO(ctx context.Context, state *pipeline.ExecState, lin *linearizer.Linearizer[Linearized]) error {
	// Stop the encoders no matter how this task exits.
	defer lin.Close()

	log := state.Log().With(slog.String("sink", s.Name()), slog.String("path", s.Path))
	ctx = logctx.WithLogger(ctx, log)

	file, err := writeable.NewWriteable(ctx, s.Path, s.CloudOptions)
	if err != nil {
		return fmt.Errorf("csv sink: open: %w", err)
	}

	// The preamble always routes through the CSV writer, even when only the
	// BOM is requested, so header behavior stays in one place.
	if s.WriteOptions.IncludeHeader || s.WriteOptions.IncludeBOM {
		writer, err := csvwrite.NewWriter(file).
			IncludeBOM(s.WriteOptions.IncludeBOM).
			IncludeHeader(s.WriteOptions.IncludeHeader).
			WithOptions(s.WriteOptions.Serialize).
			Batched(s.Schema)
		if err != nil {
			return err
		}
		if err := writer.WriteBatch(pipeline.NewFrame(s.Schema, 0)); err != nil {
			return fmt.Errorf("csv sink: write header: %w", err)
		}
	}

	out, err := file.IntoAsync(ctx)
	if err != nil {
		return fmt.Errorf("csv sink: start upload: %w", err)
	}

	for {
		item, ok, err := lin.Get(ctx)
		if err != nil {
			out.Abort()
			return err
		}
		if !ok {
			break
		}
		if err := out.WriteAll(ctx, item.Buf); err != nil {
			out.Abort()
			return fmt.Errorf("csv sink: write: %w", err)
		}
	}

	if s.Options.SyncOnClose != writeable.SyncNone {
		if syncer, ok := out.(writeable.Syncer); ok {
			if err := syncer.Sync(ctx, s.Options.SyncOnClose); err != nil {
				out.Abort()
				return err
			}
		}
	}

	if err := out.Close(ctx); err != nil {
		return fmt.Errorf("csv sink: close: %w", err)
	}

	log.Debug("csv sink finished", slog.String("backend", file.Backend().String()))
	return nil
}
