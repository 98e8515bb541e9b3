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

// Package linearizer provides a bounded K-way merge between N producer
// lanes and one consumer. With order maintenance enabled the consumer sees
// items in ascending sequence order regardless of which lane they arrived
// on; otherwise it sees them roughly in arrival order.
//
// The per-lane buffers are the backpressure knob: a producer blocks in
// Insert once its lane is full, so total in-flight items are bounded by
// lanes times buffer size.
package linearizer

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ErrClosed is returned by Insert after the consumer has closed.
var ErrClosed = errors.New("linearizer: closed by consumer")

// DefaultSinkBufferSize is the per-lane buffer capacity used by sinks. It
// is deliberately small; the encoded buffers it holds can each be large.
const DefaultSinkBufferSize = 1

var itemsMerged metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/streamsink/internal/linearizer")

	var err error
	itemsMerged, err = meter.Int64Counter(
		"streamsink.linearizer.items",
		metric.WithDescription("Items emitted by the linearizer consumer"),
	)
	if err != nil {
		panic(err)
	}
}

// Sequenced is anything carrying a global sequence number.
type Sequenced interface {
	SeqNum() uint64
}

// Inserter is one producer lane handle.
type Inserter[T Sequenced] struct {
	ch     chan T
	done   <-chan struct{}
	shared *sharedLane
	closed bool
}

// Insert blocks until the lane has room, then hands the item to the
// consumer side. It returns ErrClosed once the consumer has stopped.
func (i *Inserter[T]) Insert(ctx context.Context, item T) error {
	select {
	case <-i.done:
		return ErrClosed
	default:
	}
	select {
	case i.ch <- item:
		return nil
	case <-i.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends this lane. It must be called exactly once per inserter; the
// consumer terminates once every lane is closed and drained.
func (i *Inserter[T]) Close() {
	if i.closed {
		return
	}
	i.closed = true
	if i.shared != nil {
		// Unordered mode shares one channel; the last lane out closes it.
		if i.shared.open.Add(-1) == 0 {
			close(i.ch)
		}
		return
	}
	close(i.ch)
}

type sharedLane struct {
	open atomic.Int32
}

type lane[T Sequenced] struct {
	ch      chan T
	head    T
	hasHead bool
	closed  bool
}

// Linearizer is the consumer half. Get is single-consumer; Close may be
// called from anywhere to reject further inserts.
type Linearizer[T Sequenced] struct {
	maintainOrder bool
	lanes         []lane[T]
	heads         headHeap[T]
	shared        chan T
	done          chan struct{}
	closeOnce     sync.Once
}

// New creates a linearizer with n producer lanes of the given buffer size.
func New[T Sequenced](n, bufferSize int, maintainOrder bool) (*Linearizer[T], []*Inserter[T]) {
	l := &Linearizer[T]{
		maintainOrder: maintainOrder,
		done:          make(chan struct{}),
	}
	inserters := make([]*Inserter[T], n)

	if !maintainOrder {
		// Arrival order needs no per-lane state, just one bounded queue.
		l.shared = make(chan T, n*bufferSize)
		shared := &sharedLane{}
		shared.open.Store(int32(n))
		for i := range inserters {
			inserters[i] = &Inserter[T]{ch: l.shared, done: l.done, shared: shared}
		}
		return l, inserters
	}

	l.lanes = make([]lane[T], n)
	l.heads = headHeap[T]{entries: make([]headEntry[T], 0, n)}
	for i := range inserters {
		ch := make(chan T, bufferSize)
		l.lanes[i].ch = ch
		inserters[i] = &Inserter[T]{ch: ch, done: l.done}
	}
	return l, inserters
}

// Get returns the next item per the ordering policy. ok is false once every
// lane is closed and drained. A non-nil error only occurs on context
// cancellation.
func (l *Linearizer[T]) Get(ctx context.Context) (item T, ok bool, err error) {
	var zero T

	if !l.maintainOrder {
		select {
		case item, chOk := <-l.shared:
			if !chOk {
				return zero, false, nil
			}
			itemsMerged.Add(ctx, 1)
			return item, true, nil
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}

	// Every open lane must contribute a head before the minimum is known;
	// emitting early could skip a temporarily slow lane.
	for i := range l.lanes {
		ln := &l.lanes[i]
		if ln.closed || ln.hasHead {
			continue
		}
		select {
		case item, chOk := <-ln.ch:
			if !chOk {
				ln.closed = true
				continue
			}
			ln.head = item
			ln.hasHead = true
			heap.Push(&l.heads, headEntry[T]{seq: item.SeqNum(), lane: i})
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}

	if l.heads.Len() == 0 {
		return zero, false, nil
	}

	entry := heap.Pop(&l.heads).(headEntry[T])
	ln := &l.lanes[entry.lane]
	item = ln.head
	ln.head = zero
	ln.hasHead = false
	itemsMerged.Add(ctx, 1)
	return item, true, nil
}

// Close stops the consumer side; blocked and future Inserts fail with
// ErrClosed. Safe to call more than once.
func (l *Linearizer[T]) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

// headEntry keys the heap by the sequence number of a lane's head item.
type headEntry[T Sequenced] struct {
	seq  uint64
	lane int
}

type headHeap[T Sequenced] struct {
	entries []headEntry[T]
}

func (h *headHeap[T]) Len() int            { return len(h.entries) }
func (h *headHeap[T]) Less(i, j int) bool  { return h.entries[i].seq < h.entries[j].seq }
func (h *headHeap[T]) Swap(i, j int)       { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }
func (h *headHeap[T]) Push(x any)          { h.entries = append(h.entries, x.(headEntry[T])) }
func (h *headHeap[T]) Pop() any {
	old := h.entries
	n := len(old)
	entry := old[n-1]
	h.entries = old[:n-1]
	return entry
}
