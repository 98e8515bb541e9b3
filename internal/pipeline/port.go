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

import "sync/atomic"

// SinkPort is the fan-in point between the upstream lanes and a sink. A port
// is consumed exactly once, through either the parallel or the serial view.
// Closing a lane's sender signals end of input for that lane.
type SinkPort struct {
	lanes    []chan Morsel
	consumed atomic.Bool
}

// NewSinkPort creates a port with the given number of lanes, each a bounded
// channel of the given capacity, and returns the producer-side senders.
func NewSinkPort(lanes, capacity int) (*SinkPort, []chan<- Morsel) {
	p := &SinkPort{lanes: make([]chan Morsel, lanes)}
	senders := make([]chan<- Morsel, lanes)
	for i := range p.lanes {
		ch := make(chan Morsel, capacity)
		p.lanes[i] = ch
		senders[i] = ch
	}
	return p, senders
}

// NumLanes returns the number of lanes.
func (p *SinkPort) NumLanes() int {
	return len(p.lanes)
}

// Parallel returns one receiver per lane. It panics if the port was already
// consumed; a port feeds exactly one sink invocation.
func (p *SinkPort) Parallel() []<-chan Morsel {
	if p.consumed.Swap(true) {
		panic("pipeline: sink port consumed twice")
	}
	rxs := make([]<-chan Morsel, len(p.lanes))
	for i, ch := range p.lanes {
		rxs[i] = ch
	}
	return rxs
}

// Serial returns a single receiver that merges all lanes in arrival order.
// The merge goroutine exits once every lane is closed.
func (p *SinkPort) Serial() <-chan Morsel {
	rxs := p.Parallel()
	out := make(chan Morsel)
	var pending atomic.Int32
	pending.Store(int32(len(rxs)))
	for _, rx := range rxs {
		go func(rx <-chan Morsel) {
			for m := range rx {
				out <- m
			}
			if pending.Add(-1) == 0 {
				close(out)
			}
		}(rx)
	}
	return out
}
