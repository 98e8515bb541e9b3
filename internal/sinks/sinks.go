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

// Package sinks contains the terminal pipeline nodes that serialize morsel
// streams to an output destination.
package sinks

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/streamsink/internal/pipeline"
)

var (
	tasksSpawned   metric.Int64Counter
	morselsEncoded metric.Int64Counter
	encodedBytes   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/streamsink/internal/sinks")

	var err error
	tasksSpawned, err = meter.Int64Counter(
		"streamsink.sinks.tasks",
		metric.WithDescription("Sink tasks spawned, by priority"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create sinks.tasks counter: %w", err))
	}

	morselsEncoded, err = meter.Int64Counter(
		"streamsink.sinks.morsels",
		metric.WithDescription("Morsels encoded by sink workers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create sinks.morsels counter: %w", err))
	}

	encodedBytes, err = meter.Int64Counter(
		"streamsink.sinks.encoded.bytes",
		metric.WithDescription("Bytes produced by sink encoder workers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create sinks.encoded.bytes counter: %w", err))
	}
}

// TaskPriority labels a sink task's scheduling class. Encoders are CPU-bound
// and tagged high; the IO task is latency-bound and tagged low. The Go
// runtime has no priorities, so the label feeds logging and metrics while
// the actual throttling comes from the bounded queues between the stages.
type TaskPriority int

const (
	TaskPriorityLow TaskPriority = iota
	TaskPriorityHigh
)

func (p TaskPriority) String() string {
	if p == TaskPriorityHigh {
		return "high"
	}
	return "low"
}

// SinkNode is a terminal node that consumes a morsel port and writes bytes
// somewhere. Implementations register their tasks with the caller-supplied
// errgroup and return immediately; the caller awaits the group.
type SinkNode interface {
	Name() string
	DoMaintainOrder() bool
	SpawnSink(ctx context.Context, numPipelines int, port *pipeline.SinkPort, state *pipeline.ExecState, handles *errgroup.Group)
}

// spawn registers fn with the handle group, tagged with a priority class.
func spawn(ctx context.Context, handles *errgroup.Group, priority TaskPriority, name string, fn func() error) {
	tasksSpawned.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", name),
		attribute.String("priority", priority.String()),
	))
	handles.Go(fn)
}
