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

package writeable

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
)

// globalSyncs counts fsyncs process-wide so tests can observe durability
// behavior without reaching into a handle.
var globalSyncs atomic.Int64

// GlobalSyncCount returns the number of fsync calls issued by local files
// since process start.
func GlobalSyncCount() int64 {
	return globalSyncs.Load()
}

// LocalFile is the async handle for a local destination. It is the only
// handle implementing Syncer.
type LocalFile struct {
	f         *os.File
	syncCalls atomic.Int64
}

// WriteAll writes p in full or fails.
func (l *LocalFile) WriteAll(ctx context.Context, p []byte) error {
	if _, err := l.f.Write(p); err != nil {
		return fmt.Errorf("writeable: local write: %w", err)
	}
	countBytes(ctx, BackendLocal, len(p))
	return nil
}

// Sync flushes file contents to stable storage. SyncData skips metadata
// where the platform allows it.
func (l *LocalFile) Sync(ctx context.Context, mode SyncMode) error {
	if mode == SyncNone {
		return nil
	}
	var err error
	if mode == SyncData {
		err = fdatasync(l.f)
	} else {
		err = l.f.Sync()
	}
	if err != nil {
		return fmt.Errorf("writeable: fsync: %w", err)
	}
	l.syncCalls.Add(1)
	globalSyncs.Add(1)
	fsyncCount.Add(ctx, 1)
	return nil
}

// SyncCalls returns how many fsyncs this handle has issued.
func (l *LocalFile) SyncCalls() int64 {
	return l.syncCalls.Load()
}

// Close closes the file descriptor. Close errors are fatal to the caller.
func (l *LocalFile) Close(ctx context.Context) error {
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("writeable: local close: %w", err)
	}
	return nil
}

// Abort drops the handle; the partially written file is left behind.
func (l *LocalFile) Abort() {
	_ = l.f.Close()
}
