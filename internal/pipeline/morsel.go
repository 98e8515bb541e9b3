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

import "sync"

// ConsumeToken is an owned capability carried by a morsel. As long as the
// token is held, the producer counts the morsel as in flight; releasing it
// returns a credit so the producer may emit more. Release is idempotent and
// a nil token is a no-op.
type ConsumeToken struct {
	once    sync.Once
	release func()
}

// NewConsumeToken creates a token that invokes release exactly once.
func NewConsumeToken(release func()) *ConsumeToken {
	return &ConsumeToken{release: release}
}

// Release yields the credit back to the producer.
func (t *ConsumeToken) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

// Morsel is one tabular chunk flowing through the pipeline. Seq is assigned
// by the producer, strictly increasing across the whole upstream (not per
// lane), and unique.
type Morsel struct {
	Frame *Frame
	Seq   uint64
	Token *ConsumeToken
}
