// Copyright 2026 The storevfs Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clock

import (
	"sync"
	"time"
)

// SimulatedClock reports a time that moves only when a test advances it.
// Sleepers blocked in After wake as the clock passes their deadline.
type SimulatedClock struct {
	mu sync.Mutex

	// GUARDED_BY(mu)
	now time.Time

	// Sleepers not yet due, in arrival order.
	//
	// INVARIANT: every waiter's deadline is after now
	//
	// GUARDED_BY(mu)
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

var _ Clock = &SimulatedClock{}

func NewSimulatedClock(start time.Time) *SimulatedClock {
	return &SimulatedClock{now: start}
}

func (sc *SimulatedClock) Now() time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.now
}

// SetTime jumps the clock to t, waking every sleeper whose deadline has
// been reached.
func (sc *SimulatedClock) SetTime(t time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.now = t
	sc.wakeDue()
}

// AdvanceTime moves the clock forward by d, waking sleepers that come due.
func (sc *SimulatedClock) AdvanceTime(d time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.now = sc.now.Add(d)
	sc.wakeDue()
}

// After returns a channel that receives the deadline (now plus d) once the
// simulated clock reaches it. A non-positive d fires immediately with the
// current simulated time.
func (sc *SimulatedClock) After(d time.Duration) <-chan time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	// Buffered so wakeDue never blocks on a sleeper that has gone away.
	ch := make(chan time.Time, 1)

	if d <= 0 {
		ch <- sc.now
		return ch
	}

	sc.waiters = append(sc.waiters, waiter{
		deadline: sc.now.Add(d),
		ch:       ch,
	})

	return ch
}

// wakeDue delivers to every waiter whose deadline the clock has reached.
//
// LOCKS_REQUIRED(sc.mu)
func (sc *SimulatedClock) wakeDue() {
	remaining := sc.waiters[:0]
	for _, w := range sc.waiters {
		if w.deadline.After(sc.now) {
			remaining = append(remaining, w)
			continue
		}
		w.ch <- w.deadline
	}

	sc.waiters = remaining
}
