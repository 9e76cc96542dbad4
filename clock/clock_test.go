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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedClockHoldsTime(t *testing.T) {
	start := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	sc := NewSimulatedClock(start)

	assert.Equal(t, start, sc.Now())

	sc.AdvanceTime(time.Minute)
	assert.Equal(t, start.Add(time.Minute), sc.Now())
}

func TestSimulatedClockAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	sc := NewSimulatedClock(start)

	ch := sc.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before the clock advanced")
	default:
	}

	sc.AdvanceTime(10 * time.Second)
	select {
	case fired := <-ch:
		assert.Equal(t, start.Add(10*time.Second), fired)
	default:
		t.Fatal("did not fire after the clock advanced")
	}
}

func TestSimulatedClockAfterNonPositive(t *testing.T) {
	sc := NewSimulatedClock(time.Unix(0, 0))

	select {
	case <-sc.After(0):
	default:
		t.Fatal("zero-duration After should fire immediately")
	}
}

func TestRealClockAdvances(t *testing.T) {
	var c Clock = RealClock{}
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
