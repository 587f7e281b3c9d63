/*
smartcharge - Detects the end of a battery charge from power readings.
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package monitor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayInterleavesTicks(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	samples := []TimedSample{
		{Time: epoch, Value: 10},
		{Time: epoch.Add(16 * time.Second), Value: 10},
		{Time: epoch.Add(17 * time.Second), Value: math.NaN()},
	}
	var records []Record
	invalid := Replay(s, samples, 12*time.Second, func(r Record) {
		records = append(records, r)
	})
	assert.Equal(t, 1, invalid)

	var kinds []string
	for _, r := range records {
		if r.Tick {
			kinds = append(kinds, "tick@"+r.Time.Sub(epoch).String())
		} else {
			kinds = append(kinds, "sample@"+r.Time.Sub(epoch).String())
		}
	}
	assert.Equal(t, []string{
		"sample@0s", "tick@5s", "tick@10s", "tick@15s",
		"sample@16s", "tick@21s", "tick@26s",
	}, kinds)
}

func TestReplayDecayStopsTicking(t *testing.T) {
	cfg := DefaultConfig()
	s := newTestSession(t, cfg)

	var samples []TimedSample
	p := 20.0
	for i := 0; i < 100; i++ {
		// One sample every three ticks.
		samples = append(samples, TimedSample{Time: epoch.Add(time.Duration(i) * 15 * time.Second), Value: p})
		p *= 0.97
	}
	var records []Record
	Replay(s, samples, time.Hour, func(r Record) {
		records = append(records, r)
	})

	stops := 0
	for _, r := range records {
		if r.Stop() {
			stops++
		}
	}
	require.Equal(t, 1, stops)
	assert.True(t, s.Finishing())
}
