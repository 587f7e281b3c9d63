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

import "time"

// TimedSample is a reading with the time it arrived.
type TimedSample struct {
	Time  time.Time
	Value float64
	Err   error
}

// Replay feeds samples through s in order, firing the ticks a Runner would
// have fired between them, and keeps ticking for tail after the last sample.
// It returns the number of rejected samples.
func Replay(s *Session, samples []TimedSample, tail time.Duration, emit func(Record)) int {
	var wake time.Time
	armed := false
	runTicks := func(until time.Time) {
		for armed && !wake.After(until) {
			at := wake
			armed = false
			rec, ok := s.Tick(at)
			if !ok {
				return
			}
			emit(rec)
			if d, ok := s.NextWake(at); ok {
				wake = at.Add(d)
				armed = true
			}
		}
	}

	invalid := 0
	var last time.Time
	for _, smp := range samples {
		if smp.Err != nil || !ValidValue(smp.Value) {
			invalid++
			continue
		}
		runTicks(smp.Time)
		rec, err := s.Observe(smp.Value, smp.Time)
		if err != nil {
			invalid++
			continue
		}
		emit(rec)
		last = smp.Time

		d, ok := s.NextWake(smp.Time)
		if !ok {
			d = s.cfg.TickPeriod
		}
		wake = smp.Time.Add(d)
		armed = true
	}
	if !last.IsZero() {
		runTicks(last.Add(tail))
	}
	return invalid
}
