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
	"errors"
	"math"
	"testing"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const period = 5 * time.Second

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(cfg, logging.NewDiscardLogger())
	require.NoError(t, err)
	return s
}

// feed observes values one period apart starting at start and returns the
// records and the time of the last sample.
func feed(t *testing.T, s *Session, start time.Time, values ...float64) ([]Record, time.Time) {
	t.Helper()
	var records []Record
	now := start
	for i, v := range values {
		now = start.Add(time.Duration(i) * period)
		rec, err := s.Observe(v, now)
		require.NoError(t, err)
		records = append(records, rec)
	}
	return records, now
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func stopCount(records []Record) int {
	n := 0
	for _, r := range records {
		if r.Trigger != nil {
			n++
		}
	}
	return n
}

func TestConstantInput(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	records, _ := feed(t, s, epoch, repeat(20, 500)...)

	assert.Equal(t, ResetInit, records[0].Reset)
	assert.Equal(t, 0, stopCount(records))
	assert.Equal(t, 0.0, s.State().Mean.AtVec(1))
	assert.Equal(t, 0.0, s.Cusum())
	assert.False(t, s.Decaying())
	assert.Equal(t, PhaseActive, s.Phase())

	last := records[len(records)-1]
	assert.InDelta(t, 20, last.Value, 1e-9)
	require.NotNil(t, last.Rate)
	assert.Equal(t, 0.0, *last.Rate)
}

func TestGeometricDecayTriggersOnce(t *testing.T) {
	cfg := DefaultConfig()
	s := newTestSession(t, cfg)

	values := make([]float64, 300)
	p := 20.0
	for i := range values {
		values[i] = p
		p *= 0.99
	}
	records, _ := feed(t, s, epoch, values...)

	for _, r := range records[1:] {
		require.False(t, r.Reset.Hard(), "unexpected %s reset at %s", r.Reset, r.Time)
	}
	require.Equal(t, 1, stopCount(records))
	assert.True(t, s.Finishing())
	assert.Equal(t, PhaseFinishing, s.Phase())
	assert.InDelta(t, 0.002*3600, records[len(records)-1].DecayRate, 0.1)

	sawDecaying := false
	for _, r := range records {
		if r.Phase == PhaseDecaying {
			sawDecaying = true
		}
		if r.Stop() {
			assert.False(t, r.Time.Before(epoch.Add(cfg.SettleTime)))
			assert.Equal(t, PhaseFinishing, r.Phase)
			assert.Greater(t, r.CapacityWh, 0.0)
			break
		}
	}
	assert.True(t, sawDecaying)
}

func TestStartAndStopResets(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	_, now := feed(t, s, epoch, 0, 0, 0)

	now = now.Add(period)
	rec, err := s.Observe(50, now)
	require.NoError(t, err)
	assert.Equal(t, ResetStart, rec.Reset)
	state := s.State()
	assert.Equal(t, -1, state.Index)
	assert.Equal(t, 50.0, state.Mean.AtVec(0))
	assert.Equal(t, 0.0, state.Mean.AtVec(1))
	assert.Equal(t, 10.0, state.Cov.At(0, 0))
	assert.Equal(t, math.Pow(10, -4.5), state.Cov.At(1, 1))
	assert.Equal(t, 0.0, state.Cov.At(0, 1))
	assert.Equal(t, 0.0, rec.EnergyWh)
	assert.Nil(t, rec.Rate)

	for i := 0; i < 4; i++ {
		now = now.Add(period)
		_, err = s.Observe(50, now)
		require.NoError(t, err)
	}
	// 4 steps of 5 s at 50 W, 90% efficient.
	assert.InDelta(t, 0.25, s.EnergyWh(), 1e-9)

	now = now.Add(period)
	rec, err = s.Observe(0, now)
	require.NoError(t, err)
	assert.Equal(t, ResetStop, rec.Reset)
	assert.Equal(t, -1, s.State().Index)
	assert.InDelta(t, 0.25, rec.EnergyWh, 1e-9, "stop keeps the totals")

	now = now.Add(period)
	rec, err = s.Observe(50, now)
	require.NoError(t, err)
	assert.Equal(t, ResetStart, rec.Reset)
	assert.Equal(t, 0.0, rec.EnergyWh, "start clears the totals")
}

func TestStepChangeResets(t *testing.T) {
	for _, keep := range []bool{true, false} {
		cfg := DefaultConfig()
		cfg.KeepTotalsOnJump = keep
		s := newTestSession(t, cfg)
		_, now := feed(t, s, epoch, repeat(20, 20)...)
		energy := s.EnergyWh()
		require.Greater(t, energy, 0.0)

		rec, err := s.Observe(25, now.Add(period))
		require.NoError(t, err)
		assert.Equal(t, ResetJump, rec.Reset)
		state := s.State()
		assert.Equal(t, -1, state.Index)
		assert.Equal(t, 25.0, state.Mean.AtVec(0))
		assert.Equal(t, 10.0, state.Cov.At(0, 0))
		if keep {
			assert.Equal(t, energy, rec.EnergyWh)
		} else {
			assert.Equal(t, 0.0, rec.EnergyWh)
		}
	}
}

func TestOutlierResetsCovarianceOnly(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	_, now := feed(t, s, epoch, repeat(20, 50)...)
	before := s.State()

	rec, err := s.Observe(21.5, now.Add(period))
	require.NoError(t, err)
	assert.Equal(t, ResetCovariance, rec.Reset)

	after := s.State()
	assert.Equal(t, before.Index+1, after.Index, "the sample is still corrected")
	assert.Greater(t, after.Cov.At(1, 1), 10*before.Cov.At(1, 1))
	assert.Greater(t, after.Cov.At(0, 0), before.Cov.At(0, 0))
	assert.InDelta(t, 21.5, after.Mean.AtVec(0), 0.01)
	assert.InDelta(t, before.Mean.AtVec(1), after.Mean.AtVec(1), 1e-9)
}

func TestInvalidSampleLeavesStateAlone(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := s.Observe(v, epoch)
		require.True(t, errors.Is(err, ErrInvalidSample))
	}
	assert.False(t, s.Initialized())
	assert.Equal(t, PhaseUninitialized, s.Phase())

	_, now := feed(t, s, epoch, 10, 10)
	before := s.State()
	_, err := s.Observe(math.NaN(), now.Add(time.Second))
	require.ErrorIs(t, err, ErrInvalidSample)
	assert.Equal(t, before.Index, s.State().Index)
	assert.Equal(t, before.Cov.At(0, 0), s.State().Cov.At(0, 0))
}

func TestTick(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	_, ok := s.Tick(epoch)
	require.False(t, ok, "tick before the first sample is a no-op")
	_, ok = s.NextWake(epoch)
	require.False(t, ok)

	_, now := feed(t, s, epoch, 10, 10)
	index := s.State().Index
	p00 := s.State().Cov.At(0, 0)

	rec, ok := s.Tick(now.Add(period))
	require.True(t, ok)
	assert.True(t, rec.Tick)
	assert.Equal(t, index, s.State().Index)
	assert.Greater(t, s.State().Cov.At(0, 0), p00)
	assert.InDelta(t, 10*0.9*5/3600.0*2, rec.EnergyWh, 1e-9)

	d, ok := s.NextWake(rec.Time)
	require.True(t, ok)
	assert.Equal(t, period, d)
}

func TestTriggerDelayAndTickEmission(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SettleTime = 0
	s := newTestSession(t, cfg)

	now := epoch
	_, err := s.Observe(20, now)
	require.NoError(t, err)

	// Drive the decay through ticks only by planting a decay rate.
	s.state.Mean.SetVec(1, 0.002)
	var stop *Record
	for i := 0; i < 1000 && stop == nil; i++ {
		d, ok := s.NextWake(now)
		require.True(t, ok)
		now = now.Add(d)
		rec, ok := s.Tick(now)
		require.True(t, ok)
		if s.triggerPending {
			// Wake up for the pending trigger rather than a whole period.
			wait, ok := s.NextWake(now)
			require.True(t, ok)
			assert.Equal(t, cfg.TriggerDelay, wait)
		}
		if rec.Trigger != nil {
			stop = &rec
		}
	}
	require.NotNil(t, stop)
	assert.True(t, stop.Stop())
	_, ok := s.NextWake(now)
	assert.False(t, ok, "the tick that emitted the trigger is not rescheduled")

	// A later sample rearms the ticks but never a second trigger.
	now = now.Add(period)
	rec, err := s.Observe(s.State().Mean.AtVec(0), now)
	require.NoError(t, err)
	assert.Nil(t, rec.Trigger)
	_, ok = s.NextWake(now)
	assert.True(t, ok)
}

func TestTriggerCancelledByHardReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SettleTime = 0
	cfg.TriggerDelay = time.Minute
	s := newTestSession(t, cfg)

	now := epoch
	_, err := s.Observe(20, now)
	require.NoError(t, err)
	s.state.Mean.SetVec(1, 0.002)
	for i := 0; i < 1000 && !s.Finishing(); i++ {
		now = now.Add(period)
		s.Tick(now)
	}
	require.True(t, s.Finishing())

	now = now.Add(period)
	rec, err := s.Observe(0, now)
	require.NoError(t, err)
	assert.Equal(t, ResetStop, rec.Reset)
	assert.False(t, s.Finishing())

	for i := 0; i < 20; i++ {
		now = now.Add(period)
		rec, ok := s.Tick(now)
		require.True(t, ok)
		require.Nil(t, rec.Trigger)
	}
}

func TestSessionReset(t *testing.T) {
	s := newTestSession(t, DefaultConfig())
	feed(t, s, epoch, 10, 10, 10)
	s.Reset()
	assert.False(t, s.Initialized())
	assert.Equal(t, PhaseUninitialized, s.Phase())
	assert.Equal(t, 0.0, s.EnergyWh())

	rec, err := s.Observe(10, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ResetInit, rec.Reset)
}

func TestInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetPercent = 60
	cfg.Efficiency = 0
	_, err := NewSession(cfg, logging.NewDiscardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target percentage")
	assert.Contains(t, err.Error(), "efficiency")
}

func TestPhaseTransitions(t *testing.T) {
	cases := []struct {
		from Phase
		ev   phaseEvent
		want Phase
	}{
		{PhaseUninitialized, eventReset, PhaseActive},
		{PhaseUninitialized, eventDecayStart, PhaseUninitialized},
		{PhaseActive, eventDecayStart, PhaseDecaying},
		{PhaseDecaying, eventDecayEnd, PhaseActive},
		{PhaseDecaying, eventFinish, PhaseFinishing},
		{PhaseFinishing, eventDecayEnd, PhaseFinishing},
		{PhaseFinishing, eventReset, PhaseActive},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.from.transition(c.ev), "%s on %d", c.from, c.ev)
	}
	assert.Equal(t, "finishing", PhaseFinishing.String())
}
