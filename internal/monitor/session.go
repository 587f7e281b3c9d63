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
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/estimator"
	"github.com/TheCacophonyProject/smartcharge/internal/powerdecay"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var ErrInvalidSample = errors.New("invalid sample")

// ValidValue reports whether v can be fed to a session.
func ValidValue(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Session tracks one charge of one device. It is not safe for concurrent use;
// a Runner serializes samples and ticks onto it.
type Session struct {
	cfg    Config
	log    logrus.FieldLogger
	filter *estimator.Filter

	state       estimator.State
	initialized bool
	lastTime    time.Time
	phase       Phase

	decay  decayMonitor
	energy energyAccumulator

	triggerAt      time.Time
	triggerPending bool
	// quiet is set when a tick emitted the trigger, the tick is then not
	// rescheduled.
	quiet bool
}

func NewSession(cfg Config, log logrus.FieldLogger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	model := powerdecay.Model{
		KStdev:     cfg.Filter.KStdev,
		PowerStdev: cfg.Filter.PowerStdev,
	}
	return &Session{
		cfg:    cfg,
		log:    log,
		filter: estimator.New(model, cfg.Filter.MeasurementStdev*cfg.Filter.MeasurementStdev),
		decay:  newDecayMonitor(cfg),
		energy: energyAccumulator{
			floor:      cfg.PresenceThreshold,
			efficiency: cfg.Efficiency,
		},
	}, nil
}

func (s *Session) initialCovariance() *mat.SymDense {
	return estimator.Diagonal(s.cfg.Filter.InitialPowerVariance, s.cfg.Filter.InitialRateVariance)
}

// Observe processes a sample that arrived at now.
func (s *Session) Observe(value float64, now time.Time) (Record, error) {
	if !ValidValue(value) {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidSample, value)
	}
	s.quiet = false

	if !s.initialized {
		s.hardReset(ResetInit, value, now)
		return s.record(now, ResetInit, false, false), nil
	}

	dt := s.elapsed(now)
	predicted := s.filter.Predict(s.state, dt)
	s.lastTime = now

	kind := decideReset(s.cfg, true,
		predicted.Mean.AtVec(powerdecay.Power), predicted.Cov.At(0, 0), value)
	if kind.Hard() {
		s.hardReset(kind, value, now)
		return s.record(now, kind, false, false), nil
	}
	if kind == ResetCovariance {
		s.log.Debugf("Outlier %.3f W, expected %.3f W, resetting covariance", value, predicted.Mean.AtVec(powerdecay.Power))
		predicted.Cov = s.initialCovariance()
	}

	s.state = s.filter.Correct(predicted, value)
	s.advance(dt, now)
	fire := s.flushTrigger(now)
	return s.record(now, kind, false, fire), nil
}

// Tick advances the filter to now without a sample. It does nothing before the
// first sample.
func (s *Session) Tick(now time.Time) (Record, bool) {
	if !s.initialized {
		return Record{}, false
	}
	dt := s.elapsed(now)
	s.state = s.filter.Predict(s.state, dt)
	s.lastTime = now
	s.advance(dt, now)
	fire := s.flushTrigger(now)
	s.quiet = fire
	return s.record(now, ResetNone, true, fire), true
}

// NextWake returns how long after now the next tick is due. ok is false before
// the first sample and after a tick that emitted the trigger.
func (s *Session) NextWake(now time.Time) (time.Duration, bool) {
	if !s.initialized || s.quiet {
		return 0, false
	}
	d := s.cfg.TickPeriod
	if s.triggerPending {
		until := s.triggerAt.Sub(now)
		if until < 0 {
			until = 0
		}
		if until < d {
			d = until
		}
	}
	return d, true
}

// Reset forgets everything, the next sample starts a new session.
func (s *Session) Reset() {
	s.initialized = false
	s.state = estimator.State{}
	s.lastTime = time.Time{}
	s.phase = PhaseUninitialized
	s.decay = newDecayMonitor(s.cfg)
	s.energy.clear()
	s.triggerPending = false
	s.quiet = false
}

func (s *Session) elapsed(now time.Time) float64 {
	if s.lastTime.IsZero() || !now.After(s.lastTime) {
		return 0
	}
	return now.Sub(s.lastTime).Seconds()
}

func (s *Session) hardReset(kind ResetKind, value float64, now time.Time) {
	s.state = estimator.NewState([]float64{value, 0}, s.initialCovariance())
	s.initialized = true
	s.lastTime = now
	s.decay.reset(value, now)
	s.triggerPending = false

	switch kind {
	case ResetInit:
		s.log.Info("Session started")
	case ResetStart:
		s.energy.clear()
		s.decay.capacity = 0
		s.log.Info("Start detected")
	case ResetStop:
		s.log.Info("Stop detected")
	case ResetJump:
		if !s.cfg.KeepTotalsOnJump {
			s.energy.clear()
			s.decay.capacity = 0
		}
		s.log.Infof("Step change to %.3f W", value)
	}
	s.phase = s.phase.transition(eventReset)
}

// advance runs the decay monitor and energy integration on the current state.
func (s *Session) advance(dt float64, now time.Time) {
	p := s.state.Mean.AtVec(powerdecay.Power)
	k := s.state.Mean.AtVec(powerdecay.Rate)

	s.energy.add(p, dt)
	u := s.decay.update(p, k, dt, now)
	if u.started {
		s.phase = s.phase.transition(eventDecayStart)
		s.log.WithField("cusum", s.decay.cusum).Info("Decay detected")
	}
	if u.ended {
		s.phase = s.phase.transition(eventDecayEnd)
		s.log.WithField("cusum", s.decay.cusum).Info("Decay ended")
	}
	if u.capacity {
		s.log.Infof("Estimated battery capacity %.1f Wh", s.decay.capacity)
	}
	if u.fired {
		s.phase = s.phase.transition(eventFinish)
		s.triggerAt = now.Add(s.cfg.TriggerDelay)
		s.triggerPending = true
		s.log.WithField("cusum", s.decay.cusum).Infof("Reached %.0f%%, stopping in %s", s.cfg.TargetPercent, s.cfg.TriggerDelay)
	}
}

// flushTrigger emits a pending trigger once it is due, provided the session is
// still finishing.
func (s *Session) flushTrigger(now time.Time) bool {
	if !s.triggerPending || now.Before(s.triggerAt) {
		return false
	}
	s.triggerPending = false
	if !s.decay.finishing {
		return false
	}
	s.log.Info("Stop charging")
	return true
}

func (s *Session) record(now time.Time, kind ResetKind, tick, fire bool) Record {
	p := s.state.Mean.AtVec(powerdecay.Power)
	kHourly := powerdecay.Hourly(s.state.Mean.AtVec(powerdecay.Rate))

	r := Record{
		Time:       now,
		Value:      p,
		DecayRate:  kHourly,
		Cusum:      s.decay.cusum,
		Phase:      s.phase,
		EnergyWh:   s.energy.wattHours(),
		CapacityWh: s.decay.capacity,
		Stddev:     s.state.Stddev(),
		Reset:      kind,
		Tick:       tick,
	}
	if s.state.Index >= 0 {
		if g := s.filter.Gain(); len(g) > 0 {
			r.Gain = g[0]
		}
		if d, ok := s.filter.Delay(); ok {
			r.Delay = &d
		}
	}
	if s.state.Index+1 >= s.cfg.MinRateSamples {
		slope := -kHourly * p
		accel := kHourly * kHourly * p
		r.Slope = &slope
		r.Rate = &accel
	}
	if fire {
		trigger := false
		r.Trigger = &trigger
	}
	return r
}

func (s *Session) Initialized() bool { return s.initialized }
func (s *Session) Phase() Phase      { return s.phase }
func (s *Session) Cusum() float64    { return s.decay.cusum }
func (s *Session) Decaying() bool    { return s.decay.decaying }
func (s *Session) Finishing() bool   { return s.decay.finishing }
func (s *Session) EnergyWh() float64 { return s.energy.wattHours() }

// CapacityWh is the estimated battery capacity, 0 when unknown.
func (s *Session) CapacityWh() float64 { return s.decay.capacity }

// MaxPower is the power at the last point the CUSUM was zero.
func (s *Session) MaxPower() float64 { return s.decay.maxPower }

// State returns a copy of the filter state. It is the zero State before the
// first sample.
func (s *Session) State() estimator.State {
	if !s.initialized {
		return estimator.State{}
	}
	return s.state.Clone()
}
