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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Reading is a raw sample from a source. Err is set when the source could not
// produce a value.
type Reading struct {
	Device string
	Value  float64
	Err    error
}

// Sink receives every record a session produces.
type Sink interface {
	Publish(device string, rec Record) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(device string, rec Record) error

func (f SinkFunc) Publish(device string, rec Record) error {
	return f(device, rec)
}

// Status is a snapshot of a runner.
type Status struct {
	Device         string  `json:"device"`
	Phase          Phase   `json:"phase"`
	Last           *Record `json:"last,omitempty"`
	InvalidSamples int     `json:"invalidSamples"`
	LastError      string  `json:"lastError,omitempty"`
}

// Runner owns one Session and serializes samples, ticks and resets onto it.
// At most one tick timer is outstanding at a time.
type Runner struct {
	device  string
	session *Session
	clock   clockwork.Clock
	sink    Sink
	log     logrus.FieldLogger

	samples chan Reading
	resets  chan struct{}
	done    chan struct{}

	badInput *rate.Limiter

	mu     sync.Mutex
	status Status
}

func NewRunner(device string, cfg Config, clk clockwork.Clock, sink Sink, log logrus.FieldLogger) (*Runner, error) {
	log = log.WithField("device", device)
	session, err := NewSession(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Runner{
		device:   device,
		session:  session,
		clock:    clk,
		sink:     sink,
		log:      log,
		samples:  make(chan Reading, 16),
		resets:   make(chan struct{}),
		done:     make(chan struct{}),
		badInput: rate.NewLimiter(rate.Every(time.Minute), 3),
		status:   Status{Device: device},
	}, nil
}

// Deliver queues a reading, blocking while the queue is full.
func (r *Runner) Deliver(ctx context.Context, rd Reading) error {
	select {
	case <-r.done:
		return fmt.Errorf("session %s is closed", r.device)
	default:
	}
	select {
	case r.samples <- rd:
		return nil
	case <-r.done:
		return fmt.Errorf("session %s is closed", r.device)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset drops the session state, the next reading starts a new session.
func (r *Runner) Reset(ctx context.Context) error {
	select {
	case r.resets <- struct{}{}:
		return nil
	case <-r.done:
		return fmt.Errorf("session %s is closed", r.device)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	return s
}

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Run processes readings until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)

	var timer clockwork.Timer
	var tick <-chan time.Time
	stop := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			tick = nil
		}
	}
	schedule := func(d time.Duration) {
		stop()
		timer = r.clock.NewTimer(d)
		tick = timer.Chan()
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("Closing session")
			return

		case rd := <-r.samples:
			if rd.Err != nil {
				r.badSample(rd.Err)
				continue
			}
			if !ValidValue(rd.Value) {
				r.badSample(fmt.Errorf("%w: %v", ErrInvalidSample, rd.Value))
				continue
			}
			stop()
			now := r.clock.Now()
			rec, err := r.session.Observe(rd.Value, now)
			if err != nil {
				r.badSample(err)
				continue
			}
			d, ok := r.session.NextWake(now)
			if !ok {
				d = r.session.cfg.TickPeriod
			}
			schedule(d)
			r.publish(rec)

		case <-tick:
			timer = nil
			tick = nil
			now := r.clock.Now()
			rec, ok := r.session.Tick(now)
			if !ok {
				continue
			}
			if d, ok := r.session.NextWake(now); ok {
				schedule(d)
			}
			r.publish(rec)

		case <-r.resets:
			stop()
			r.session.Reset()
			r.mu.Lock()
			r.status = Status{Device: r.device}
			r.mu.Unlock()
			r.log.Info("Session reset")
		}
	}
}

func (r *Runner) publish(rec Record) {
	r.mu.Lock()
	r.status.Phase = rec.Phase
	r.status.Last = &rec
	r.mu.Unlock()

	if r.sink == nil {
		return
	}
	if err := r.sink.Publish(r.device, rec); err != nil {
		r.log.Errorf("Failed to publish record: %v", err)
	}
}

func (r *Runner) badSample(err error) {
	r.mu.Lock()
	r.status.InvalidSamples++
	r.status.LastError = err.Error()
	r.mu.Unlock()

	if r.badInput.AllowN(r.clock.Now(), 1) {
		r.log.Warnf("Bad input value: %v", err)
	}
}
