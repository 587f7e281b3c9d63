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
	"errors"
	"math"
	"testing"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/logging"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	device string
	rec    Record
}

func chanSink() (Sink, chan published) {
	c := make(chan published, 100)
	return SinkFunc(func(device string, rec Record) error {
		c <- published{device, rec}
		return nil
	}), c
}

func next(t *testing.T, c chan published) published {
	t.Helper()
	select {
	case p := <-c:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no record published")
	}
	return published{}
}

func requireNothing(t *testing.T, c chan published) {
	t.Helper()
	select {
	case p := <-c:
		t.Fatalf("unexpected record %+v", p.rec)
	case <-time.After(50 * time.Millisecond):
	}
}

// waitTimers waits until exactly n timers are outstanding on clk.
func waitTimers(t *testing.T, clk clockwork.FakeClock, n int) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		clk.BlockUntil(n)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected %d pending timers", n)
	}
}

func startRunner(t *testing.T, clk clockwork.Clock, sink Sink) (*Runner, context.CancelFunc) {
	t.Helper()
	r, err := NewRunner("bike", DefaultConfig(), clk, sink, logging.NewDiscardLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-r.Done()
	})
	return r, cancel
}

func TestRunnerTicksBetweenSamples(t *testing.T) {
	clk := clockwork.NewFakeClockAt(epoch)
	sink, out := chanSink()
	r, _ := startRunner(t, clk, sink)
	ctx := context.Background()

	clk.Advance(time.Minute)
	requireNothing(t, out)

	require.NoError(t, r.Deliver(ctx, Reading{Value: 10}))
	p := next(t, out)
	assert.Equal(t, "bike", p.device)
	assert.False(t, p.rec.Tick)
	assert.Equal(t, ResetInit, p.rec.Reset)
	waitTimers(t, clk, 1)

	for i := 0; i < 3; i++ {
		clk.Advance(5 * time.Second)
		p = next(t, out)
		assert.True(t, p.rec.Tick)
		assert.Equal(t, clk.Now(), p.rec.Time)
	}

	// A sample replaces the pending tick.
	clk.Advance(2 * time.Second)
	require.NoError(t, r.Deliver(ctx, Reading{Value: 10}))
	p = next(t, out)
	assert.False(t, p.rec.Tick)
	waitTimers(t, clk, 1)

	clk.Advance(3 * time.Second)
	requireNothing(t, out)
	clk.Advance(2 * time.Second)
	p = next(t, out)
	assert.True(t, p.rec.Tick)

	status := r.Status()
	assert.Equal(t, PhaseActive, status.Phase)
	require.NotNil(t, status.Last)
	assert.True(t, status.Last.Tick)
}

func TestRunnerRejectsBadInput(t *testing.T) {
	clk := clockwork.NewFakeClockAt(epoch)
	sink, out := chanSink()
	r, _ := startRunner(t, clk, sink)
	ctx := context.Background()

	require.NoError(t, r.Deliver(ctx, Reading{Value: math.NaN()}))
	require.NoError(t, r.Deliver(ctx, Reading{Err: errors.New("garbled")}))
	require.Eventually(t, func() bool {
		return r.Status().InvalidSamples == 2
	}, time.Second, time.Millisecond)
	requireNothing(t, out)
	assert.Equal(t, "garbled", r.Status().LastError)
	waitTimers(t, clk, 0)
}

func TestRunnerReset(t *testing.T) {
	clk := clockwork.NewFakeClockAt(epoch)
	sink, out := chanSink()
	r, _ := startRunner(t, clk, sink)
	ctx := context.Background()

	require.NoError(t, r.Deliver(ctx, Reading{Value: 10}))
	next(t, out)
	require.NoError(t, r.Reset(ctx))
	require.Eventually(t, func() bool {
		return r.Status().Last == nil
	}, time.Second, time.Millisecond)
	waitTimers(t, clk, 0)

	require.NoError(t, r.Deliver(ctx, Reading{Value: 12}))
	assert.Equal(t, ResetInit, next(t, out).rec.Reset)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	clk := clockwork.NewFakeClockAt(epoch)
	r, cancel := startRunner(t, clk, nil)
	require.NoError(t, r.Deliver(context.Background(), Reading{Value: 10}))
	cancel()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	waitTimers(t, clk, 0)
	assert.Error(t, r.Deliver(context.Background(), Reading{Value: 10}))
}
