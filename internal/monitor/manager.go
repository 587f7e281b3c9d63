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
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// DefaultDevice names readings that don't carry a device.
const DefaultDevice = "default"

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrClosed        = errors.New("manager is shut down")
)

type managedRunner struct {
	runner *Runner
	cancel context.CancelFunc
}

// Manager runs one session per device, creating it on the first reading.
type Manager struct {
	ctx   context.Context
	cfg   Config
	clock clockwork.Clock
	sink  Sink
	log   logrus.FieldLogger

	mu      sync.Mutex
	runners map[string]*managedRunner
	closed  bool
	wg      sync.WaitGroup
}

func NewManager(ctx context.Context, cfg Config, clk clockwork.Clock, sink Sink, log logrus.FieldLogger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Manager{
		ctx:     ctx,
		cfg:     cfg,
		clock:   clk,
		sink:    sink,
		log:     log,
		runners: map[string]*managedRunner{},
	}, nil
}

// Deliver routes rd to its device's session.
func (m *Manager) Deliver(rd Reading) error {
	if rd.Device == "" {
		rd.Device = DefaultDevice
	}
	r, err := m.open(rd.Device)
	if err != nil {
		return err
	}
	return r.Deliver(m.ctx, rd)
}

func (m *Manager) open(device string) (*Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if mr, ok := m.runners[device]; ok {
		return mr.runner, nil
	}
	if err := m.ctx.Err(); err != nil {
		return nil, err
	}
	r, err := NewRunner(device, m.cfg, m.clock, m.sink, m.log)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.runners[device] = &managedRunner{runner: r, cancel: cancel}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.Run(ctx)
	}()
	m.log.WithField("device", device).Info("Session opened")
	return r, nil
}

// Devices returns the devices with an open session, sorted.
func (m *Manager) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]string, 0, len(m.runners))
	for d := range m.runners {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	return devices
}

func (m *Manager) get(device string) (*Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.runners[device]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}
	return mr.runner, nil
}

func (m *Manager) Status(device string) (Status, error) {
	r, err := m.get(device)
	if err != nil {
		return Status{}, err
	}
	return r.Status(), nil
}

func (m *Manager) Reset(device string) error {
	r, err := m.get(device)
	if err != nil {
		return err
	}
	return r.Reset(m.ctx)
}

// Close stops a device's session and waits for it to exit.
func (m *Manager) Close(device string) error {
	m.mu.Lock()
	mr, ok := m.runners[device]
	delete(m.runners, device)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}
	mr.cancel()
	<-mr.runner.Done()
	return nil
}

// Shutdown closes every session. No session can be opened afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	for device, mr := range m.runners {
		mr.cancel()
		delete(m.runners, device)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
