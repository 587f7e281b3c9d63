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

package sink

import (
	"fmt"
	"sync"

	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Relay switches a charger through a GPIO driven relay. It cuts the charger
// on the stop trigger and closes it again when a session starts over, when the
// device is released or when the relay is closed.
type Relay struct {
	pin       gpio.PinOut
	activeLow bool
	log       logrus.FieldLogger

	mu      sync.Mutex
	devices map[string]bool
}

func NewRelay(pinName string, activeLow bool, log logrus.FieldLogger) (*Relay, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("failed to find relay pin '%s'", pinName)
	}
	return newRelay(pin, activeLow, log)
}

func newRelay(pin gpio.PinOut, activeLow bool, log logrus.FieldLogger) (*Relay, error) {
	r := &Relay{
		pin:       pin,
		activeLow: activeLow,
		log:       log,
		devices:   map[string]bool{},
	}
	if err := r.set(true); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Relay) level(on bool) gpio.Level {
	if r.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

func (r *Relay) set(on bool) error {
	if err := r.pin.Out(r.level(on)); err != nil {
		return fmt.Errorf("failed to set relay pin: %w", err)
	}
	return nil
}

// Publish opens the relay once any device asks to stop and closes it when
// every stopped device has been reset.
func (r *Relay) Publish(device string, rec monitor.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case rec.Stop():
		r.devices[device] = true
		r.log.Infof("Cutting charger relay for %s", device)
		return r.set(false)
	case rec.Reset == monitor.ResetInit && r.devices[device]:
		return r.release(device)
	}
	return nil
}

// Release drops device's request to keep the charger cut.
func (r *Relay) Release(device string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.devices[device] {
		return nil
	}
	return r.release(device)
}

func (r *Relay) release(device string) error {
	delete(r.devices, device)
	if len(r.devices) > 0 {
		return nil
	}
	r.log.Info("Closing charger relay")
	return r.set(true)
}

// Close reconnects the charger regardless of pending stops.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = map[string]bool{}
	return r.set(true)
}
