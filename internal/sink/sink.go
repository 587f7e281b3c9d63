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

// Package sink delivers session records to logs, files, D-Bus, the event
// reporter and a charger relay.
package sink

import (
	"errors"
	"strconv"

	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/sirupsen/logrus"
)

// Multi publishes to every sink, collecting their errors.
type Multi []monitor.Sink

func (m Multi) Publish(device string, rec monitor.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(device, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Releaser is a sink that holds something back for a device after a stop
// until the device's session is reset.
type Releaser interface {
	Release(device string) error
}

// Release releases device on every sink that holds state for it.
func (m Multi) Release(device string) error {
	var errs []error
	for _, s := range m {
		if r, ok := s.(Releaser); ok {
			if err := r.Release(device); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Log writes records at debug level and notable records at info level.
type Log struct {
	Log logrus.FieldLogger
}

func (l Log) Publish(device string, rec monitor.Record) error {
	entry := l.Log.WithFields(logrus.Fields{
		"device": device,
		"phase":  rec.Phase,
	})
	switch {
	case rec.Stop():
		entry.Infof("Stop charging at %.2f W, %.2f Wh delivered", rec.Value, rec.EnergyWh)
	case rec.Tick:
		entry.Debugf("Predicted %.3f W, decay %.2f /h, cusum %.3f", rec.Value, rec.DecayRate, rec.Cusum)
	default:
		entry.Debugf("Filtered %.3f W ±%.3f, decay %.2f /h, cusum %.3f", rec.Value, rec.Stddev, rec.DecayRate, rec.Cusum)
	}
	return nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
