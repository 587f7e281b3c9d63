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
	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/godbus/dbus"
)

const (
	SignalPath     = dbus.ObjectPath("/org/cacophony/smartcharge")
	StatusSignal   = "org.cacophony.smartcharge.Status"
	StopSignal     = "org.cacophony.smartcharge.Stop"
	CapacitySignal = "org.cacophony.smartcharge.Capacity"
)

type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// DBus emits a Status signal for every record, and Stop and Capacity signals
// when the trigger fires.
type DBus struct {
	conn emitter
}

func NewDBus() (*DBus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	return &DBus{conn: conn}, nil
}

func (d *DBus) Publish(device string, rec monitor.Record) error {
	err := d.conn.Emit(SignalPath, StatusSignal,
		device, rec.Value, rec.DecayRate, rec.Cusum, rec.Phase.String(), rec.EnergyWh)
	if err != nil {
		return err
	}
	if !rec.Stop() {
		return nil
	}
	if err := d.conn.Emit(SignalPath, StopSignal, device, rec.Value, rec.EnergyWh); err != nil {
		return err
	}
	if rec.CapacityWh > 0 {
		return d.conn.Emit(SignalPath, CapacitySignal, device, rec.CapacityWh)
	}
	return nil
}
