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
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/sirupsen/logrus"
)

var addEvent = eventclient.AddEvent

// Events reports charge milestones to the event reporter.
type Events struct {
	Log logrus.FieldLogger
}

func (e Events) Publish(device string, rec monitor.Record) error {
	var event eventclient.Event
	switch {
	case rec.Stop():
		details := map[string]interface{}{
			"device":   device,
			"power":    rec.Value,
			"energyWh": rec.EnergyWh,
			"cusum":    rec.Cusum,
		}
		if rec.CapacityWh > 0 {
			details["capacityWh"] = rec.CapacityWh
		}
		event = eventclient.Event{Timestamp: rec.Time, Type: "chargeFinishing", Details: details}
	case rec.Reset == monitor.ResetStart:
		event = eventclient.Event{
			Timestamp: rec.Time,
			Type:      "chargeStarted",
			Details:   map[string]interface{}{"device": device, "power": rec.Value},
		}
	case rec.Reset == monitor.ResetStop:
		event = eventclient.Event{
			Timestamp: rec.Time,
			Type:      "chargeStopped",
			Details:   map[string]interface{}{"device": device, "energyWh": rec.EnergyWh},
		}
	default:
		return nil
	}
	if err := addEvent(event); err != nil {
		e.Log.Error("Error sending charge event: ", err)
		return err
	}
	e.Log.Debugf("Sent %s event for %s", event.Type, device)
	return nil
}
