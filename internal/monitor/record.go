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

// Record is emitted for every processed sample and tick.
type Record struct {
	Time time.Time `json:"time"`
	// Value is the filtered power in W.
	Value float64 `json:"value"`
	// Rate is the second derivative of power in W/h², nil until enough samples
	// have been corrected.
	Rate *float64 `json:"rate"`
	// Slope is the first derivative of power in W/h.
	Slope *float64 `json:"slope"`
	// Trigger is set to false once per charge, when charging should stop.
	Trigger *bool `json:"trigger,omitempty"`

	// DecayRate in 1/h.
	DecayRate  float64   `json:"decayRate"`
	Cusum      float64   `json:"cusum"`
	Phase      Phase     `json:"phase"`
	EnergyWh   float64   `json:"energyWh"`
	CapacityWh float64   `json:"capacityWh,omitempty"`
	Stddev     float64   `json:"stddev"`
	Gain       float64   `json:"gain"`
	Delay      *float64  `json:"delay,omitempty"`
	Reset      ResetKind `json:"reset,omitempty"`
	Tick       bool      `json:"tick,omitempty"`
}

// Stop reports whether this record carries the stop charging trigger.
func (r Record) Stop() bool {
	return r.Trigger != nil && !*r.Trigger
}
