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

// energyAccumulator integrates the power delivered to the battery.
type energyAccumulator struct {
	floor      float64
	efficiency float64
	joules     float64
}

func (e *energyAccumulator) add(power, dt float64) {
	if power < e.floor || dt <= 0 {
		return
	}
	e.joules += power * e.efficiency * dt
}

func (e *energyAccumulator) clear() {
	e.joules = 0
}

func (e *energyAccumulator) wattHours() float64 {
	return e.joules / 3600
}
