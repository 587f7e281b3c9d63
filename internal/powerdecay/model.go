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

// Package powerdecay models charging power decaying exponentially toward zero
// at a slowly drifting rate. The state is [power (W), decay rate (1/s)].
package powerdecay

import (
	"gonum.org/v1/gonum/mat"
)

const (
	Power = iota
	Rate
)

// Model is the transition and process noise of the power decay system.
type Model struct {
	// KStdev is the random walk scale of the decay rate, in 1/s per √s.
	KStdev float64
	// PowerStdev is the relative random walk scale of power, per √s.
	PowerStdev float64
}

// Transition is the Jacobian of p' = p - p·k·dt, k' = k evaluated at x.
func (m Model) Transition(x mat.Vector, dt float64) *mat.Dense {
	p := x.AtVec(Power)
	return mat.NewDense(2, 2, []float64{
		1, -p * dt,
		0, 1,
	})
}

// ProcessNoise maps the decay rate random walk into power through G = [-p·dt, 1]
// and adds a power term that grows with the drift p·k·dt.
func (m Model) ProcessNoise(x mat.Vector, dt float64) *mat.SymDense {
	if dt <= 0 {
		return mat.NewSymDense(2, nil)
	}
	p := x.AtVec(Power)
	k := x.AtVec(Rate)

	qk := m.KStdev * m.KStdev * dt
	g := -p * dt
	drift := p * k * dt
	powerNoise := m.PowerStdev * p

	return mat.NewSymDense(2, []float64{
		g*g*qk + drift*drift + powerNoise*powerNoise*dt, g * qk,
		g * qk, qk,
	})
}

// Hourly converts a decay rate from 1/s to 1/h.
func Hourly(k float64) float64 {
	return k * 3600
}
