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

// Package estimator is an extended Kalman filter over a small state vector
// where only the first component is observed.
package estimator

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Model supplies the transition and process noise of a system, linearized
// around the previous mean.
type Model interface {
	Transition(x mat.Vector, dt float64) *mat.Dense
	ProcessNoise(x mat.Vector, dt float64) *mat.SymDense
}

// State is the filter mean and covariance. Index counts corrections since the
// last reinitialization and is -1 before the first one.
type State struct {
	Mean  *mat.VecDense
	Cov   *mat.SymDense
	Index int
}

// NewState returns an uncorrected state with the given mean and a copy of cov.
func NewState(mean []float64, cov mat.Symmetric) State {
	m := make([]float64, len(mean))
	copy(m, mean)
	c := mat.NewSymDense(len(mean), nil)
	c.CopySym(cov)
	return State{
		Mean:  mat.NewVecDense(len(m), m),
		Cov:   c,
		Index: -1,
	}
}

// Diagonal builds a diagonal covariance.
func Diagonal(v ...float64) *mat.SymDense {
	c := mat.NewSymDense(len(v), nil)
	for i, x := range v {
		c.SetSym(i, i, x)
	}
	return c
}

func (s State) Clone() State {
	n := s.Mean.Len()
	c := mat.NewSymDense(n, nil)
	c.CopySym(s.Cov)
	return State{
		Mean:  mat.VecDenseCopyOf(s.Mean),
		Cov:   c,
		Index: s.Index,
	}
}

// Stddev of the observed component.
func (s State) Stddev() float64 {
	return math.Sqrt(math.Max(0, s.Cov.At(0, 0)))
}

// Filter holds the model and the observation variance. It remembers the gain of
// the most recent correction.
type Filter struct {
	model Model
	r     float64
	gain  []float64
}

func New(model Model, observationVariance float64) *Filter {
	return &Filter{model: model, r: observationVariance}
}

// ObservationVariance is R.
func (f *Filter) ObservationVariance() float64 {
	return f.r
}

// Predict advances s by dt seconds. A non-positive dt returns a copy of s.
func (f *Filter) Predict(s State, dt float64) State {
	if dt <= 0 {
		return s.Clone()
	}
	F := f.model.Transition(s.Mean, dt)
	Q := f.model.ProcessNoise(s.Mean, dt)

	var x mat.VecDense
	x.MulVec(F, s.Mean)

	var fp, fpf mat.Dense
	fp.Mul(F, s.Cov)
	fpf.Mul(&fp, F.T())
	fpf.Add(&fpf, Q)

	return State{
		Mean:  &x,
		Cov:   symmetrize(&fpf),
		Index: s.Index,
	}
}

// Correct folds the observation z of the first state component into s.
// When the innovation variance is not positive the correction is skipped and a
// copy of s is returned.
func (f *Filter) Correct(s State, z float64) State {
	n := s.Mean.Len()
	innovationVar := s.Cov.At(0, 0) + f.r
	if !(innovationVar > 0) {
		return s.Clone()
	}

	k := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		k.SetVec(i, s.Cov.At(i, 0)/innovationVar)
	}

	x := mat.VecDenseCopyOf(s.Mean)
	x.AddScaledVec(x, z-s.Mean.AtVec(0), k)

	// (I - K·H) with H = [1, 0, ...]
	ikh := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		ikh.Set(i, i, 1)
		ikh.Set(i, 0, ikh.At(i, 0)-k.AtVec(i))
	}
	var p mat.Dense
	p.Mul(ikh, s.Cov)

	f.gain = k.RawVector().Data
	return State{
		Mean:  x,
		Cov:   symmetrize(&p),
		Index: s.Index + 1,
	}
}

// Gain returns a copy of the last correction gain, nil before any correction.
func (f *Filter) Gain() []float64 {
	if f.gain == nil {
		return nil
	}
	g := make([]float64, len(f.gain))
	copy(g, f.gain)
	return g
}

// Delay approximates how many samples the filtered value lags behind a step
// change, given the current gain on the observed component. ok is false when
// no gain is available or it is outside (0, 1).
func (f *Filter) Delay() (float64, bool) {
	if len(f.gain) == 0 {
		return 0, false
	}
	k0 := f.gain[0]
	if k0 <= 0 || k0 >= 1 {
		return 0, false
	}
	count := -3 / math.Log(1-k0)
	return (count - 1) / 3, true
}

func symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return s
}
