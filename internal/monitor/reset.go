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
	"fmt"
	"math"
)

// ResetKind says what a sample did to the filter before it was corrected.
type ResetKind int

const (
	ResetNone ResetKind = iota
	// ResetInit is the first sample of a session.
	ResetInit
	// ResetStart is power appearing after the charger was idle.
	ResetStart
	// ResetStop is power dropping to idle.
	ResetStop
	// ResetJump is a step change larger than the jump threshold.
	ResetJump
	// ResetCovariance is an outlier; only the covariance is reinitialized.
	ResetCovariance
)

// Hard reports whether the filter was reinitialized from the sample.
func (k ResetKind) Hard() bool {
	return k >= ResetInit && k <= ResetJump
}

func (k ResetKind) String() string {
	switch k {
	case ResetNone:
		return "none"
	case ResetInit:
		return "init"
	case ResetStart:
		return "start"
	case ResetStop:
		return "stop"
	case ResetJump:
		return "jump"
	case ResetCovariance:
		return "covariance"
	default:
		return fmt.Sprintf("invalid reset: %d", int(k))
	}
}

func (k ResetKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// decideReset classifies sample against the predicted power and its variance.
func decideReset(cfg Config, hasEstimate bool, predicted, predictedVar, sample float64) ResetKind {
	if !hasEstimate {
		return ResetInit
	}
	floor := cfg.PresenceThreshold
	switch {
	case predicted < floor && sample >= floor:
		return ResetStart
	case predicted >= floor && sample < floor:
		return ResetStop
	}

	residual := math.Abs(sample - predicted)
	if sample >= floor && residual/sample > cfg.JumpThreshold {
		return ResetJump
	}
	sigma := math.Sqrt(math.Max(0, predictedVar)) + cfg.Filter.MeasurementStdev
	if residual > cfg.OutlierSigmas*sigma {
		return ResetCovariance
	}
	return ResetNone
}
