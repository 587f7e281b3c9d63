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
	"errors"
	"fmt"
	"math"
	"time"
)

// PeakChargePercent is the state of charge at which a charger is assumed to
// leave constant current and start tapering.
const PeakChargePercent = 70.0

// FilterConfig is the noise model of the power decay filter.
type FilterConfig struct {
	// KStdev is the random walk of the decay rate, 1/s per √s.
	KStdev float64
	// PowerStdev is the relative random walk of power, per √s.
	PowerStdev float64
	// MeasurementStdev is the sample noise in watts.
	MeasurementStdev float64

	InitialPowerVariance float64
	InitialRateVariance  float64
}

type Config struct {
	Filter FilterConfig

	// TargetPercent is the state of charge to stop at.
	TargetPercent float64
	// Efficiency is the fraction of drawn power that ends up in the battery.
	Efficiency float64

	// NoiseFloor is the decay rate in 1/h that the CUSUM ignores.
	NoiseFloor    float64
	DecayingUpper float64
	DecayingLower float64
	// MinCapacityCusum is the CUSUM needed before the decay rate is trusted for
	// a capacity estimate.
	MinCapacityCusum float64

	SettleTime   time.Duration
	TickPeriod   time.Duration
	TriggerDelay time.Duration

	// PresenceThreshold in watts, below it the charger is considered idle.
	PresenceThreshold float64
	// JumpThreshold is the relative step that reinitializes the filter.
	JumpThreshold float64
	// OutlierSigmas is the residual, in standard deviations, that resets the
	// covariance.
	OutlierSigmas float64

	// MinRateSamples is the number of corrections before rates are reported.
	MinRateSamples int
	// KeepTotalsOnJump keeps energy and capacity over a step change reset.
	KeepTotalsOnJump bool
}

func DefaultConfig() Config {
	return Config{
		Filter: FilterConfig{
			KStdev:               1e-5,
			PowerStdev:           5e-4,
			MeasurementStdev:     0.05,
			InitialPowerVariance: 10,
			InitialRateVariance:  math.Pow(10, -4.5),
		},
		TargetPercent:     85,
		Efficiency:        0.9,
		NoiseFloor:        0.5,
		DecayingUpper:     0.1,
		DecayingLower:     0.05,
		MinCapacityCusum:  0.3,
		SettleTime:        3 * time.Minute,
		TickPeriod:        5 * time.Second,
		TriggerDelay:      2 * time.Second,
		PresenceThreshold: 0.05,
		JumpThreshold:     0.1,
		OutlierSigmas:     3,
		MinRateSamples:    5,
		KeepTotalsOnJump:  true,
	}
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, a ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, a...))
		}
	}
	f := c.Filter
	check(f.KStdev >= 0, "decay rate stddev must not be negative: %v", f.KStdev)
	check(f.PowerStdev >= 0, "power stddev must not be negative: %v", f.PowerStdev)
	check(f.MeasurementStdev > 0, "measurement stddev must be positive: %v", f.MeasurementStdev)
	check(f.InitialPowerVariance > 0 && f.InitialRateVariance > 0, "initial variances must be positive")
	check(c.TargetPercent > PeakChargePercent && c.TargetPercent < 100,
		"target percentage must be between %v and 100: %v", PeakChargePercent, c.TargetPercent)
	check(c.Efficiency > 0 && c.Efficiency <= 1, "efficiency must be in (0, 1]: %v", c.Efficiency)
	check(c.NoiseFloor >= 0, "noise floor must not be negative: %v", c.NoiseFloor)
	check(c.DecayingLower >= 0 && c.DecayingUpper > c.DecayingLower,
		"decaying thresholds must satisfy 0 <= lower < upper: %v, %v", c.DecayingLower, c.DecayingUpper)
	check(c.TickPeriod > 0, "tick period must be positive: %v", c.TickPeriod)
	check(c.TriggerDelay >= 0 && c.SettleTime >= 0, "delays must not be negative")
	check(c.PresenceThreshold > 0, "presence threshold must be positive: %v", c.PresenceThreshold)
	check(c.JumpThreshold > 0, "jump threshold must be positive: %v", c.JumpThreshold)
	check(c.OutlierSigmas > 0, "outlier sigmas must be positive: %v", c.OutlierSigmas)
	return errors.Join(errs...)
}
