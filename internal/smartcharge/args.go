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

package smartcharge

import (
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/logging"
	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
)

// MonitorArgs are the session tuning flags shared by the monitor and replay
// subcommands.
type MonitorArgs struct {
	Cutoff            float64       `arg:"--cutoff" help:"Charge percentage to stop at"`
	Efficiency        float64       `arg:"--efficiency" help:"Fraction of drawn power stored in the battery"`
	KStdev            float64       `arg:"--k-stdev" help:"Decay rate process noise, 1/s per root second"`
	PowerStdev        float64       `arg:"--power-stdev" help:"Relative power process noise per root second"`
	MeasurementStdev  float64       `arg:"--measurement-stdev" help:"Measurement noise in watts"`
	NoiseFloor        float64       `arg:"--noise-floor" help:"Decay rate in 1/h ignored by the decay detector"`
	Settle            time.Duration `arg:"--settle" help:"Time after a charge starts before the trigger can fire"`
	Tick              time.Duration `arg:"--tick" help:"Prediction interval between samples"`
	TriggerDelay      time.Duration `arg:"--trigger-delay" help:"Delay between detecting the cutoff and the stop trigger"`
	ResetTotalsOnJump bool          `arg:"--reset-totals-on-jump" help:"Clear energy and capacity when the power steps"`
	logging.LogArgs
}

func DefaultMonitorArgs() MonitorArgs {
	cfg := monitor.DefaultConfig()
	return MonitorArgs{
		Cutoff:           cfg.TargetPercent,
		Efficiency:       cfg.Efficiency,
		KStdev:           cfg.Filter.KStdev,
		PowerStdev:       cfg.Filter.PowerStdev,
		MeasurementStdev: cfg.Filter.MeasurementStdev,
		NoiseFloor:       cfg.NoiseFloor,
		Settle:           cfg.SettleTime,
		Tick:             cfg.TickPeriod,
		TriggerDelay:     cfg.TriggerDelay,
	}
}

// Config applies the flags to the default configuration.
func (a MonitorArgs) Config() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.TargetPercent = a.Cutoff
	cfg.Efficiency = a.Efficiency
	cfg.Filter.KStdev = a.KStdev
	cfg.Filter.PowerStdev = a.PowerStdev
	cfg.Filter.MeasurementStdev = a.MeasurementStdev
	cfg.NoiseFloor = a.NoiseFloor
	cfg.SettleTime = a.Settle
	cfg.TickPeriod = a.Tick
	cfg.TriggerDelay = a.TriggerDelay
	cfg.KeepTotalsOnJump = !a.ResetTotalsOnJump
	return cfg
}
