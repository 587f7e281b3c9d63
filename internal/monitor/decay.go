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
	"math"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/powerdecay"
)

// decayMonitor runs a CUSUM over the hourly decay rate. A sustained decay
// above the noise floor marks the session as decaying and, once the sum says
// the target charge is reached, as finishing.
type decayMonitor struct {
	cfg Config

	cusum     float64
	decaying  bool
	finishing bool
	maxPower  float64
	// capacity in Wh, 0 until estimated.
	capacity  float64
	startTime time.Time
}

type decayUpdate struct {
	started  bool
	ended    bool
	fired    bool
	capacity bool
}

func newDecayMonitor(cfg Config) decayMonitor {
	return decayMonitor{cfg: cfg}
}

// reset starts a new charge at power. The capacity estimate is a session
// total and is left alone.
func (m *decayMonitor) reset(power float64, now time.Time) {
	m.cusum = 0
	m.decaying = false
	m.finishing = false
	m.maxPower = power
	m.startTime = now
}

func (m *decayMonitor) update(power, k, dt float64, now time.Time) decayUpdate {
	var u decayUpdate
	kHourly := powerdecay.Hourly(k)
	w := m.cfg.NoiseFloor

	increment := (kHourly - w) * dt / 3600
	m.cusum = math.Max(0, m.cusum+increment)
	if increment > 0 {
		m.cusum += w * dt / 3600
	}
	if m.cusum == 0 {
		m.maxPower = power
	}

	if !m.decaying && m.cusum > m.cfg.DecayingUpper {
		m.decaying = true
		u.started = true
	} else if m.decaying && m.cusum < m.cfg.DecayingLower {
		m.decaying = false
		u.ended = true
	}

	if !m.decaying || m.finishing || now.Sub(m.startTime) < m.cfg.SettleTime {
		return u
	}
	threshold, ok := triggerThreshold(m.cfg.TargetPercent)
	if !ok || m.cusum <= threshold {
		return u
	}
	m.finishing = true
	u.fired = true

	if m.capacity == 0 && m.cusum >= m.cfg.MinCapacityCusum {
		if c, ok := EstimateCapacity(m.maxPower, k, m.cfg.Efficiency); ok {
			m.capacity = c
			u.capacity = true
		}
	}
	return u
}

// triggerThreshold is the CUSUM, in units of decay time constants, between
// the peak charge percentage and target.
func triggerThreshold(target float64) (float64, bool) {
	arg := 1 - (target-PeakChargePercent)/(100-PeakChargePercent)
	if !(arg > 0) {
		return 0, false
	}
	return -math.Log(arg), true
}

// EstimateCapacity returns the battery capacity in Wh implied by a charge that
// started decaying from maxPower (W) at decayRate (1/s) when the battery was at
// PeakChargePercent.
func EstimateCapacity(maxPower, decayRate, efficiency float64) (float64, bool) {
	kHourly := powerdecay.Hourly(decayRate)
	if kHourly <= 0 || maxPower <= 0 {
		return 0, false
	}
	remaining := maxPower * efficiency / kHourly
	return remaining * 100 / (100 - PeakChargePercent), true
}
