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

package sample

import (
	"context"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/smartcharge/i2crequest"
	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/sirupsen/logrus"
)

const (
	ina219ConfigReg      = 0x00
	ina219PowerReg       = 0x03
	ina219CalibrationReg = 0x05

	// 32 V bus range, ±320 mV shunt range, 12 bit continuous conversion.
	ina219DefaultConfig = 0x399F

	i2cTimeout = 1000
)

var sleepFn = time.Sleep

// INA219 polls the power register of an INA219 current monitor.
type INA219 struct {
	Address byte
	// ShuntOhms is the shunt resistor value.
	ShuntOhms float64
	// MaxCurrent in amps sets the current resolution.
	MaxCurrent float64
	Interval   time.Duration
	Device     string
	Log        logrus.FieldLogger

	powerLSB float64
}

// calibrate programs the calibration register, after which the power register
// reads in units of 20 current LSBs.
func (s *INA219) calibrate() error {
	if s.ShuntOhms <= 0 || s.MaxCurrent <= 0 {
		return fmt.Errorf("invalid INA219 shunt %v Ω or max current %v A", s.ShuntOhms, s.MaxCurrent)
	}
	currentLSB := s.MaxCurrent / 32768
	cal := uint16(0.04096 / (currentLSB * s.ShuntOhms))
	if err := i2crequest.WriteRegister16(s.Address, ina219ConfigReg, ina219DefaultConfig, i2cTimeout); err != nil {
		return fmt.Errorf("failed to configure INA219: %w", err)
	}
	if err := i2crequest.WriteRegister16(s.Address, ina219CalibrationReg, cal, i2cTimeout); err != nil {
		return fmt.Errorf("failed to calibrate INA219: %w", err)
	}
	s.powerLSB = 20 * currentLSB
	return nil
}

func (s *INA219) readPower() (float64, error) {
	raw, err := i2crequest.ReadRegister16(s.Address, ina219PowerReg, i2cTimeout)
	if err != nil {
		return 0, err
	}
	return float64(raw) * s.powerLSB, nil
}

// Run calibrates the monitor then delivers a reading every interval until ctx
// is done.
func (s *INA219) Run(ctx context.Context, deliver func(monitor.Reading) error) error {
	if err := s.calibrate(); err != nil {
		return err
	}
	s.Log.Infof("Reading power from INA219 at 0x%02x every %s", s.Address, s.Interval)
	// The first conversion completes ~600µs after calibration.
	sleepFn(time.Millisecond)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		rd := monitor.Reading{Device: s.Device}
		rd.Value, rd.Err = s.readPower()
		if err := deliver(rd); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
