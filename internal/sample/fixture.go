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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
)

// ReadFixture reads a "timestamp,value" CSV where timestamp is milliseconds
// from the start of the recording. A header row is allowed. Values that don't
// parse are kept as samples with Err set.
func ReadFixture(r io.Reader, start time.Time) ([]monitor.TimedSample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var samples []monitor.TimedSample
	for line := 1; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected timestamp,value", line)
		}
		ms, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: bad timestamp %q", line, record[0])
		}
		s := monitor.TimedSample{Time: start.Add(time.Duration(ms * float64(time.Millisecond)))}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil || !monitor.ValidValue(v) {
			s.Err = fmt.Errorf("%w: line %d: %q", monitor.ErrInvalidSample, line, record[1])
		}
		s.Value = v
		samples = append(samples, s)
	}
}

func ReadFixtureFile(path string, start time.Time) ([]monitor.TimedSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFixture(f, start)
}
