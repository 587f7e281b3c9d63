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

package sink

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
)

// JSON writes one JSON object per record.
type JSON struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSON(w io.Writer) *JSON {
	return &JSON{enc: json.NewEncoder(w)}
}

type jsonRecord struct {
	Device string `json:"device"`
	monitor.Record
}

func (j *JSON) Publish(device string, rec monitor.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(jsonRecord{Device: device, Record: rec})
}

var csvHeader = []string{
	"time", "device", "value", "rate", "slope", "trigger", "decayRate",
	"cusum", "phase", "energyWh", "capacityWh", "stddev", "gain", "delay",
	"reset", "tick",
}

// CSV writes records as rows, starting with a header.
type CSV struct {
	mu          sync.Mutex
	w           *csv.Writer
	wroteHeader bool
}

func NewCSV(w io.Writer) *CSV {
	return &CSV{w: csv.NewWriter(w)}
}

func (c *CSV) Publish(device string, rec monitor.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	trigger := ""
	if rec.Trigger != nil {
		trigger = strconv.FormatBool(*rec.Trigger)
	}
	row := []string{
		rec.Time.Format(time.RFC3339Nano),
		device,
		formatFloat(rec.Value),
		formatOptional(rec.Rate),
		formatOptional(rec.Slope),
		trigger,
		formatFloat(rec.DecayRate),
		formatFloat(rec.Cusum),
		rec.Phase.String(),
		formatFloat(rec.EnergyWh),
		formatFloat(rec.CapacityWh),
		formatFloat(rec.Stddev),
		formatFloat(rec.Gain),
		formatOptional(rec.Delay),
		rec.Reset.String(),
		strconv.FormatBool(rec.Tick),
	}
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}
