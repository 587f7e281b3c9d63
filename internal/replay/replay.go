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

// Package replay runs a recorded power trace through a session on a
// simulated clock and prints every record.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/logging"
	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/TheCacophonyProject/smartcharge/internal/sample"
	"github.com/TheCacophonyProject/smartcharge/internal/sink"
	"github.com/TheCacophonyProject/smartcharge/internal/smartcharge"
	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
)

var version = "No version provided"

var log = logging.NewLogger("info")

// Recordings are timestamped from this instant so output is reproducible.
var replayEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type Args struct {
	Fixture string        `arg:"positional,required" help:"CSV file of timestamp (ms), value (W) rows"`
	Device  string        `arg:"--device" help:"Device name in the output"`
	Tail    time.Duration `arg:"--tail" help:"Keep predicting for this long after the last sample"`
	Format  string        `arg:"--format" help:"Output format: csv or json"`
	smartcharge.MonitorArgs
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	Device:      "replay",
	Tail:        time.Minute,
	Format:      "csv",
	MonitorArgs: smartcharge.DefaultMonitorArgs(),
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

// Summary describes a finished replay.
type Summary struct {
	Records    int
	Invalid    int
	Stops      int
	StopAt     time.Duration
	EnergyWh   float64
	CapacityWh float64
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)

	summary, err := replay(args, os.Stdout, log)
	if err != nil {
		return err
	}
	log.Infof("Replayed %d records, %d bad input values", summary.Records, summary.Invalid)
	if summary.Stops > 0 {
		log.Infof("Stop trigger after %s", summary.StopAt)
	} else {
		log.Info("No stop trigger")
	}
	log.Infof("Energy %.2f Wh, capacity estimate %.2f Wh", summary.EnergyWh, summary.CapacityWh)
	return nil
}

func replay(args Args, w io.Writer, log logrus.FieldLogger) (Summary, error) {
	var out monitor.Sink
	switch args.Format {
	case "csv":
		out = sink.NewCSV(w)
	case "json":
		out = sink.NewJSON(w)
	default:
		return Summary{}, fmt.Errorf("unknown format '%s'", args.Format)
	}

	samples, err := sample.ReadFixtureFile(args.Fixture, replayEpoch)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read %s: %w", args.Fixture, err)
	}
	session, err := monitor.NewSession(args.Config(), log.WithField("device", args.Device))
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	var publishErr error
	summary.Invalid = monitor.Replay(session, samples, args.Tail, func(rec monitor.Record) {
		summary.Records++
		if rec.Stop() {
			summary.Stops++
			summary.StopAt = rec.Time.Sub(replayEpoch)
		}
		if err := out.Publish(args.Device, rec); err != nil && publishErr == nil {
			publishErr = err
		}
	})
	summary.EnergyWh = session.EnergyWh()
	summary.CapacityWh = session.CapacityWh()
	return summary, publishErr
}
